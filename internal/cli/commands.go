// Package cli implements the interactive operator console. It reads one
// command per line and drives the session manager directly.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/config"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/db"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/events"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/protocol"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/session"
)

var errQuit = errors.New("quit")

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	sessions *session.Manager
	store    *db.CheckStore

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading from in and writing to out. store may be nil.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, sessions *session.Manager, store *db.CheckStore, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		sessions: sessions,
		store:    store,
		in:       in,
		out:      out,
	}
}

// Start runs the console until ctx is cancelled, input ends, or the
// operator quits. Quitting emits a shutdown event.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nConnector console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "smo> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			err := c.Execute(ctx, line)
			if errors.Is(err, errQuit) {
				fmt.Fprintln(c.out, "Shutting down...")
				c.eventBus.Emit(ctx, events.Event{Type: events.EventShutdown, Source: "cli"})
				return
			}
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// Execute runs a single command line.
func (c *CLI) Execute(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "client":
		return c.cmdClient(args)
	case "checks":
		return c.cmdChecks(ctx, args)
	case "item":
		return c.cmdItem(ctx, args)
	case "filler":
		return c.cmdFiller(ctx, args)
	case "shine":
		return c.cmdShine(ctx, args)
	case "stage":
		return c.cmdStage(ctx, args)
	case "chat":
		return c.cmdChat(ctx, args)
	case "deathlink":
		return c.cmdDeathLink(ctx)
	case "slotdata":
		return c.cmdSlotData(ctx, args)
	case "quit", "exit", "q":
		return errQuit
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprint(c.out, `
Commands:
  status                       List connected clients
  client <id>                  Show one client
  checks <id> [kind]           List recorded checks (shine, item, filler)
  item <id> <kind> <name...>   Send an item
  filler <id> <kind>           Send a filler item
  shine <id> <uid>             Send a shine
  stage <id> <stage> [scen]    Move a client to a stage
  chat <id|all> <text...>      Send a chat message
  deathlink                    Kill every connected player
  slotdata [<key> <value>]     Show or update slot data and resend it
  quit                         Stop the connector
  help                         Show this help message

Client ids may be shortened to any unique prefix of a connected client.
`)
}

func (c *CLI) printStatus() {
	clients := c.sessions.Clients()
	if len(clients) == 0 {
		fmt.Fprintln(c.out, "No clients connected.")
		return
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Client", "Remote", "Mode", "World", "Scenario", "Shines", "Items", "Fillers", "Connected"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, info := range clients {
		tw.Append([]string{
			info.ID.String(),
			info.Remote,
			info.Mode,
			strconv.Itoa(int(info.World)),
			strconv.Itoa(int(info.Scenario)),
			strconv.Itoa(info.Shines),
			strconv.Itoa(info.Items),
			strconv.Itoa(info.Fillers),
			time.Since(info.ConnectedAt).Truncate(time.Second).String(),
		})
	}
	tw.Render()
}

func (c *CLI) cmdClient(args []string) error {
	id, err := c.resolveClient(args)
	if err != nil {
		return err
	}
	info, err := c.sessions.Client(id)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "  Client:       %s\n", info.ID)
	fmt.Fprintf(c.out, "  Remote:       %s\n", info.Remote)
	fmt.Fprintf(c.out, "  Mode:         %s\n", info.Mode)
	fmt.Fprintf(c.out, "  Connected:    %s\n", info.ConnectedAt.Format(time.RFC3339))
	fmt.Fprintf(c.out, "  Last packet:  %s\n", info.LastActivity.Format(time.RFC3339))
	fmt.Fprintf(c.out, "  Progress:     world %d, scenario %d\n", info.World, info.Scenario)
	fmt.Fprintf(c.out, "  Checks:       %d shines, %d items, %d fillers\n", info.Shines, info.Items, info.Fillers)
	fmt.Fprintf(c.out, "  Packets:      %d in, %d out\n", info.PacketsIn, info.PacketsOut)
	return nil
}

func (c *CLI) cmdChecks(ctx context.Context, args []string) error {
	if c.store == nil {
		return fmt.Errorf("check ledger is not available")
	}
	id, err := c.resolveClient(args)
	if err != nil {
		return err
	}
	kind := ""
	if len(args) > 1 {
		kind = args[1]
	}

	checks, err := c.store.Checks(ctx, id, kind, 0)
	if err != nil {
		return err
	}
	if len(checks) == 0 {
		fmt.Fprintln(c.out, "No checks recorded.")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Kind", "Location", "Name", "Recorded"})
	tw.SetBorder(true)
	for _, chk := range checks {
		tw.Append([]string{
			chk.Kind,
			strconv.Itoa(int(chk.Location)),
			chk.Name,
			chk.RecordedAt.Format(time.DateTime),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdItem(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: item <id> <kind> <name>")
	}
	id, err := c.resolveClient(args)
	if err != nil {
		return err
	}
	kind, err := parseInt32(args[1], "kind")
	if err != nil {
		return err
	}
	name := strings.Join(args[2:], " ")
	if err := c.sessions.SendItem(ctx, id, name, kind); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Sent item %q to %s\n", name, id)
	return nil
}

func (c *CLI) cmdFiller(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: filler <id> <kind>")
	}
	id, err := c.resolveClient(args)
	if err != nil {
		return err
	}
	kind, err := parseInt32(args[1], "kind")
	if err != nil {
		return err
	}
	if err := c.sessions.SendFiller(ctx, id, kind); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Sent filler %d to %s\n", kind, id)
	return nil
}

func (c *CLI) cmdShine(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: shine <id> <uid>")
	}
	id, err := c.resolveClient(args)
	if err != nil {
		return err
	}
	shine, err := parseInt32(args[1], "shine uid")
	if err != nil {
		return err
	}
	if err := c.sessions.SendShine(ctx, id, shine); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Sent shine %d to %s\n", shine, id)
	return nil
}

func (c *CLI) cmdStage(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: stage <id> <stage> [scenario]")
	}
	id, err := c.resolveClient(args)
	if err != nil {
		return err
	}
	scenario := protocol.DefaultScenario
	if len(args) > 2 {
		n, err := strconv.ParseInt(args[2], 10, 8)
		if err != nil {
			return fmt.Errorf("invalid scenario: %s", args[2])
		}
		scenario = int8(n)
	}
	if err := c.sessions.SendChangeStage(ctx, id, args[1], "", scenario); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Sent %s to %s (scenario %d)\n", id, args[1], scenario)
	return nil
}

func (c *CLI) cmdChat(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: chat <id|all> <text>")
	}
	text := strings.Join(args[1:], " ")

	if strings.EqualFold(args[0], "all") {
		reached, err := c.sessions.BroadcastChat(ctx, text)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Chat sent to %d clients\n", reached)
		return nil
	}

	id, err := c.resolveClient(args)
	if err != nil {
		return err
	}
	for _, lines := range session.SplitChat(text) {
		if err := c.sessions.SendChat(ctx, id, lines...); err != nil {
			return err
		}
	}
	fmt.Fprintf(c.out, "Chat sent to %s\n", id)
	return nil
}

func (c *CLI) cmdDeathLink(ctx context.Context) error {
	reached, err := c.sessions.BroadcastDeathLink(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Death link sent to %d clients\n", reached)
	return nil
}

// cmdSlotData prints slot data, or updates one field, saves the config,
// and resends slot data to every connected client.
func (c *CLI) cmdSlotData(ctx context.Context, args []string) error {
	if len(args) == 0 {
		sd := c.cfg.GetSlotData()
		fmt.Fprintf(c.out, "  clash=%d raid=%d regionals=%v captures=%v\n", sd.Clash, sd.Raid, sd.Regionals, sd.Captures)
		return nil
	}
	if len(args) != 2 {
		return fmt.Errorf("usage: slotdata <key> <value>")
	}

	key := args[0]
	value, err := parseSlotValue(args[1])
	if err != nil {
		return err
	}
	if err := c.cfg.UpdateSlotField(key, value); err != nil {
		return err
	}
	if err := c.cfg.Save(); err != nil {
		log.Warn().Err(err).Msg("CLI: failed to save config")
	}
	c.eventBus.Emit(ctx, events.Event{
		Type:   events.EventConfigChanged,
		Source: "cli",
		Payload: events.ConfigChangedPayload{
			Section: "slot_data",
			Key:     key,
			Value:   value,
		},
	})

	resent := 0
	for _, info := range c.sessions.Clients() {
		if err := c.sessions.SendSlotData(ctx, info.ID); err == nil {
			resent++
		}
	}
	fmt.Fprintf(c.out, "slot_data.%s = %v (resent to %d clients)\n", key, value, resent)
	return nil
}

// resolveClient reads a client id from args[0]. A full uuid is accepted as
// is; anything shorter must prefix exactly one connected client.
func (c *CLI) resolveClient(args []string) (uuid.UUID, error) {
	if len(args) == 0 {
		return uuid.Nil, fmt.Errorf("client id required")
	}
	arg := strings.ToLower(args[0])
	if id, err := uuid.Parse(arg); err == nil {
		return id, nil
	}

	var match uuid.UUID
	found := 0
	for _, info := range c.sessions.Clients() {
		if strings.HasPrefix(info.ID.String(), arg) {
			match = info.ID
			found++
		}
	}
	switch found {
	case 0:
		return uuid.Nil, fmt.Errorf("%w: %s", session.ErrClientNotFound, args[0])
	case 1:
		return match, nil
	default:
		return uuid.Nil, fmt.Errorf("client prefix %q is ambiguous", args[0])
	}
}

func parseInt32(s, what string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", what, s)
	}
	return int32(n), nil
}

func parseSlotValue(s string) (interface{}, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b, nil
	}
	return nil, fmt.Errorf("invalid value: %s", s)
}
