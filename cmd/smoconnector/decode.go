package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/protocol"
)

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <hex>...",
		Short: "Decode captured packets given as hex",
		Long: "Decode one or more packets, each a header followed by its payload,\n" +
			"written as hex. Spaces and colons are ignored. Packet types the\n" +
			"connector only sends are decoded as well.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				pkt, err := decodeHex(arg)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), describe(pkt))
			}
			return nil
		},
	}
}

// decodeHex parses a hex-encoded frame. Unlike the listener it also decodes
// payloads that are ignored on receive, as long as a codec exists.
func decodeHex(s string) (*protocol.Packet, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(s)
	frame, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}

	pkt, err := protocol.DecodeFrame(frame)
	if err != nil {
		return nil, err
	}
	if pkt.Ignored() && protocol.HasCodec(pkt.Header.Type) {
		body := frame[protocol.HeaderSize : protocol.HeaderSize+int(pkt.Header.Size)]
		payload, err := protocol.DecodePayload(pkt.Header.Type, body)
		if err != nil {
			return nil, err
		}
		pkt.Payload = payload
	}
	return pkt, nil
}

func describe(pkt *protocol.Packet) string {
	if pkt.Payload == nil {
		return pkt.Header.String() + " [no payload codec]"
	}
	return fmt.Sprintf("%s %+v", pkt.Header, pkt.Payload)
}

func newTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the packet types and their payload sizes",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printTypes(cmd.OutOrStdout())
		},
	}
}

func printTypes(w io.Writer) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Tag", "Name", "Size", "Received"})
	tw.SetBorder(true)

	for _, t := range protocol.Types() {
		size, received := "-", "ignored"
		if p, err := protocol.NewPayload(t); err == nil {
			size = strconv.Itoa(p.MaxSize())
		}
		if protocol.Decoded(t) {
			received = "decoded"
		}
		tw.Append([]string{strconv.Itoa(int(t)), t.String(), size, received})
	}
	tw.Render()
}
