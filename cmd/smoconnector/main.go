// smoconnector bridges Super Mario Odyssey Archipelago mod clients to the
// multiworld. It accepts the mod's binary TCP protocol, records every check
// a client reports, relays death links, and exposes a REST API, an MQTT
// feed, and an interactive console for sending items back to players.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/config"
	"github.com/UmedMuzl/SuperMarioOdysseyArchipelago/internal/util"
)

const Banner = `
  ____  __  __  ___
 / ___||  \/  |/ _ \    Archipelago
 \___ \| |\/| | | | |   connector
  ___) | |  | | |_| |
 |____/|_|  |_|\___/    v%s
`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts serveOptions

	root := &cobra.Command{
		Use:           "smoconnector",
		Short:         "Super Mario Odyssey Archipelago connector",
		Version:       util.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the game listener, REST API, and console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	for _, c := range []*cobra.Command{root, serve} {
		flags := c.Flags()
		flags.StringVarP(&opts.configDir, "config", "c", config.DefaultConfigDir, "configuration directory")
		flags.StringVar(&opts.logLevel, "log-level", "", "override the configured log level")
		flags.IntVarP(&opts.port, "port", "p", 0, "override the game listener port")
		flags.BoolVar(&opts.noConsole, "no-console", false, "disable the interactive console")
	}

	root.AddCommand(serve, newInitCmd(), newDecodeCmd(), newTypesCmd(), newVersionCmd())
	return root
}

func newInitCmd() *cobra.Command {
	var configDir string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create or edit the configuration interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}
			return config.RunSetupWizard(cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configDir, "config", "c", config.DefaultConfigDir, "configuration directory")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", util.AppName, util.Version)
		},
	}
}
