package main

import (
	"fmt"

	"github.com/danmuck/lockstep/internal/admin"
	"github.com/danmuck/lockstep/internal/protocol/hashing"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "lockstep.toml"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "lockstepd",
		Short: "Run a replicated RPC peer",
		Long: `lockstepd runs one peer of a lockstep session. A host accepts the
configured clients over QUIC and relays every call between them; a client
dials its host. Each peer executes calls on its registered objects.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "peer config file")

	root.AddCommand(
		newRunCmd(opts),
		newConfigCmd(opts),
		newHashCmd(),
		newVersionCmd(),
	)
	return root
}

func newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <type> <method>",
		Short: "Print the wire id of a network function",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := hashing.Function(args[0], args[1])
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", hashing.Qualify(args[0], args[1]), h.Base64())
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show lockstepd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "lockstepd version %s\n", admin.Version)
			return nil
		},
	}
}
