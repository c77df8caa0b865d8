package main

import (
	"fmt"

	"github.com/danmuck/lockstep/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or validate peer config files",
	}

	var role, output string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template for a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := output
			if target == "" {
				target = opts.configPath
			}
			if err := config.WriteTemplate(target, role, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config template to %s\n", role, target)
			return nil
		},
	}
	initCmd.Flags().StringVar(&role, "role", "host", "template role: host|client")
	initCmd.Flags().StringVar(&output, "output", "", "output path (defaults to --config)")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s config for %q at %s\n", p.Role, p.ID, opts.configPath)
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
