package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vango-dev/netsync/internal/config"
	neterrors "github.com/vango-dev/netsync/internal/errors"
)

func configCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and check configuration files",
	}
	cmd.AddCommand(configInitCmd(), configCheckCmd(g))
	return cmd
}

func configInitCmd() *cobra.Command {
	var (
		asYAML bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a config file with the default settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if config.Exists(dir) && !force {
				return neterrors.New("E120").WithSubject(dir).
					WithDetail("A configuration file already exists.").
					WithSuggestion("Pass --force to overwrite it")
			}
			name := config.ConfigFileName
			if asYAML {
				name = "netsync.yaml"
			}
			path := filepath.Join(dir, name)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return neterrors.New("E083").WithSubject(dir).Wrap(err)
			}
			if err := config.New().SaveTo(path); err != nil {
				return err
			}
			success("Created %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Write YAML instead of JSON")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	return cmd
}

func configCheckCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load and validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg *config.Config
				err error
			)
			if g.configPath != "" {
				cfg, err = config.LoadFile(g.configPath)
			} else {
				cfg, err = config.LoadFromWorkingDir()
			}
			if err != nil {
				return err
			}
			success("%s is valid", cfg.Path())
			info("Server:     %s (%d Hz, %d slots)", cfg.ServerAddress(), cfg.Server.TickRate, cfg.Server.MaxClients)
			info("Interp:     %s", cfg.InterpMode())
			info("Prediction: %t", cfg.Prediction.Enabled)
			if len(cfg.Master.URLs) > 0 {
				info("Masters:    %d, every %s", len(cfg.Master.URLs), cfg.MasterInterval())
			}
			return nil
		},
	}
}
