package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fieldstonelabs/cadagent/internal/service"
)

func buildServiceCmd() *cobra.Command {
	var configPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install or restart cadagent as a user-level background service",
	}

	install := &cobra.Command{
		Use:   "install",
		Short: "Write a user-level systemd/launchd unit that runs cadagent serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := service.InstallUserService(resolveConfigPath(configPath), overwrite)
			if err != nil {
				return fmt.Errorf("install service: %w", err)
			}
			fmt.Printf("wrote %s\n", result.Path)
			for _, step := range result.Instructions {
				fmt.Println(step)
			}
			return nil
		},
	}
	install.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	install.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite an existing unit file")

	restart := &cobra.Command{
		Use:   "restart",
		Short: "Reload and restart the installed cadagent service",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := service.RestartUserService(cmd.Context())
			for _, step := range steps {
				fmt.Println(step)
			}
			if err != nil {
				return fmt.Errorf("restart service: %w", err)
			}
			return nil
		},
	}

	cmd.AddCommand(install, restart)
	return cmd
}
