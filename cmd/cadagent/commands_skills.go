package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func buildSkillsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect and sync filesystem-defined skills",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")

	cmd.AddCommand(buildSkillsListCmd(&configPath), buildSkillsSyncCmd(&configPath))
	return cmd
}

func buildSkillsListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List enabled skills under the configured skills directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer rt.Close()

			ids, err := rt.skillsLoader.ListIDs()
			if err != nil {
				return fmt.Errorf("list skills: %w", err)
			}
			for _, id := range ids {
				skill, err := rt.skillsLoader.Load(cmd.Context(), id)
				if err != nil {
					fmt.Printf("%s\t(error: %v)\n", id, err)
					continue
				}
				if skill == nil {
					fmt.Printf("%s\t(disabled)\n", id)
					continue
				}
				fmt.Printf("%s\t%s\t%v\n", skill.ID, skill.Name, skill.ToolSet)
			}
			return nil
		},
	}
}

func buildSkillsSyncCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Sync filesystem skills into the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.db == nil {
				return fmt.Errorf("sync_skills requires database.url to be set")
			}

			summary, err := rt.skillsLoader.SyncToDatabase(cmd.Context(), rt.db)
			if err != nil {
				return fmt.Errorf("sync skills: %w", err)
			}

			fmt.Printf("created: %v\n", summary.Created)
			fmt.Printf("updated: %v\n", summary.Updated)
			for _, e := range summary.Errors {
				fmt.Printf("error syncing %s: %v\n", e.SkillID, e.Err)
			}
			return nil
		},
	}
}

// runSkillsSync is the entry point a cron job (SPEC_FULL.md §4.18's
// scheduled sync_to_database pass) invokes on an interval.
func runSkillsSync(ctx context.Context, configPath string) error {
	rt, err := buildRuntime(configPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.db == nil {
		return fmt.Errorf("sync_skills requires database.url to be set")
	}
	_, err = rt.skillsLoader.SyncToDatabase(ctx, rt.db)
	return err
}
