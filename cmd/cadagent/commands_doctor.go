package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func buildDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that configuration, the database, and the skills directory are usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

func runDoctor(configPath string) error {
	ok := true

	rt, err := buildRuntime(configPath)
	if err != nil {
		fmt.Printf("[FAIL] config/runtime: %v\n", err)
		return err
	}
	defer rt.Close()
	fmt.Println("[ OK ] config loaded")

	if rt.db != nil {
		if err := rt.db.Ping(); err != nil {
			fmt.Printf("[FAIL] database: %v\n", err)
			ok = false
		} else {
			fmt.Println("[ OK ] database reachable")
		}
	} else {
		fmt.Println("[WARN] database not configured (database_operation tool will report errors)")
	}

	if info, err := os.Stat(rt.cfg.CAD.SkillsDir); err != nil || !info.IsDir() {
		fmt.Printf("[WARN] skills directory %q not found\n", rt.cfg.CAD.SkillsDir)
	} else {
		ids, err := rt.skillsLoader.ListIDs()
		if err != nil {
			fmt.Printf("[FAIL] skills directory: %v\n", err)
			ok = false
		} else {
			fmt.Printf("[ OK ] skills directory: %d skill(s)\n", len(ids))
		}
	}

	if rt.onlineMemory.Enabled() {
		fmt.Println("[ OK ] online memory adapter enabled")
	} else {
		fmt.Println("[WARN] online memory adapter disabled (ONLINE_MEMORY_BASE_URL not set)")
	}

	if !ok {
		return fmt.Errorf("doctor found failing checks")
	}
	return nil
}
