package main

import (
	"context"
	"log/slog"

	"github.com/fieldstonelabs/cadagent/internal/config"
	"github.com/robfig/cron/v3"
)

// startCronJobs schedules every enabled "sync_skills" job in cfg.Cron,
// re-running the filesystem-to-database skill sync on its configured
// interval (SPEC_FULL.md §4.18). Returns nil if cron is disabled or no
// job is configured.
func startCronJobs(ctx context.Context, cfg *config.Config, configPath string) *cron.Cron {
	if !cfg.Cron.Enabled || len(cfg.Cron.Jobs) == 0 {
		return nil
	}

	c := cron.New()
	for _, job := range cfg.Cron.Jobs {
		if !job.Enabled || job.Type != "sync_skills" {
			continue
		}
		spec := job.Schedule.Cron
		if spec == "" {
			continue
		}
		jobID := job.ID
		_, err := c.AddFunc(spec, func() {
			if err := runSkillsSync(ctx, configPath); err != nil {
				slog.Warn("scheduled skill sync failed", "job_id", jobID, "error", err)
			}
		})
		if err != nil {
			slog.Warn("failed to schedule cron job", "job_id", jobID, "error", err)
		}
	}
	c.Start()
	return c
}
