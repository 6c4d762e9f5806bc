package service

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/agentswarm/agentswarm/internal/store"
)

// SeedSchedule is one schedule definition from a seed file.
type SeedSchedule struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	Task          string   `yaml:"task"`
	Cron          string   `yaml:"cron"`
	Timezone      string   `yaml:"timezone"`
	IntervalMs    int64    `yaml:"intervalMs"`
	TargetAgentID string   `yaml:"targetAgentId"`
	Priority      int      `yaml:"priority"`
	Tags          []string `yaml:"tags"`
	Enabled       *bool    `yaml:"enabled"`
}

type seedFile struct {
	Schedules []SeedSchedule `yaml:"schedules"`
}

// LoadSeedFile parses a schedule seed file. A missing file is not an
// error; it returns an empty list.
func LoadSeedFile(path string) ([]SeedSchedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return f.Schedules, nil
}

// SyncSeeds creates any seed schedule that does not exist yet. Existing
// schedules are left alone so operator edits survive restarts.
func (s *Service) SyncSeeds(ctx context.Context, seeds []SeedSchedule) error {
	for _, seed := range seeds {
		if _, err := s.repo.GetScheduleByName(ctx, seed.Name); err == nil {
			continue
		} else if !store.IsNotFound(err) {
			return err
		}

		_, err := s.CreateSchedule(ctx, &CreateScheduleRequest{
			Name:           seed.Name,
			Description:    seed.Description,
			TaskTemplate:   seed.Task,
			CronExpression: seed.Cron,
			Timezone:       seed.Timezone,
			IntervalMs:     seed.IntervalMs,
			TargetAgentID:  seed.TargetAgentID,
			Priority:       seed.Priority,
			Tags:           seed.Tags,
			Enabled:        seed.Enabled,
		})
		if err != nil {
			s.logger.Warn("failed to seed schedule",
				zap.String("name", seed.Name),
				zap.Error(err))
			continue
		}
		s.logger.Info("seeded schedule", zap.String("name", seed.Name))
	}
	return nil
}
