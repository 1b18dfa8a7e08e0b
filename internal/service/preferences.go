package service

import (
	"context"

	"github.com/Strob0t/buildnotify/internal/config"
	"github.com/Strob0t/buildnotify/internal/domain/notification"
)

// PreferencesSource resolves the notification preferences of a job.
type PreferencesSource interface {
	Preferences(ctx context.Context, project string) (notification.Preferences, error)
}

// ConfigPreferences serves preferences from the notify section of the
// configuration: a per-job entry when one matches the project name exactly,
// the global defaults otherwise.
type ConfigPreferences struct {
	defaults notification.Preferences
	jobs     map[string]notification.Preferences
}

// NewConfigPreferences snapshots cfg.
func NewConfigPreferences(cfg config.Notify) *ConfigPreferences {
	jobs := make(map[string]notification.Preferences, len(cfg.Jobs))
	for name, p := range cfg.Jobs {
		jobs[name] = p
	}
	return &ConfigPreferences{defaults: cfg.Defaults, jobs: jobs}
}

// Preferences implements PreferencesSource.
func (s *ConfigPreferences) Preferences(_ context.Context, project string) (notification.Preferences, error) {
	if p, ok := s.jobs[project]; ok {
		return p, nil
	}
	return s.defaults, nil
}
