package store

import (
	"strings"

	"github.com/pipewright/pipewright/internal/errdefs"
	"github.com/robfig/cron"
)

var presets = map[string]struct{}{
	"@once":       {},
	"@continuous": {},
	"@hourly":     {},
	"@daily":      {},
	"@weekly":     {},
	"@monthly":    {},
	"@yearly":     {},
	"@annually":   {},
	"@midnight":   {},
}

var cronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// ValidateSchedule accepts an empty schedule (manual only), a preset token
// or a five-field cron expression.
func ValidateSchedule(schedule string) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return nil
	}

	if strings.HasPrefix(schedule, "@") {
		if _, ok := presets[strings.ToLower(schedule)]; ok {
			return nil
		}
		return &errdefs.InvalidFieldError{Field: "schedule", Reason: "unknown preset " + schedule}
	}

	if _, err := cronParser.Parse(schedule); err != nil {
		return &errdefs.InvalidFieldError{Field: "schedule", Reason: err.Error()}
	}

	return nil
}
