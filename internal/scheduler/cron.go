package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// CronStrategy computes firing times for cron-type schedules. It is an
// interface so the expression dialect can be swapped without touching the
// materialization logic.
type CronStrategy interface {
	// NextOccurrence returns the first firing time strictly after 'after',
	// evaluated in the given IANA timezone.
	NextOccurrence(expr, timezone string, after time.Time) (time.Time, error)

	// Validate reports whether the expression parses.
	Validate(expr string) error
}

// standardCron evaluates standard five-field cron expressions.
type standardCron struct {
	parser cron.Parser
}

func NewCronStrategy() CronStrategy {
	return &standardCron{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

func (c *standardCron) NextOccurrence(expr, timezone string, after time.Time) (time.Time, error) {
	schedule, err := c.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	loc := time.UTC
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
	}

	next := schedule.Next(after.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron expression %q never fires", expr)
	}
	return next.UTC(), nil
}

func (c *standardCron) Validate(expr string) error {
	_, err := c.parser.Parse(expr)
	return err
}
