package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule determines when the next run is due.
type Schedule interface {
	Next(from time.Time) time.Time
}

type every time.Duration

// Every returns a schedule due d after each run. Non-positive intervals are
// treated as one second so a reconciler never spins.
func Every(d time.Duration) Schedule {
	if d <= 0 {
		d = time.Second
	}
	return every(d)
}

func (e every) Next(from time.Time) time.Time {
	return from.Add(time.Duration(e))
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse builds a schedule from a cron expression or descriptor.
func Parse(expr string) (Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule: parse %q: %w", expr, err)
	}
	return s, nil
}

// Cron is Parse for expressions known to be valid. It panics on a bad expression.
func Cron(expr string) Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic(err.Error())
	}
	return s
}
