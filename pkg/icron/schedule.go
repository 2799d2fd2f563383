package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

const maxLookback = 366 * 24 * time.Hour

type TriggerInfo struct {
	Next       time.Time `json:"next"`
	Last       time.Time `json:"last"`
	Expression string    `json:"expression"`

	TimeSinceLast time.Duration `json:"time_since_last"`
	TimeUntilNext time.Duration `json:"time_until_next"`
}

// GetTriggerInfo reports the triggers of a standard cron expression
// (five fields or a descriptor such as "@every 30s") around refTime.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       schedule.Next(refTime),
		Last:       previous(schedule, refTime),
	}
	if !info.Last.IsZero() {
		info.TimeSinceLast = refTime.Sub(info.Last)
	}
	info.TimeUntilNext = info.Next.Sub(refTime)
	return info, nil
}

// previous returns the latest trigger not after ref, or zero if there is none within a year.
func previous(schedule cron.Schedule, ref time.Time) time.Time {
	if every, ok := schedule.(cron.ConstantDelaySchedule); ok {
		return schedule.Next(ref).Add(-every.Delay)
	}

	for window := time.Minute; window <= maxLookback; window *= 2 {
		t := schedule.Next(ref.Add(-window))
		if t.IsZero() || t.After(ref) {
			continue
		}
		for {
			n := schedule.Next(t)
			if n.IsZero() || n.After(ref) {
				return t
			}
			t = n
		}
	}
	return time.Time{}
}
