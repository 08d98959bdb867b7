package tutor

import "time"

// PollPolicy is the backoff schedule for polling a document's processing
// state: start at Initial, multiply by Multiplier up to Ceiling, give up on
// a file after PerFileTimeout. The values are product configuration, not
// protocol requirements.
type PollPolicy struct {
	Initial        time.Duration
	Multiplier     float64
	Ceiling        time.Duration
	PerFileTimeout time.Duration
}

// DefaultPollPolicy returns the stock schedule: 5s doubling by 1.5x up to
// 15s, with a two-minute per-file ceiling.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Initial:        5 * time.Second,
		Multiplier:     1.5,
		Ceiling:        15 * time.Second,
		PerFileTimeout: 120 * time.Second,
	}
}

// next returns the interval that follows cur in the schedule.
func (p PollPolicy) next(cur time.Duration) time.Duration {
	n := time.Duration(float64(cur) * p.Multiplier)
	if n > p.Ceiling {
		return p.Ceiling
	}
	return n
}
