package unitofwork

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Simulate is the walking-skeleton unit of work: it sleeps for a
// configurable duration, ticking progress, and echoes the input back as
// the result.
type Simulate struct {
	DefaultDuration time.Duration
}

type simulateParams struct {
	DurationSeconds float64 `json:"durationSeconds"`
}

func (s *Simulate) Execute(ctx context.Context, exec Execution) (*Result, error) {
	duration := s.DefaultDuration
	if duration <= 0 {
		duration = 2 * time.Second
	}

	if exec.Params != "" {
		var p simulateParams
		if err := json.Unmarshal([]byte(exec.Params), &p); err != nil {
			return nil, fmt.Errorf("invalid simulate params: %w", err)
		}
		if p.DurationSeconds > 0 {
			duration = time.Duration(p.DurationSeconds * float64(time.Second))
		}
	}

	const ticks = 10
	ticker := time.NewTicker(duration / ticks)
	defer ticker.Stop()

	for i := 1; i <= ticks; i++ {
		select {
		case <-ticker.C:
			if exec.Progress != nil {
				exec.Progress(float64(i) / ticks)
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("simulated work canceled: %w", ctx.Err())
		}
	}

	return &Result{Output: exec.Input}, nil
}
