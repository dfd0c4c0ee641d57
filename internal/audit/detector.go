package audit

import (
	"context"
	"errors"
	"fmt"

	"auditlog/pkg/requestcontext"
)

// Detector flags LOGIN_FAILURE events that follow too many recent failures from
// the same IP address or for the same account.
//
// Classification runs before the candidate is appended, so the store counts
// only prior failures; the candidate itself is the next one. With a threshold
// of five, the fifth failure in the window is the first suspicious one.
// Concurrent recordings may both observe a count just below the threshold;
// that undercount is accepted.
type Detector struct {
	counter FailureCounter
}

// NewDetector builds a detector over the store's window counts.
func NewDetector(counter FailureCounter) (*Detector, error) {
	if counter == nil {
		return nil, errors.New("failure counter is required")
	}
	return &Detector{counter: counter}, nil
}

// Classify reports whether a candidate event is suspicious. Only LOGIN_FAILURE
// can ever be suspicious. Both counts use the same "now", taken from the
// request-scoped clock.
func (d *Detector) Classify(ctx context.Context, t EventType, ip, email string) (bool, error) {
	if t != EventLoginFailure {
		return false, nil
	}

	since := requestcontext.Now(ctx).Add(-SuspicionWindow)

	byIP, err := d.counter.CountByIP(ctx, EventLoginFailure, ip, since)
	if err != nil {
		return false, fmt.Errorf("count failures by ip: %w", err)
	}
	if byIP+1 >= IPFailureThreshold {
		return true, nil
	}

	if email == "" {
		return false, nil
	}
	byEmail, err := d.counter.CountByEmail(ctx, EventLoginFailure, email, since)
	if err != nil {
		return false, fmt.Errorf("count failures by email: %w", err)
	}
	return byEmail+1 >= EmailFailureThreshold, nil
}
