package bobsync

import "time"

// Pacer enforces the platform's mutating-requests-per-minute ceiling with a
// fixed inter-call delay. No burst allowance; 429 backoff is layered on top
// by the client, not here.
type Pacer interface {
	Delay()
}

type FixedPacer struct {
	interval time.Duration
}

// NewPacer computes the delay as ceil(60000ms / requestsPerMinute).
func NewPacer(requestsPerMinute int) *FixedPacer {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 10
	}
	ms := (60000 + int64(requestsPerMinute) - 1) / int64(requestsPerMinute)
	return &FixedPacer{interval: time.Duration(ms) * time.Millisecond}
}

func (p *FixedPacer) Delay() {
	time.Sleep(p.interval)
}

func (p *FixedPacer) Interval() time.Duration {
	return p.interval
}

// noopPacer disables pacing where no mutating calls are made.
type noopPacer struct{}

func (noopPacer) Delay() {}
