package browser

import (
	"context"
	"fmt"
	"time"
)

// SettleOptions bound the network-quiet wait after navigations.
type SettleOptions struct {
	// Idle is how long the network must stay quiet.
	Idle time.Duration
	// Max caps the whole wait.
	Max time.Duration
	// Min is the least time spent waiting, even on a quiet page.
	Min time.Duration
	// Poll is the check interval.
	Poll time.Duration
}

// DefaultSettleOptions returns the standard settle timings.
func DefaultSettleOptions() SettleOptions {
	return SettleOptions{
		Idle: 500 * time.Millisecond,
		Max:  5 * time.Second,
		Min:  250 * time.Millisecond,
		Poll: 50 * time.Millisecond,
	}
}

func (o SettleOptions) withDefaults() SettleOptions {
	d := DefaultSettleOptions()
	if o.Idle <= 0 {
		o.Idle = d.Idle
	}
	if o.Max <= 0 {
		o.Max = d.Max
	}
	if o.Min < 0 {
		o.Min = 0
	}
	if o.Poll <= 0 {
		o.Poll = d.Poll
	}
	return o
}

// settleResult reports how a settle wait ended.
type settleResult struct {
	skipped  bool
	timedOut bool
	waited   time.Duration
}

// waitForSettle blocks until the page has had no page-affecting requests in
// flight for opts.Idle, or opts.Max elapses. Reaching Max is not an error.
func waitForSettle(ctx context.Context, page Page, opts SettleOptions) (settleResult, error) {
	if IsNewTabURL(page.URL()) {
		return settleResult{skipped: true}, nil
	}

	start := time.Now()
	ticker := time.NewTicker(opts.Poll)
	defer ticker.Stop()

	for {
		elapsed := time.Since(start)
		net := page.Network()
		quiet := net == nil || (net.InFlight() == 0 && time.Since(net.LastActivity()) >= opts.Idle)

		if quiet {
			if rest := opts.Min - elapsed; rest > 0 {
				timer := time.NewTimer(rest)
				select {
				case <-ctx.Done():
					timer.Stop()
					return settleResult{waited: time.Since(start)}, ctx.Err()
				case <-timer.C:
				}
			}
			return settleResult{waited: time.Since(start)}, nil
		}

		if elapsed >= opts.Max {
			return settleResult{timedOut: true, waited: elapsed}, nil
		}

		select {
		case <-ctx.Done():
			return settleResult{waited: time.Since(start)}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func loadingAdvisory(max time.Duration) string {
	return fmt.Sprintf("page may still be loading (waited %s)", max)
}
