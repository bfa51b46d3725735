package comfy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"server/internal/infra"
)

// Default pacing for completion polling.
const (
	DefaultPollInterval  = time.Second
	DefaultRetryInterval = 2 * time.Second
	DefaultWaitTimeout   = 300 * time.Second
)

// LostJobError reports a prompt that vanished from both history and the
// queue: the backend no longer knows about work it accepted.
type LostJobError struct {
	Handle string
}

func (e *LostJobError) Error() string {
	return fmt.Sprintf("Prompt %s not found in queue or history", e.Handle)
}

// TimeoutError reports that the overall polling budget ran out before the
// prompt reached a terminal state.
type TimeoutError struct {
	Handle  string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Prompt %s timed out after %.0f seconds", e.Handle, e.Elapsed.Seconds())
}

// StatusSource is the slice of the client the poller needs.
type StatusSource interface {
	History(ctx context.Context, id string) (*HistoryEntry, error)
	Queue(ctx context.Context) (*QueueState, error)
}

// PollerOptions configures a Poller; zero values take the package defaults.
type PollerOptions struct {
	PollInterval  time.Duration
	RetryInterval time.Duration
	Timeout       time.Duration
	Logger        *infra.Logger
}

// Poller drives the submit→status loop for one prompt at a time. Completion
// is derived from two independent signals: presence in history means done,
// presence in the queue means still in flight, absence from both means the
// job is lost.
type Poller struct {
	src           StatusSource
	pollInterval  time.Duration
	retryInterval time.Duration
	timeout       time.Duration
	logger        zerolog.Logger
}

// NewPoller wires a status source with polling policy.
func NewPoller(src StatusSource, opts PollerOptions) *Poller {
	p := &Poller{
		src:           src,
		pollInterval:  opts.PollInterval,
		retryInterval: opts.RetryInterval,
		timeout:       opts.Timeout,
		logger:        zerolog.New(io.Discard),
	}
	if p.pollInterval <= 0 {
		p.pollInterval = DefaultPollInterval
	}
	if p.retryInterval <= 0 {
		p.retryInterval = DefaultRetryInterval
	}
	if p.timeout <= 0 {
		p.timeout = DefaultWaitTimeout
	}
	if opts.Logger != nil {
		p.logger = *opts.Logger
	}
	return p
}

var errStillRunning = errors.New("comfy: prompt still in queue")

// Wait polls until the prompt completes, is lost, or the overall timeout
// elapses. Backend errors during a poll iteration are transient: they switch
// the loop to the longer retry interval without resetting the deadline.
func (p *Poller) Wait(ctx context.Context, handle string) (*HistoryEntry, error) {
	start := time.Now()
	policy := &pollPolicy{deadline: start.Add(p.timeout), next: p.pollInterval}

	var entry *HistoryEntry
	check := func() error {
		rec, err := p.src.History(ctx, handle)
		if err != nil {
			p.logger.Warn().Err(err).Str("prompt_id", handle).Msg("status check failed, retrying")
			policy.next = p.retryInterval
			return err
		}
		if rec != nil {
			entry = rec
			return nil
		}
		queue, err := p.src.Queue(ctx)
		if err != nil {
			p.logger.Warn().Err(err).Str("prompt_id", handle).Msg("queue check failed, retrying")
			policy.next = p.retryInterval
			return err
		}
		if queue.Contains(handle) {
			policy.next = p.pollInterval
			return errStillRunning
		}
		return backoff.Permanent(&LostJobError{Handle: handle})
	}

	err := backoff.Retry(check, backoff.WithContext(policy, ctx))
	if err == nil {
		return entry, nil
	}
	var lost *LostJobError
	if errors.As(err, &lost) {
		return nil, lost
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, &TimeoutError{Handle: handle, Elapsed: time.Since(start)}
}

// pollPolicy paces the wait loop: a short interval between status checks, a
// longer one after a transient failure, and a hard wall-clock deadline that
// no amount of retrying extends.
type pollPolicy struct {
	deadline time.Time
	next     time.Duration
}

func (p *pollPolicy) NextBackOff() time.Duration {
	if !time.Now().Before(p.deadline) {
		return backoff.Stop
	}
	return p.next
}

func (p *pollPolicy) Reset() {}
