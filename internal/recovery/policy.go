// File: internal/recovery/policy.go
package recovery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autofill-cli/api/schemas"
)

// Action is the fallback instruction for a failure that will not be retried.
type Action string

const (
	ActionSkip  Action = "skip"
	ActionRetry Action = "retry"
)

// Instruction tells the caller what to do with a failed key.
type Instruction struct {
	Action Action
	Reason string
}

// AttemptRecord tracks the retries spent on one key.
type AttemptRecord struct {
	Attempts int
	LastKind Kind
	LastErr  error
}

// SleepFunc waits for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy classifies failures and retries non-critical ones with linear
// backoff. Records live until Reset.
type Policy struct {
	maxRetries int
	baseDelay  time.Duration
	sleep      SleepFunc
	retryIf    func(Kind) bool
	logger     *zap.Logger

	mu      sync.Mutex
	records map[schemas.FieldKey]*AttemptRecord
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithSleep replaces the wait between attempts.
func WithSleep(fn SleepFunc) PolicyOption {
	return func(p *Policy) { p.sleep = fn }
}

// WithRetryIf narrows which non-critical kinds are retried.
func WithRetryIf(fn func(Kind) bool) PolicyOption {
	return func(p *Policy) { p.retryIf = fn }
}

// NewPolicy creates a policy making up to maxRetries attempts per operation.
// Values below one still allow a single attempt.
func NewPolicy(maxRetries int, baseDelay time.Duration, logger *zap.Logger, opts ...PolicyOption) *Policy {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if baseDelay < 0 {
		baseDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Policy{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		sleep:      sleepContext,
		retryIf:    func(Kind) bool { return true },
		logger:     logger.Named("recovery"),
		records:    make(map[schemas.FieldKey]*AttemptRecord),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxRetries returns the attempt bound.
func (p *Policy) MaxRetries() int { return p.maxRetries }

// Fallback maps a failure onto an instruction. not-found and validation
// resolve to skip, recoverable to retry; critical failures come back as
// the error itself.
func (p *Policy) Fallback(err error, tag string) (Instruction, error) {
	switch kind := Classify(err, tag); kind {
	case KindNotFound, KindValidation:
		return Instruction{Action: ActionSkip, Reason: err.Error()}, nil
	case KindCritical:
		return Instruction{}, err
	default:
		return Instruction{Action: ActionRetry, Reason: err.Error()}, nil
	}
}

// WithRetry runs op up to MaxRetries times for key. Attempt i is followed by
// a wait of base*i before the next one. Critical failures and kinds excluded
// by WithRetryIf return immediately. The returned error is always an *Error
// carrying the final classification.
func (p *Policy) WithRetry(ctx context.Context, key schemas.FieldKey, tag string, op func(ctx context.Context, attempt int) error) error {
	var last error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		kind := Classify(err, tag)
		last = typed(err, key, tag, kind)
		p.record(key, kind, last)

		logger := p.logger.With(
			zap.String("key", string(key)),
			zap.String("op", tag),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.maxRetries),
			zap.Stringer("kind", kind),
			zap.Error(err),
		)

		if kind == KindCritical {
			logger.Warn("Critical failure, not retrying.")
			return last
		}
		if !p.retryIf(kind) {
			logger.Info("Failure kind is not retried.")
			return last
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Critical(key, tag, ctxErr)
		}
		if attempt == p.maxRetries {
			logger.Warn("Retries exhausted.")
			break
		}

		delay := p.baseDelay * time.Duration(attempt)
		logger.Info("Attempt failed, retrying.", zap.Duration("delay", delay))
		if err := p.sleep(ctx, delay); err != nil {
			return Critical(key, tag, err)
		}
	}
	return last
}

// Record returns the attempt record for key.
func (p *Policy) Record(key schemas.FieldKey) (AttemptRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.records[key]
	if !ok {
		return AttemptRecord{}, false
	}
	return *r, true
}

// Reset discards every attempt record.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = make(map[schemas.FieldKey]*AttemptRecord)
}

func (p *Policy) record(key schemas.FieldKey, kind Kind, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.records[key]
	if !ok {
		r = &AttemptRecord{}
		p.records[key] = r
	}
	r.Attempts++
	r.LastKind = kind
	r.LastErr = err
}

// typed attaches kind to err unless it already carries one.
func typed(err error, key schemas.FieldKey, tag string, kind Kind) error {
	if KindOf(err) != KindUnknown {
		return err
	}
	return &Error{Kind: kind, Key: key, Op: tag, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
