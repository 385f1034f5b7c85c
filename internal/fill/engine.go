// File: internal/fill/engine.go
package fill

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/autofill-cli/api/schemas"
	"github.com/xkilldash9x/autofill-cli/internal/activity"
	"github.com/xkilldash9x/autofill-cli/internal/browser/dom"
	"github.com/xkilldash9x/autofill-cli/internal/config"
	"github.com/xkilldash9x/autofill-cli/internal/recovery"
)

var (
	// ErrRunInProgress is returned when FillForm is called during a run.
	ErrRunInProgress = errors.New("a fill run is already in progress")
	// ErrEmptyPayload is returned for a nil or empty payload.
	ErrEmptyPayload = errors.New("payload has no fields")
)

// NavigationKey is the pseudo key step navigation failures are recorded under.
const NavigationKey schemas.FieldKey = "@navigation"

// Options are the per-run settings.
type Options struct {
	Run config.RunConfig
	// MaxSteps bounds how many wizard steps a run may visit. Keys not found
	// on one step are looked for again on the next. Values below one mean one.
	MaxSteps int
}

// Engine runs fills against one page. Only one run may be active at a time.
type Engine struct {
	doc    dom.Document
	src    activity.Source
	timing config.TimingConfig
	logger *zap.Logger

	sem      *semaphore.Weighted
	progress rate.Sometimes

	mu      sync.RWMutex
	status  schemas.RunStatus
	started time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewEngine creates an engine over a page and its activity source.
func NewEngine(doc dom.Document, src activity.Source, timing config.TimingConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		doc:      doc,
		src:      src,
		timing:   timing,
		logger:   logger.Named("engine"),
		sem:      semaphore.NewWeighted(1),
		progress: rate.Sometimes{First: 1, Interval: 2 * time.Second},
		status:   schemas.RunStatus{State: schemas.RunIdle},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Status returns a snapshot of the current or last run.
func (e *Engine) Status() schemas.RunStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.status
	if s.State == schemas.RunRunning {
		s.Elapsed = time.Since(e.started)
	}
	return s
}

// run carries the per-run collaborators.
type run struct {
	cfg       config.RunConfig
	result    *schemas.RunResult
	monitor   *activity.Monitor
	resolver  *Resolver
	populator *Populator
	inspector *Inspector
	navigator *Navigator
	policy    *recovery.Policy
	logger    *zap.Logger
}

// FillForm fills the page from payload in payload order. Per-key failures
// are recorded in the result; an error is only returned when the run could
// not start.
func (e *Engine) FillForm(ctx context.Context, payload *schemas.Payload, opts Options) (*schemas.RunResult, error) {
	if !e.sem.TryAcquire(1) {
		return nil, ErrRunInProgress
	}
	defer e.sem.Release(1)

	if payload == nil || payload.Len() == 0 {
		return nil, ErrEmptyPayload
	}
	maxSteps := opts.MaxSteps
	if maxSteps < 1 {
		maxSteps = 1
	}

	r := e.newRun(payload, opts.Run)
	if err := r.monitor.Start(ctx); err != nil {
		e.finish(r.result)
		return nil, fmt.Errorf("failed to start activity monitor: %w", err)
	}
	defer r.monitor.Stop()

	r.logger.Info("Starting fill run.",
		zap.Int("fields", payload.Len()),
		zap.Int("max_steps", maxSteps),
		zap.Bool("auto_submit", r.cfg.AutoSubmit))

	pending := payload.Entries()
	for step := 1; ; step++ {
		r.result.Steps = step
		e.update(func(s *schemas.RunStatus) { s.Step = step })

		missing := e.fillStep(ctx, r, pending)
		r.monitor.WaitForQuiescence(ctx, e.timing.FinalBudget)
		// The navigator subscribes to the same source.
		r.monitor.Stop()

		advanced := false
		if ctx.Err() == nil {
			snap, ok, err := r.navigator.NavigateNext(ctx)
			if err != nil {
				r.result.AddError(NavigationKey, recovery.Classify(err, recovery.TagNavigation).ErrorKind(), err.Error())
			}
			advanced = ok
			if ok {
				r.logger.Info("Advanced to the next step.", zap.Int("step", snap.Current), zap.Int("total", snap.Total))
			} else if r.cfg.AutoSubmit {
				submitted, err := r.navigator.Complete(ctx, true)
				if err != nil {
					r.result.AddError(NavigationKey, recovery.Classify(err, recovery.TagNavigation).ErrorKind(), err.Error())
				}
				r.logger.Info("Completion attempted.", zap.Bool("submitted", submitted))
			}
		}

		if !advanced || step >= maxSteps || len(missing) == 0 || ctx.Err() != nil {
			for _, m := range missing {
				r.result.AddError(m.key, recovery.KindNotFound.ErrorKind(), m.err.Error())
			}
			e.update(func(s *schemas.RunStatus) { s.Processed += len(missing); s.Failed += len(missing) })
			break
		}

		r.logger.Info("Retrying missing fields on the next step.", zap.Int("missing", len(missing)))
		pending = pending[:0:0]
		for _, m := range missing {
			pending = append(pending, m.entry)
		}
		if err := r.monitor.Start(ctx); err != nil {
			r.logger.Warn("Could not restart activity monitor.", zap.Error(err))
		}
	}

	r.policy.Reset()
	e.finish(r.result)
	r.logger.Info("Fill run finished.",
		zap.Bool("success", r.result.Success),
		zap.Int("filled", len(r.result.FilledFields)),
		zap.Int("errors", len(r.result.Errors)),
		zap.Int("skipped", len(r.result.Skipped)),
		zap.Int("steps", r.result.Steps),
		zap.Duration("duration", r.result.Duration))
	return r.result, nil
}

func (e *Engine) newRun(payload *schemas.Payload, cfg config.RunConfig) *run {
	id := uuid.NewString()
	logger := e.logger.With(zap.String("run_id", id))
	now := time.Now()

	e.mu.Lock()
	e.started = now
	e.status = schemas.RunStatus{RunID: id, State: schemas.RunRunning, Total: payload.Len()}
	e.mu.Unlock()

	monitor := activity.NewMonitor(e.src, logger, activity.WithDebounce(e.timing.Debounce))
	retryOnError := cfg.Validation.RetryOnError
	return &run{
		cfg: cfg,
		result: &schemas.RunResult{
			RunID:        id,
			Success:      true,
			FilledFields: []schemas.FieldKey{},
			Errors:       []schemas.FieldError{},
			StartedAt:    now,
		},
		monitor: monitor,
		resolver: NewResolver(e.doc, logger,
			WithFuzzy(cfg.FieldDetection.FuzzyMatching),
			WithDetectionTimeout(cfg.FieldDetection.Timeout, monitor)),
		populator: NewPopulator(e.doc, logger,
			WithTriggerEvents(cfg.Population.TriggerEvents),
			WithSkipReadonly(cfg.Population.SkipReadonly),
			WithKeyDelay(e.timing.KeyDelayMin, e.timing.KeyDelayMax)),
		inspector: NewInspector(e.doc, cfg.Validation.WaitForValidation, logger),
		navigator: NewNavigator(e.doc, e.src, e.timing.NavigationBudget, logger, activity.WithDebounce(e.timing.Debounce)),
		policy: recovery.NewPolicy(cfg.FieldDetection.RetryAttempts, e.timing.RetryBaseDelay, logger,
			recovery.WithRetryIf(func(k recovery.Kind) bool {
				return k != recovery.KindValidation || retryOnError
			})),
		logger: logger,
	}
}

func (e *Engine) finish(result *schemas.RunResult) {
	result.Duration = time.Since(result.StartedAt)
	result.Success = len(result.Errors) == 0
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.State = schemas.RunCompleted
	e.status.Elapsed = result.Duration
}

func (e *Engine) update(fn func(*schemas.RunStatus)) {
	e.mu.Lock()
	fn(&e.status)
	s := e.status
	e.mu.Unlock()
	e.progress.Do(func() {
		e.logger.Info("Fill progress.",
			zap.Int("processed", s.Processed),
			zap.Int("total", s.Total),
			zap.Int("filled", s.Filled),
			zap.Int("failed", s.Failed))
	})
}

// missingKey is a key no element was found for on the current step.
type missingKey struct {
	key   schemas.FieldKey
	entry schemas.Entry
	err   error
}

// fillStep processes entries in order and returns the ones not found.
func (e *Engine) fillStep(ctx context.Context, r *run, entries []schemas.Entry) []missingKey {
	var missing []missingKey
	group := addressGroup(entries)
	groupDone := false

	for i, entry := range entries {
		if ctx.Err() != nil {
			for _, rest := range entries[i:] {
				r.result.AddError(rest.Key, schemas.ErrorCritical, ctx.Err().Error())
			}
			e.update(func(s *schemas.RunStatus) { s.Processed += len(entries) - i; s.Failed += len(entries) - i })
			return missing
		}
		if _, inGroup := group[entry.Key]; inGroup {
			if !groupDone {
				groupDone = true
				missing = append(missing, e.fillAddress(ctx, r, entries, group)...)
			}
			continue
		}

		e.pace(ctx, r.cfg.Population.DelayBetweenFields)
		if m, ok := e.fillKey(ctx, r, entry); ok {
			missing = append(missing, m)
		}
	}
	return missing
}

// fillKey runs resolve, populate and validate for one key under the retry
// policy. It returns the key when no element was found.
func (e *Engine) fillKey(ctx context.Context, r *run, entry schemas.Entry) (missingKey, bool) {
	key := entry.Key
	logger := r.logger.With(zap.String("key", string(key)))
	var skipReason string

	err := r.policy.WithRetry(ctx, key, recovery.TagPopulation, func(ctx context.Context, attempt int) error {
		skipReason = ""
		h, ok := r.resolver.FindField(ctx, key)
		if !ok {
			return recovery.NotFound(key)
		}
		if err := r.populator.PopulateField(ctx, h, entry.Value); err != nil {
			if reason, skip := skipped(err); skip {
				skipReason = reason
				return nil
			}
			return err
		}
		msgs, err := r.inspector.CheckField(ctx, h.First())
		if err != nil {
			return recovery.Recoverable(key, recovery.TagValidation, err)
		}
		if len(msgs) > 0 {
			return recovery.Validation(key, msgs)
		}
		return nil
	})

	switch kind := recovery.KindOf(err); {
	case err == nil && skipReason != "":
		logger.Info("Field skipped.", zap.String("reason", skipReason))
		r.result.Skipped = append(r.result.Skipped, schemas.SkippedField{Key: key, Reason: skipReason})
		e.update(func(s *schemas.RunStatus) { s.Processed++; s.Skipped++ })
	case err == nil:
		r.result.FilledFields = append(r.result.FilledFields, key)
		e.update(func(s *schemas.RunStatus) { s.Processed++; s.Filled++ })
		r.monitor.WaitForQuiescence(ctx, e.timing.QuiescenceBudget)
	case kind == recovery.KindNotFound:
		logger.Info("Field not found on this step.")
		return missingKey{key: key, entry: entry, err: err}, true
	case kind == recovery.KindValidation && r.cfg.Validation.SkipInvalidFields:
		instr, _ := r.policy.Fallback(err, recovery.TagValidation)
		logger.Info("Skipping field that failed validation.", zap.String("reason", instr.Reason))
		r.result.Skipped = append(r.result.Skipped, schemas.SkippedField{Key: key, Reason: instr.Reason})
		e.update(func(s *schemas.RunStatus) { s.Processed++; s.Skipped++ })
	default:
		logger.Warn("Failed to fill field.", zap.Stringer("kind", kind), zap.Error(err))
		r.result.AddError(key, kind.ErrorKind(), err.Error())
		e.update(func(s *schemas.RunStatus) { s.Processed++; s.Failed++ })
	}
	return missingKey{}, false
}

// fillAddress resolves the address members and fills them together.
func (e *Engine) fillAddress(ctx context.Context, r *run, entries []schemas.Entry, group map[schemas.FieldKey]AddressRole) []missingKey {
	var fields []AddressField
	byKey := make(map[schemas.FieldKey]schemas.Entry)
	for _, entry := range entries {
		role, ok := group[entry.Key]
		if !ok {
			continue
		}
		e.pace(ctx, r.cfg.Population.DelayBetweenFields)
		h, _ := r.resolver.FindField(ctx, entry.Key)
		fields = append(fields, AddressField{Key: entry.Key, Role: role, Value: entry.Value, Handle: h})
		byKey[entry.Key] = entry
	}

	settle := func(ctx context.Context) {
		r.logger.Debug("Waiting for the page to derive address fields.", zap.Duration("settle", e.timing.SettleInterval))
		sleepCtx(ctx, e.timing.SettleInterval)
	}

	var missing []missingKey
	for _, out := range r.populator.FillAddressGroup(ctx, fields, settle, e.addressMember(r)) {
		logger := r.logger.With(zap.String("key", string(out.Key)))
		switch kind := recovery.KindOf(out.Err); {
		case out.Filled:
			r.result.FilledFields = append(r.result.FilledFields, out.Key)
			e.update(func(s *schemas.RunStatus) { s.Processed++; s.Filled++ })
		case out.SkipReason != "":
			logger.Info("Field skipped.", zap.String("reason", out.SkipReason))
			r.result.Skipped = append(r.result.Skipped, schemas.SkippedField{Key: out.Key, Reason: out.SkipReason})
			e.update(func(s *schemas.RunStatus) { s.Processed++; s.Skipped++ })
		case kind == recovery.KindNotFound:
			missing = append(missing, missingKey{key: out.Key, entry: byKey[out.Key], err: out.Err})
		case kind == recovery.KindValidation && r.cfg.Validation.SkipInvalidFields:
			instr, _ := r.policy.Fallback(out.Err, recovery.TagValidation)
			logger.Info("Skipping field that failed validation.", zap.String("reason", instr.Reason))
			r.result.Skipped = append(r.result.Skipped, schemas.SkippedField{Key: out.Key, Reason: instr.Reason})
			e.update(func(s *schemas.RunStatus) { s.Processed++; s.Skipped++ })
		default:
			k := recovery.Classify(out.Err, recovery.TagPopulation)
			logger.Warn("Failed to fill field.", zap.Stringer("kind", k), zap.Error(out.Err))
			r.result.AddError(out.Key, k.ErrorKind(), out.Err.Error())
			e.update(func(s *schemas.RunStatus) { s.Processed++; s.Failed++ })
		}
	}
	r.monitor.WaitForQuiescence(ctx, e.timing.QuiescenceBudget)
	return missing
}

// addressMember populates and validates one address member under the retry
// policy, like fillKey does for a plain key.
func (e *Engine) addressMember(r *run) MemberFiller {
	return func(ctx context.Context, f AddressField) AddressOutcome {
		var skipReason string
		err := r.policy.WithRetry(ctx, f.Key, recovery.TagPopulation, func(ctx context.Context, attempt int) error {
			skipReason = ""
			if err := r.populator.PopulateField(ctx, f.Handle, f.Value); err != nil {
				if reason, skip := skipped(err); skip {
					skipReason = reason
					return nil
				}
				return err
			}
			msgs, err := r.inspector.CheckField(ctx, f.Handle.First())
			if err != nil {
				return recovery.Recoverable(f.Key, recovery.TagValidation, err)
			}
			if len(msgs) > 0 {
				return recovery.Validation(f.Key, msgs)
			}
			return nil
		})
		switch {
		case err != nil:
			return AddressOutcome{Key: f.Key, Err: err}
		case skipReason != "":
			return AddressOutcome{Key: f.Key, SkipReason: skipReason}
		default:
			return AddressOutcome{Key: f.Key, Filled: true}
		}
	}
}

// addressGroup returns the address members of entries when both trigger
// roles are present.
func addressGroup(entries []schemas.Entry) map[schemas.FieldKey]AddressRole {
	group := make(map[schemas.FieldKey]AddressRole)
	var postcode, number bool
	for _, entry := range entries {
		role, ok := AddressRoleOf(entry.Key)
		if !ok {
			continue
		}
		group[entry.Key] = role
		postcode = postcode || role == RolePostcode
		number = number || role == RoleHouseNumber
	}
	if !postcode || !number {
		return nil
	}
	return group
}

// pace waits delayBetweenFields scaled by a random factor in [0.5, 1.5).
func (e *Engine) pace(ctx context.Context, base time.Duration) {
	if base <= 0 {
		return
	}
	e.rngMu.Lock()
	factor := 0.5 + e.rng.Float64()
	e.rngMu.Unlock()
	sleepCtx(ctx, time.Duration(float64(base)*factor))
}

func skipped(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrReadOnly):
		return "read-only", true
	case errors.Is(err, ErrUnsupported):
		return "unsupported element", true
	default:
		return "", false
	}
}
