// File: internal/fill/resolver.go
package fill

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autofill-cli/api/schemas"
	"github.com/xkilldash9x/autofill-cli/internal/browser/dom"
)

// Handle is a resolved target: one element, or a same-named radio group.
type Handle struct {
	Elements []dom.Element
	Group    bool
	// Strategy names the strategy that produced the handle.
	Strategy string
}

// Empty reports whether nothing was resolved.
func (h Handle) Empty() bool { return len(h.Elements) == 0 }

// First returns the primary element.
func (h Handle) First() dom.Element {
	if len(h.Elements) == 0 {
		return dom.Element{}
	}
	return h.Elements[0]
}

func single(el dom.Element) Handle { return Handle{Elements: []dom.Element{el}} }

// StrategyFunc maps a key to a handle. It must not change the page.
type StrategyFunc func(ctx context.Context, doc dom.Document, key schemas.FieldKey) (Handle, bool, error)

// Strategy is a named entry in the resolution cascade.
type Strategy struct {
	Name string
	Find StrategyFunc
	// Fuzzy strategies are skipped when fuzzy matching is off.
	Fuzzy bool
}

// DefaultStrategies is the resolution cascade in priority order.
var DefaultStrategies = []Strategy{
	{Name: "id", Find: byID},
	{Name: "name", Find: byName},
	{Name: "label", Find: byLabel, Fuzzy: true},
	{Name: "placeholder", Find: byPlaceholder, Fuzzy: true},
	{Name: "id-substring", Find: byIDSubstring, Fuzzy: true},
	{Name: "name-substring", Find: byNameSubstring, Fuzzy: true},
	{Name: "proximity", Find: byProximity, Fuzzy: true},
}

// proximityDepth bounds the ancestor walk of the proximity strategy.
const proximityDepth = 3

// Waiter blocks until the page settles or the budget elapses.
type Waiter interface {
	WaitForQuiescence(ctx context.Context, budget time.Duration) bool
}

// Resolver locates the element(s) for a key by running the cascade.
type Resolver struct {
	doc        dom.Document
	strategies []Strategy
	fuzzy      bool
	timeout    time.Duration
	waiter     Waiter
	poll       time.Duration
	logger     *zap.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithStrategies replaces the cascade.
func WithStrategies(s []Strategy) ResolverOption {
	return func(r *Resolver) { r.strategies = s }
}

// WithFuzzy toggles the fuzzy strategies.
func WithFuzzy(on bool) ResolverOption {
	return func(r *Resolver) { r.fuzzy = on }
}

// WithDetectionTimeout keeps re-running the cascade until a late field
// appears or the timeout elapses. Zero means a single pass.
func WithDetectionTimeout(d time.Duration, w Waiter) ResolverOption {
	return func(r *Resolver) {
		r.timeout = d
		r.waiter = w
	}
}

// NewResolver creates a resolver over doc.
func NewResolver(doc dom.Document, logger *zap.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		doc:        doc,
		strategies: DefaultStrategies,
		fuzzy:      true,
		poll:       250 * time.Millisecond,
		logger:     logger.Named("resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FindField returns the first non-empty result of the cascade. A strategy
// that errors or panics is logged and skipped.
func (r *Resolver) FindField(ctx context.Context, key schemas.FieldKey) (Handle, bool) {
	if h, ok := r.cascade(ctx, key); ok || r.timeout <= 0 {
		return h, ok
	}

	deadline := time.Now().Add(r.timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			return Handle{}, false
		}
		if r.waiter != nil {
			r.waiter.WaitForQuiescence(ctx, min(remaining, r.poll*4))
		} else if !sleepCtx(ctx, min(remaining, r.poll)) {
			return Handle{}, false
		}
		if h, ok := r.cascade(ctx, key); ok {
			r.logger.Debug("Field appeared after waiting.", zap.String("key", string(key)),
				zap.Duration("waited", r.timeout-time.Until(deadline)))
			return h, true
		}
	}
}

func (r *Resolver) cascade(ctx context.Context, key schemas.FieldKey) (Handle, bool) {
	for _, s := range r.strategies {
		if s.Fuzzy && !r.fuzzy {
			continue
		}
		if ctx.Err() != nil {
			return Handle{}, false
		}
		h, ok, err := r.run(ctx, s, key)
		if err != nil {
			r.logger.Warn("Match strategy failed, continuing cascade.",
				zap.String("key", string(key)), zap.String("strategy", s.Name), zap.Error(err))
			continue
		}
		if ok && !h.Empty() {
			h.Strategy = s.Name
			r.logger.Debug("Field resolved.", zap.String("key", string(key)),
				zap.String("strategy", s.Name), zap.Stringer("element", h.First()), zap.Bool("group", h.Group))
			return h, true
		}
	}
	return Handle{}, false
}

func (r *Resolver) run(ctx context.Context, s Strategy, key schemas.FieldKey) (h Handle, ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("strategy panicked: %v", rec)
		}
	}()
	return s.Find(ctx, r.doc, key)
}

// -- strategies --

func byID(ctx context.Context, doc dom.Document, key schemas.FieldKey) (Handle, bool, error) {
	return first(ctx, doc, fmt.Sprintf("//*[@id=%s][%s]", dom.Literal(string(key)), dom.Interactive))
}

func byName(ctx context.Context, doc dom.Document, key schemas.FieldKey) (Handle, bool, error) {
	els, err := doc.Query(ctx, dom.Root, fmt.Sprintf("//*[@name=%s][%s]", dom.Literal(string(key)), dom.Interactive))
	if err != nil {
		return Handle{}, false, err
	}
	return groupOrFirst(els)
}

// byLabel matches label text and follows either the for attribute or the
// control wrapped by the label.
func byLabel(ctx context.Context, doc dom.Document, key schemas.FieldKey) (Handle, bool, error) {
	labels, err := doc.Query(ctx, dom.Root, "//label["+dom.ContainsFold("normalize-space(.)", string(key))+"]")
	if err != nil {
		return Handle{}, false, err
	}
	for _, label := range labels {
		if forID := label.Attr("for"); forID != "" {
			if h, ok, err := first(ctx, doc, fmt.Sprintf("//*[@id=%s][%s]", dom.Literal(forID), dom.Interactive)); err != nil || ok {
				return h, ok, err
			}
		}
		wrapped, err := doc.Query(ctx, label.Ref, ".//*["+dom.Interactive+"]")
		if err != nil {
			return Handle{}, false, err
		}
		if len(wrapped) > 0 {
			return single(wrapped[0]), true, nil
		}
	}
	return Handle{}, false, nil
}

func byPlaceholder(ctx context.Context, doc dom.Document, key schemas.FieldKey) (Handle, bool, error) {
	return first(ctx, doc, "//*["+dom.Interactive+"]["+dom.ContainsFold("@placeholder", string(key))+"]")
}

func byIDSubstring(ctx context.Context, doc dom.Document, key schemas.FieldKey) (Handle, bool, error) {
	return first(ctx, doc, "//*["+dom.Interactive+"]["+dom.ContainsFold("@id", string(key))+"]")
}

func byNameSubstring(ctx context.Context, doc dom.Document, key schemas.FieldKey) (Handle, bool, error) {
	els, err := doc.Query(ctx, dom.Root, "//*["+dom.Interactive+"]["+dom.ContainsFold("@name", string(key))+"]")
	if err != nil {
		return Handle{}, false, err
	}
	if len(els) == 0 {
		return Handle{}, false, nil
	}
	// The group rule applies to the elements sharing the first match's name.
	name := els[0].Name()
	same := els[:0:0]
	for _, el := range els {
		if el.Name() == name {
			same = append(same, el)
		}
	}
	return groupOrFirst(same)
}

// byProximity finds text nodes mentioning the key and looks for a control
// near them, widening one ancestor at a time.
func byProximity(ctx context.Context, doc dom.Document, key schemas.FieldKey) (Handle, bool, error) {
	// Innermost elements whose own text contains the key.
	expr := "//body//*[not(self::script or self::style or self::option)][text()[" +
		dom.ContainsFold("normalize-space(.)", string(key)) + "]]"
	anchors, err := doc.Query(ctx, dom.Root, expr)
	if err != nil {
		return Handle{}, false, err
	}
	for _, anchor := range anchors {
		for level := 0; level <= proximityDepth; level++ {
			scope := "."
			if level > 0 {
				scope = strings.TrimSuffix(strings.Repeat("../", level), "/")
			}
			els, err := doc.Query(ctx, anchor.Ref, scope+"//*["+dom.Interactive+"]")
			if err != nil {
				return Handle{}, false, err
			}
			if len(els) > 0 {
				return single(els[0]), true, nil
			}
		}
	}
	return Handle{}, false, nil
}

func first(ctx context.Context, doc dom.Document, expr string) (Handle, bool, error) {
	els, err := doc.Query(ctx, dom.Root, expr)
	if err != nil || len(els) == 0 {
		return Handle{}, false, err
	}
	return single(els[0]), true, nil
}

// groupOrFirst returns all elements as a group when every one is a radio,
// otherwise only the first.
func groupOrFirst(els []dom.Element) (Handle, bool, error) {
	if len(els) == 0 {
		return Handle{}, false, nil
	}
	for _, el := range els {
		if el.Category() != dom.CategoryRadio {
			return single(els[0]), true, nil
		}
	}
	return Handle{Elements: els, Group: true}, true, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
