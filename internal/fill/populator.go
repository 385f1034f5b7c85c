// File: internal/fill/populator.go
package fill

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autofill-cli/api/schemas"
	"github.com/xkilldash9x/autofill-cli/internal/browser/dom"
)

var (
	// ErrReadOnly is returned for read-only or disabled targets when
	// read-only skipping is on. The element is left untouched.
	ErrReadOnly = errors.New("element is read-only")
	// ErrUnsupported is returned for elements no value can be written into.
	ErrUnsupported = errors.New("unsupported element")
)

// Default per-character delay bounds.
const (
	DefaultKeyDelayMin = 35 * time.Millisecond
	DefaultKeyDelayMax = 125 * time.Millisecond
)

// radioAliases maps payload values onto the codes Dutch forms commonly use.
var radioAliases = map[string][]string{
	"man":   {"M"},
	"vrouw": {"V"},
	"ja":    {"J"},
	"nee":   {"N"},
	"true":  {"J", "ja", "yes"},
	"false": {"N", "nee", "no"},
}

// Populator writes values into resolved elements the way a user would.
type Populator struct {
	doc           dom.Document
	logger        *zap.Logger
	triggerEvents bool
	skipReadonly  bool
	keyMin        time.Duration
	keyMax        time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// PopulatorOption configures a Populator.
type PopulatorOption func(*Populator)

// WithTriggerEvents toggles simulated keyboard and change events for text
// fields. When off, the value is written directly.
func WithTriggerEvents(on bool) PopulatorOption {
	return func(p *Populator) { p.triggerEvents = on }
}

// WithSkipReadonly makes read-only targets return ErrReadOnly.
func WithSkipReadonly(on bool) PopulatorOption {
	return func(p *Populator) { p.skipReadonly = on }
}

// WithKeyDelay sets the uniform per-character delay range.
func WithKeyDelay(lo, hi time.Duration) PopulatorOption {
	return func(p *Populator) {
		if lo < 0 {
			lo = 0
		}
		if hi < lo {
			hi = lo
		}
		p.keyMin, p.keyMax = lo, hi
	}
}

// WithRand seeds the delay jitter.
func WithRand(rng *rand.Rand) PopulatorOption {
	return func(p *Populator) { p.rng = rng }
}

// NewPopulator creates a populator over doc.
func NewPopulator(doc dom.Document, logger *zap.Logger, opts ...PopulatorOption) *Populator {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Populator{
		doc:           doc,
		logger:        logger.Named("populator"),
		triggerEvents: true,
		skipReadonly:  true,
		keyMin:        DefaultKeyDelayMin,
		keyMax:        DefaultKeyDelayMax,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PopulateField writes value into the handle's element(s). An unmatched
// radio or select value is logged and leaves the element unchanged.
func (p *Populator) PopulateField(ctx context.Context, h Handle, value schemas.FieldValue) error {
	if h.Empty() {
		return dom.ErrNotFound
	}
	el := h.First()
	if p.skipReadonly && el.ReadOnly() {
		return fmt.Errorf("%s: %w", el, ErrReadOnly)
	}

	switch el.Category() {
	case dom.CategoryText:
		return p.fillText(ctx, el, value.String())
	case dom.CategoryCheckbox:
		return p.setCheckbox(ctx, el, value.Bool())
	case dom.CategoryRadio:
		return p.selectRadio(ctx, h, value.String())
	case dom.CategorySelect:
		return p.selectOption(ctx, el, value.String())
	default:
		return fmt.Errorf("%s: %w", el, ErrUnsupported)
	}
}

// fillText focuses, clears, types value one character at a time, then
// commits with change and blur.
func (p *Populator) fillText(ctx context.Context, el dom.Element, value string) error {
	if !p.triggerEvents {
		return p.doc.SetValue(ctx, el.Ref, value)
	}

	if err := p.doc.Focus(ctx, el.Ref); err != nil {
		return fmt.Errorf("failed to focus %s: %w", el, err)
	}
	if err := p.doc.SetValue(ctx, el.Ref, ""); err != nil {
		return fmt.Errorf("failed to clear %s: %w", el, err)
	}

	runes := []rune(value)
	var typed strings.Builder
	for i, r := range runes {
		ch := string(r)
		if err := p.doc.Dispatch(ctx, el.Ref, dom.Event{Type: "keydown", Key: ch}); err != nil {
			return err
		}
		typed.WriteString(ch)
		if err := p.doc.SetValue(ctx, el.Ref, typed.String()); err != nil {
			return fmt.Errorf("failed to type into %s: %w", el, err)
		}
		if err := p.doc.Dispatch(ctx, el.Ref, dom.Event{Type: "input", Key: ch}); err != nil {
			return err
		}
		if err := p.doc.Dispatch(ctx, el.Ref, dom.Event{Type: "keyup", Key: ch}); err != nil {
			return err
		}
		if i < len(runes)-1 {
			if !sleepCtx(ctx, p.keyDelay()) {
				return ctx.Err()
			}
		}
	}

	if err := p.doc.Dispatch(ctx, el.Ref, dom.Event{Type: "change"}); err != nil {
		return err
	}
	return p.doc.Blur(ctx, el.Ref)
}

func (p *Populator) keyDelay() time.Duration {
	if p.keyMax <= p.keyMin {
		return p.keyMin
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keyMin + time.Duration(p.rng.Int63n(int64(p.keyMax-p.keyMin)+1))
}

func (p *Populator) setCheckbox(ctx context.Context, el dom.Element, want bool) error {
	checked, err := p.doc.Checked(ctx, el.Ref)
	if err != nil {
		return err
	}
	if checked == want {
		return nil
	}
	return p.doc.Click(ctx, el.Ref)
}

// selectRadio picks the option matching value: exact value, then a
// single-character code, then label text, then the text right before the
// radio. Aliases are tried with the same rules when value itself misses.
func (p *Populator) selectRadio(ctx context.Context, h Handle, value string) error {
	options, err := p.radioGroup(ctx, h)
	if err != nil {
		return err
	}

	candidates := append([]string{value}, radioAliases[strings.ToLower(strings.TrimSpace(value))]...)
	for _, c := range candidates {
		match, ok, err := p.matchRadio(ctx, options, c)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		checked, err := p.doc.Checked(ctx, match.Ref)
		if err != nil {
			return err
		}
		if checked {
			return nil
		}
		return p.doc.Click(ctx, match.Ref)
	}

	p.logger.Warn("No radio option matches value, leaving group unchanged.",
		zap.String("group", options[0].Name()), zap.String("value", value))
	return nil
}

// radioGroup widens a single resolved radio to its same-named siblings.
func (p *Populator) radioGroup(ctx context.Context, h Handle) ([]dom.Element, error) {
	if h.Group || len(h.Elements) > 1 {
		return h.Elements, nil
	}
	el := h.First()
	if el.Name() == "" {
		return h.Elements, nil
	}
	expr := fmt.Sprintf("//input[%s][@name=%s]", dom.EqualsFold("@type", "radio"), dom.Literal(el.Name()))
	group, err := p.doc.Query(ctx, dom.Root, expr)
	if err != nil {
		return nil, err
	}
	if len(group) == 0 {
		return h.Elements, nil
	}
	return group, nil
}

func (p *Populator) matchRadio(ctx context.Context, options []dom.Element, value string) (dom.Element, bool, error) {
	want := strings.TrimSpace(value)
	if want == "" {
		return dom.Element{}, false, nil
	}

	for _, o := range options {
		if strings.EqualFold(o.Attr("value"), want) {
			return o, true, nil
		}
	}

	if singleCharValues(options) {
		first := []rune(want)[0]
		for _, o := range options {
			if strings.EqualFold(o.Attr("value"), string(first)) {
				return o, true, nil
			}
		}
	}

	for _, o := range options {
		label, err := p.radioLabel(ctx, o)
		if err != nil {
			return dom.Element{}, false, err
		}
		if label != "" && strings.EqualFold(label, want) {
			return o, true, nil
		}
	}

	for _, o := range options {
		prev, err := p.doc.Query(ctx, o.Ref, "preceding-sibling::*[1]")
		if err != nil {
			return dom.Element{}, false, err
		}
		if len(prev) == 0 {
			continue
		}
		text, err := p.doc.Text(ctx, prev[0].Ref)
		if err != nil {
			return dom.Element{}, false, err
		}
		if strings.EqualFold(strings.TrimSpace(text), want) {
			return o, true, nil
		}
	}
	return dom.Element{}, false, nil
}

// radioLabel returns the text of the label bound by for, else the
// wrapping label.
func (p *Populator) radioLabel(ctx context.Context, el dom.Element) (string, error) {
	var labels []dom.Element
	var err error
	if id := el.ID(); id != "" {
		labels, err = p.doc.Query(ctx, dom.Root, fmt.Sprintf("//label[@for=%s]", dom.Literal(id)))
		if err != nil {
			return "", err
		}
	}
	if len(labels) == 0 {
		labels, err = p.doc.Query(ctx, el.Ref, "ancestor::label[1]")
		if err != nil {
			return "", err
		}
	}
	if len(labels) == 0 {
		return "", nil
	}
	text, err := p.doc.Text(ctx, labels[0].Ref)
	return strings.TrimSpace(text), err
}

func singleCharValues(options []dom.Element) bool {
	for _, o := range options {
		if len([]rune(o.Attr("value"))) != 1 {
			return false
		}
	}
	return len(options) > 0
}

// selectOption picks the option whose value or visible text equals value.
func (p *Populator) selectOption(ctx context.Context, el dom.Element, value string) error {
	options, err := p.doc.Query(ctx, el.Ref, ".//option")
	if err != nil {
		return err
	}
	want := strings.TrimSpace(value)
	for _, o := range options {
		text, err := p.doc.Text(ctx, o.Ref)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		optValue := text
		if o.HasAttr("value") {
			optValue = o.Attr("value")
		}
		if !strings.EqualFold(optValue, want) && !strings.EqualFold(text, want) {
			continue
		}
		if err := p.doc.SetValue(ctx, el.Ref, optValue); err != nil {
			return fmt.Errorf("failed to select %q in %s: %w", optValue, el, err)
		}
		if err := p.doc.Dispatch(ctx, el.Ref, dom.Event{Type: "change"}); err != nil {
			return err
		}
		return p.doc.Blur(ctx, el.Ref)
	}

	p.logger.Warn("No option matches value, leaving select unchanged.",
		zap.Stringer("element", el), zap.String("value", value))
	return nil
}
