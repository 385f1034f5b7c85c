// File: internal/fill/navigator.go
package fill

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autofill-cli/internal/activity"
	"github.com/xkilldash9x/autofill-cli/internal/browser/dom"
)

// DefaultNavigationBudget bounds the wait after a step change.
const DefaultNavigationBudget = 10 * time.Second

var (
	nextIDs       = []string{"btnVolgendeTab", "next", "nextStep"}
	nextKeywords  = []string{"volgende", "next", "verder", "continue", "doorgaan"}
	prevIDs       = []string{"btnVorigeTab", "prev", "previous", "prevStep"}
	prevKeywords  = []string{"vorige", "previous", "back", "terug"}
	stepItemXPath = "//*[" + dom.HasClass("step") + " or " + dom.HasClass("wizard-step") + " or @data-step or @role='tab']"
	activeStep    = dom.ContainsFold("@class", "active") + " or " + dom.ContainsFold("@class", "current") +
		" or (@aria-current and @aria-current!='false') or @aria-selected='true'"
	clickable = "(self::button or self::a or self::input or @role='button')"
)

// StepSnapshot describes the wizard position. Total is zero on pages
// without step markers.
type StepSnapshot struct {
	Current int
	Total   int
}

// Navigator moves through multi-step forms.
type Navigator struct {
	doc     dom.Document
	monitor *activity.Monitor
	budget  time.Duration
	logger  *zap.Logger
}

// NewNavigator creates a navigator. It waits on its own monitor over src
// after each step change.
func NewNavigator(doc dom.Document, src activity.Source, budget time.Duration, logger *zap.Logger, opts ...activity.Option) *Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if budget <= 0 {
		budget = DefaultNavigationBudget
	}
	return &Navigator{
		doc:     doc,
		monitor: activity.NewMonitor(src, logger, opts...),
		budget:  budget,
		logger:  logger.Named("navigator"),
	}
}

// FindNext returns the visible control that advances the form.
func (n *Navigator) FindNext(ctx context.Context) (dom.Element, bool, error) {
	return n.findControl(ctx, nextIDs, "next", nextKeywords)
}

// FindPrevious returns the visible control that goes back a step.
func (n *Navigator) FindPrevious(ctx context.Context) (dom.Element, bool, error) {
	return n.findControl(ctx, prevIDs, "prev", prevKeywords)
}

// findControl tries known ids, then ids ending in suffix, then input
// buttons whose value is a keyword, then buttons and links whose text
// contains one.
func (n *Navigator) findControl(ctx context.Context, ids []string, suffix string, keywords []string) (dom.Element, bool, error) {
	var queries []string
	for _, id := range ids {
		queries = append(queries, fmt.Sprintf("//*[@id=%s][%s]", dom.Literal(id), clickable))
	}
	queries = append(queries, fmt.Sprintf("//*[%s][%s]", dom.EndsWith(dom.Lower("@id"), suffix), clickable))

	var valueTests, textTests []string
	for _, kw := range keywords {
		valueTests = append(valueTests, dom.EqualsFold("@value", kw))
		textTests = append(textTests, dom.ContainsFold("normalize-space(.)", kw))
	}
	queries = append(queries,
		fmt.Sprintf("//input[%s or %s][%s]", dom.EqualsFold("@type", "submit"), dom.EqualsFold("@type", "button"), strings.Join(valueTests, " or ")),
		fmt.Sprintf("//*[self::button or self::a or @role='button'][%s]", strings.Join(textTests, " or ")),
	)

	for _, q := range queries {
		els, err := n.doc.Query(ctx, dom.Root, q)
		if err != nil {
			return dom.Element{}, false, err
		}
		for _, el := range els {
			if el.HasAttr("disabled") {
				continue
			}
			visible, err := n.doc.Visible(ctx, el.Ref)
			if err != nil {
				continue
			}
			if visible {
				return el, true, nil
			}
		}
	}
	return dom.Element{}, false, nil
}

// Steps derives the current wizard position from step markers.
func (n *Navigator) Steps(ctx context.Context) (StepSnapshot, error) {
	items, err := n.doc.Query(ctx, dom.Root, stepItemXPath)
	if err != nil {
		return StepSnapshot{}, err
	}
	snap := StepSnapshot{Total: len(items)}
	for i, item := range items {
		active, err := n.doc.Query(ctx, item.Ref, "self::*["+activeStep+"]")
		if err != nil {
			return snap, err
		}
		if len(active) > 0 {
			snap.Current = i + 1
			break
		}
	}
	return snap, nil
}

// Terminal reports whether the form is on its last step: the last marked
// step is active, or the page has no markers and no next control.
func (n *Navigator) Terminal(ctx context.Context) (bool, error) {
	snap, err := n.Steps(ctx)
	if err != nil {
		return false, err
	}
	if snap.Total > 0 && snap.Current > 0 {
		return snap.Current == snap.Total, nil
	}
	_, hasNext, err := n.FindNext(ctx)
	return !hasNext, err
}

// NavigateNext clicks the next control, waits for the page to settle and
// returns the new position. It reports false when there is no next control.
func (n *Navigator) NavigateNext(ctx context.Context) (StepSnapshot, bool, error) {
	el, ok, err := n.FindNext(ctx)
	if err != nil || !ok {
		return StepSnapshot{}, false, err
	}
	return n.activate(ctx, el, "next")
}

// NavigatePrevious is NavigateNext in the other direction.
func (n *Navigator) NavigatePrevious(ctx context.Context) (StepSnapshot, bool, error) {
	el, ok, err := n.FindPrevious(ctx)
	if err != nil || !ok {
		return StepSnapshot{}, false, err
	}
	return n.activate(ctx, el, "previous")
}

func (n *Navigator) activate(ctx context.Context, el dom.Element, direction string) (StepSnapshot, bool, error) {
	if err := n.monitor.Start(ctx); err != nil {
		return StepSnapshot{}, false, err
	}
	defer n.monitor.Stop()

	before, _ := n.Steps(ctx)
	if err := n.doc.Click(ctx, el.Ref); err != nil {
		return before, false, fmt.Errorf("failed to click %s control %s: %w", direction, el, err)
	}
	n.monitor.WaitForQuiescence(ctx, n.budget)

	after, err := n.Steps(ctx)
	if err != nil {
		return after, true, err
	}
	n.logger.Info("Moved to another step.",
		zap.String("direction", direction),
		zap.Stringer("control", el),
		zap.Int("from", before.Current),
		zap.Int("to", after.Current),
		zap.Int("total", after.Total))
	return after, true, nil
}

// Complete submits the form when autoSubmit is set and the form is on its
// last step. A visible submit control is clicked in preference to
// submitting the form element directly.
func (n *Navigator) Complete(ctx context.Context, autoSubmit bool) (bool, error) {
	if !autoSubmit {
		return false, nil
	}
	terminal, err := n.Terminal(ctx)
	if err != nil || !terminal {
		return false, err
	}

	controls, err := n.doc.Query(ctx, dom.Root,
		"//button["+dom.EqualsFold("@type", "submit")+" or not(@type)] | //input["+dom.EqualsFold("@type", "submit")+"]")
	if err != nil {
		return false, err
	}
	for _, c := range controls {
		if c.HasAttr("disabled") {
			continue
		}
		if visible, err := n.doc.Visible(ctx, c.Ref); err == nil && visible {
			n.logger.Info("Submitting form.", zap.Stringer("control", c))
			return true, n.doc.Click(ctx, c.Ref)
		}
	}

	forms, err := n.doc.Query(ctx, dom.Root, "//form")
	if err != nil {
		return false, err
	}
	if len(forms) == 0 {
		n.logger.Warn("Nothing to submit.")
		return false, nil
	}
	n.logger.Info("Submitting form element.", zap.Stringer("form", forms[0]))
	return true, n.doc.Submit(ctx, forms[0].Ref)
}
