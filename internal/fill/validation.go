// File: internal/fill/validation.go
package fill

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autofill-cli/internal/browser/dom"
)

// errorAncestorDepth bounds how far up the inspector looks for error text.
const errorAncestorDepth = 2

// errorMarker matches elements styled as validation messages that do not
// themselves wrap a control.
var errorMarker = "[" + dom.ContainsFold("@class", "error") + " or " + dom.ContainsFold("@class", "invalid-feedback") + "]" +
	"[not(self::input or self::select or self::textarea)]" +
	"[not(.//input or .//select or .//textarea)]"

// FieldIssue lists the validation messages attributed to one field.
type FieldIssue struct {
	Field    dom.Element
	Messages []string
}

// Inspector reads client-side validation state after population.
type Inspector struct {
	doc     dom.Document
	enabled bool
	logger  *zap.Logger
}

// NewInspector creates an inspector. A disabled inspector reports nothing.
func NewInspector(doc dom.Document, enabled bool, logger *zap.Logger) *Inspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inspector{doc: doc, enabled: enabled, logger: logger.Named("validation")}
}

// CheckForm returns one issue per interactive element under scope that
// carries at least one message.
func (i *Inspector) CheckForm(ctx context.Context, scope dom.Ref) ([]FieldIssue, error) {
	if !i.enabled {
		return nil, nil
	}
	expr := dom.InteractiveXPath
	if scope != dom.Root {
		expr = "." + expr
	}
	els, err := i.doc.Query(ctx, scope, expr)
	if err != nil {
		return nil, fmt.Errorf("failed to list form fields: %w", err)
	}
	var issues []FieldIssue
	for _, el := range els {
		msgs, err := i.CheckField(ctx, el)
		if err != nil {
			return issues, err
		}
		if len(msgs) > 0 {
			issues = append(issues, FieldIssue{Field: el, Messages: msgs})
		}
	}
	return issues, nil
}

// CheckField collects the messages for el: the aria-describedby text of an
// aria-invalid field, plus visible error-styled text within two ancestors.
func (i *Inspector) CheckField(ctx context.Context, el dom.Element) ([]string, error) {
	if !i.enabled {
		return nil, nil
	}
	var msgs []string
	seen := make(map[string]bool)
	add := func(text string) {
		text = strings.Join(strings.Fields(text), " ")
		if text == "" || seen[text] {
			return
		}
		seen[text] = true
		msgs = append(msgs, text)
	}

	if strings.EqualFold(strings.TrimSpace(el.Attr("aria-invalid")), "true") {
		for _, id := range strings.Fields(el.Attr("aria-describedby")) {
			described, err := i.doc.Query(ctx, dom.Root, fmt.Sprintf("//*[@id=%s]", dom.Literal(id)))
			if err != nil {
				return nil, err
			}
			for _, d := range described {
				text, err := i.doc.Text(ctx, d.Ref)
				if err != nil {
					return nil, err
				}
				add(text)
			}
		}
	}

	scope := ""
	for level := 1; level <= errorAncestorDepth; level++ {
		scope += "../"
		markers, err := i.doc.Query(ctx, el.Ref, scope+"/*"+errorMarker)
		if err != nil {
			return nil, err
		}
		for _, m := range markers {
			visible, err := i.doc.Visible(ctx, m.Ref)
			if err != nil || !visible {
				continue
			}
			text, err := i.doc.Text(ctx, m.Ref)
			if err != nil {
				return nil, err
			}
			add(text)
		}
	}

	if len(msgs) > 0 {
		i.logger.Debug("Validation messages found.", zap.Stringer("element", el), zap.Strings("messages", msgs))
	}
	return msgs, nil
}
