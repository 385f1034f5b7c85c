// browser/dom/document.go
package dom

import (
	"context"
	"errors"
	"strings"
)

// Ref is an opaque handle to a live element, valid until the page replaces it.
type Ref string

// Root scopes a query to the whole document.
const Root Ref = ""

var (
	// ErrStale is returned when a Ref no longer points at a connected element.
	ErrStale = errors.New("element reference is stale")
	// ErrNotFound is returned when a lookup produced no element.
	ErrNotFound = errors.New("element not found")
)

// Event is a synthetic DOM event. Key is only meaningful for keyboard events.
type Event struct {
	Type string
	Key  string
}

// Document is the element tree the fill engine operates on. Queries are
// XPath 1.0 expressions; a non-root scope evaluates them relative to that
// element. Only element nodes are returned.
type Document interface {
	Query(ctx context.Context, scope Ref, xpath string) ([]Element, error)

	Text(ctx context.Context, ref Ref) (string, error)
	Value(ctx context.Context, ref Ref) (string, error)
	Checked(ctx context.Context, ref Ref) (bool, error)
	// Visible reports a non-zero rendered extent and no hiding style.
	Visible(ctx context.Context, ref Ref) (bool, error)

	Focus(ctx context.Context, ref Ref) error
	Blur(ctx context.Context, ref Ref) error
	// Click activates the element the way a user click would, firing the
	// element's own listeners and default action.
	Click(ctx context.Context, ref Ref) error
	// SetValue writes the value property without emitting any event. For a
	// select it selects the option carrying that value.
	SetValue(ctx context.Context, ref Ref, value string) error
	Dispatch(ctx context.Context, ref Ref, ev Event) error
	// Submit submits a form element.
	Submit(ctx context.Context, form Ref) error
}

// Element is a snapshot of an element taken when it was queried.
type Element struct {
	Ref   Ref
	Tag   string
	Attrs map[string]string
}

// Attr returns an attribute value or "".
func (e Element) Attr(name string) string {
	return e.Attrs[name]
}

// HasAttr reports whether the attribute is present, even if empty.
func (e Element) HasAttr(name string) bool {
	_, ok := e.Attrs[name]
	return ok
}

// Type returns the lower-cased input type. Inputs without a type are "text".
func (e Element) Type() string {
	if e.Tag != "input" {
		return ""
	}
	t := strings.ToLower(strings.TrimSpace(e.Attr("type")))
	if t == "" {
		return "text"
	}
	return t
}

// ID returns the id attribute.
func (e Element) ID() string { return e.Attr("id") }

// Name returns the name attribute.
func (e Element) Name() string { return e.Attr("name") }

// ReadOnly reports whether the element refuses user edits.
func (e Element) ReadOnly() bool {
	return e.HasAttr("readonly") || e.HasAttr("disabled")
}

// String describes the element for logs.
func (e Element) String() string {
	var b strings.Builder
	b.WriteString(e.Tag)
	if id := e.ID(); id != "" {
		b.WriteString("#")
		b.WriteString(id)
	}
	if name := e.Name(); name != "" {
		b.WriteString("[name=")
		b.WriteString(name)
		b.WriteString("]")
	}
	return b.String()
}

// Category groups elements by how a value is written into them.
type Category int

const (
	CategoryUnsupported Category = iota
	CategoryText
	CategoryCheckbox
	CategoryRadio
	CategorySelect
)

func (c Category) String() string {
	switch c {
	case CategoryText:
		return "text"
	case CategoryCheckbox:
		return "checkbox"
	case CategoryRadio:
		return "radio"
	case CategorySelect:
		return "select"
	default:
		return "unsupported"
	}
}

var textInputTypes = map[string]bool{
	"text": true, "email": true, "tel": true, "number": true, "search": true,
	"url": true, "password": true, "date": true, "datetime-local": true,
	"month": true, "week": true, "time": true,
}

// Category classifies the element for population.
func (e Element) Category() Category {
	switch e.Tag {
	case "textarea":
		return CategoryText
	case "select":
		return CategorySelect
	case "input":
		t := e.Type()
		switch {
		case t == "checkbox":
			return CategoryCheckbox
		case t == "radio":
			return CategoryRadio
		case textInputTypes[t]:
			return CategoryText
		}
	}
	return CategoryUnsupported
}
