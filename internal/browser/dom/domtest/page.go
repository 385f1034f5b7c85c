// Package domtest provides an in-memory dom.Document and activity.Source
// backed by x/net/html, for exercising fill logic without a browser.
package domtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/autofill-cli/internal/activity"
	"github.com/xkilldash9x/autofill-cli/internal/browser/dom"
)

// Recorded is one event observed on the page.
type Recorded struct {
	Ref  dom.Ref
	Type string
	Key  string
}

// Listener reacts to events the way page scripts would. It runs without the
// page lock held and may call back into the page.
type Listener func(p *Page, el dom.Element, ev dom.Event)

// Page is a static HTML document with mutable form state. Refs are unique
// XPath expressions, so a structural change can make a ref stale.
type Page struct {
	mu        sync.Mutex
	doc       *html.Node
	values    map[*html.Node]string
	checked   map[*html.Node]bool
	events    []Recorded
	submitted []dom.Ref
	listeners []Listener

	hooks    *activity.Hooks
	SubErr   error
	subCount int
}

var _ dom.Document = (*Page)(nil)
var _ activity.Source = (*Page)(nil)

// New parses src into a page.
func New(src string) (*Page, error) {
	p := &Page{}
	if err := p.SetHTML(src); err != nil {
		return nil, err
	}
	return p, nil
}

// MustNew is New for tests with known-good markup.
func MustNew(src string) *Page {
	p, err := New(src)
	if err != nil {
		panic(err)
	}
	return p
}

// SetHTML replaces the whole document, as a navigation would. Recorded
// events and listeners survive.
func (p *Page) SetHTML(src string) error {
	doc, err := htmlquery.Parse(strings.NewReader(src))
	if err != nil {
		return fmt.Errorf("failed to parse html: %w", err)
	}
	p.mu.Lock()
	p.doc = doc
	p.values = make(map[*html.Node]string)
	p.checked = make(map[*html.Node]bool)
	p.mu.Unlock()
	return nil
}

// OnEvent registers a listener for every recorded event.
func (p *Page) OnEvent(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// -- dom.Document --

func (p *Page) Query(_ context.Context, scope dom.Ref, expr string) ([]dom.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctxNode := p.doc
	if scope != dom.Root {
		n, err := p.resolveLocked(scope)
		if err != nil {
			return nil, err
		}
		ctxNode = n
	}
	nodes, err := htmlquery.QueryAll(ctxNode, expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	out := make([]dom.Element, 0, len(nodes))
	for _, n := range nodes {
		if n.Type != html.ElementNode {
			continue
		}
		out = append(out, p.elementLocked(n))
	}
	return out, nil
}

func (p *Page) Text(_ context.Context, ref dom.Ref) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.resolveLocked(ref)
	if err != nil {
		return "", err
	}
	return htmlquery.InnerText(n), nil
}

func (p *Page) Value(_ context.Context, ref dom.Ref) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.resolveLocked(ref)
	if err != nil {
		return "", err
	}
	return p.valueLocked(n), nil
}

func (p *Page) Checked(_ context.Context, ref dom.Ref) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.resolveLocked(ref)
	if err != nil {
		return false, err
	}
	return p.checkedLocked(n), nil
}

func (p *Page) Visible(_ context.Context, ref dom.Ref) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.resolveLocked(ref)
	if err != nil {
		return false, err
	}
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if hasAttr(cur, "hidden") {
			return false, nil
		}
		if strings.EqualFold(cur.Data, "input") && strings.EqualFold(htmlquery.SelectAttr(cur, "type"), "hidden") {
			return false, nil
		}
		style := strings.ReplaceAll(strings.ToLower(htmlquery.SelectAttr(cur, "style")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false, nil
		}
	}
	return true, nil
}

func (p *Page) Focus(ctx context.Context, ref dom.Ref) error {
	return p.Dispatch(ctx, ref, dom.Event{Type: "focus"})
}

func (p *Page) Blur(ctx context.Context, ref dom.Ref) error {
	return p.Dispatch(ctx, ref, dom.Event{Type: "blur"})
}

// Click toggles checkboxes, selects radios, and submits the enclosing form
// for submit buttons, recording the events a browser would fire.
func (p *Page) Click(ctx context.Context, ref dom.Ref) error {
	p.mu.Lock()
	n, err := p.resolveLocked(ref)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	el := p.elementLocked(n)
	fired := []dom.Event{{Type: "click"}}
	switch el.Category() {
	case dom.CategoryCheckbox:
		p.checked[n] = !p.checkedLocked(n)
		fired = append(fired, dom.Event{Type: "input"}, dom.Event{Type: "change"})
	case dom.CategoryRadio:
		if !p.checkedLocked(n) {
			p.selectRadioLocked(n)
			fired = append(fired, dom.Event{Type: "input"}, dom.Event{Type: "change"})
		}
	}
	var submitForm *html.Node
	if isSubmitControl(el) {
		submitForm = findParentForm(n)
	}
	for _, ev := range fired {
		p.events = append(p.events, Recorded{Ref: ref, Type: ev.Type})
	}
	if submitForm != nil {
		formRef := p.refLocked(submitForm)
		p.submitted = append(p.submitted, formRef)
		p.events = append(p.events, Recorded{Ref: formRef, Type: "submit"})
	}
	listeners := append([]Listener(nil), p.listeners...)
	p.mu.Unlock()

	for _, ev := range fired {
		for _, l := range listeners {
			l(p, el, ev)
		}
	}
	return ctx.Err()
}

func (p *Page) SetValue(_ context.Context, ref dom.Ref, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.resolveLocked(ref)
	if err != nil {
		return err
	}
	if strings.EqualFold(n.Data, "select") {
		// A select only takes values one of its options carries.
		for _, opt := range htmlquery.Find(n, ".//option") {
			if optionValue(opt) == value {
				p.values[n] = value
				return nil
			}
		}
		p.values[n] = ""
		return nil
	}
	p.values[n] = value
	return nil
}

func (p *Page) Dispatch(_ context.Context, ref dom.Ref, ev dom.Event) error {
	p.mu.Lock()
	n, err := p.resolveLocked(ref)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	el := p.elementLocked(n)
	p.events = append(p.events, Recorded{Ref: ref, Type: ev.Type, Key: ev.Key})
	listeners := append([]Listener(nil), p.listeners...)
	p.mu.Unlock()

	for _, l := range listeners {
		l(p, el, ev)
	}
	return nil
}

func (p *Page) Submit(_ context.Context, form dom.Ref) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.resolveLocked(form)
	if err != nil {
		return err
	}
	if !strings.EqualFold(n.Data, "form") {
		return fmt.Errorf("%s is not a form", form)
	}
	p.submitted = append(p.submitted, form)
	p.events = append(p.events, Recorded{Ref: form, Type: "submit"})
	return nil
}

// -- activity.Source --

// Subscribe installs hooks, replacing any earlier subscription.
func (p *Page) Subscribe(_ context.Context, hooks activity.Hooks) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SubErr != nil {
		return nil, p.SubErr
	}
	h := &hooks
	p.hooks = h
	p.subCount++
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.hooks == h {
				p.hooks = nil
			}
		})
	}, nil
}

// Subscribed reports whether a subscription is active.
func (p *Page) Subscribed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hooks != nil
}

// SubscribeCount returns how many times Subscribe succeeded.
func (p *Page) SubscribeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subCount
}

// StartCall simulates the page beginning an asynchronous request.
func (p *Page) StartCall() { p.emit(func(h *activity.Hooks) func() { return h.CallStarted }) }

// EndCall simulates a request finishing.
func (p *Page) EndCall() { p.emit(func(h *activity.Hooks) func() { return h.CallEnded }) }

func (p *Page) emit(pick func(*activity.Hooks) func()) {
	p.mu.Lock()
	h := p.hooks
	p.mu.Unlock()
	if h == nil {
		return
	}
	if fn := pick(h); fn != nil {
		fn()
	}
}

// -- test helpers --

// Ref returns the ref of the first element matching expr, or "".
func (p *Page) Ref(expr string) dom.Ref {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := htmlquery.FindOne(p.doc, expr)
	if n == nil {
		return ""
	}
	return p.refLocked(n)
}

// ValueOf reads the current value of the first element matching expr.
func (p *Page) ValueOf(expr string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := htmlquery.FindOne(p.doc, expr)
	if n == nil {
		return ""
	}
	return p.valueLocked(n)
}

// CheckedOf reads the checked state of the first element matching expr.
func (p *Page) CheckedOf(expr string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := htmlquery.FindOne(p.doc, expr)
	if n == nil {
		return false
	}
	return p.checkedLocked(n)
}

// Fill writes a value as page script would, without recording an event.
func (p *Page) Fill(expr, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := htmlquery.FindOne(p.doc, expr); n != nil {
		p.values[n] = value
	}
}

// SetAttr sets an attribute on the first element matching expr.
func (p *Page) SetAttr(expr, name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := htmlquery.FindOne(p.doc, expr); n != nil {
		setAttr(n, name, value)
	}
}

// AppendHTML parses fragment and appends it to the first element matching
// parentExpr, notifying the active subscription of inserted nodes.
func (p *Page) AppendHTML(parentExpr, fragment string) error {
	p.mu.Lock()
	parent := htmlquery.FindOne(p.doc, parentExpr)
	if parent == nil {
		p.mu.Unlock()
		return fmt.Errorf("no element matches %q", parentExpr)
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("failed to parse fragment: %w", err)
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	h := p.hooks
	p.mu.Unlock()

	if h != nil && h.NodesAdded != nil && len(nodes) > 0 {
		h.NodesAdded()
	}
	return nil
}

// Events returns a copy of all recorded events.
func (p *Page) Events() []Recorded {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Recorded(nil), p.events...)
}

// EventTypes lists the event types recorded for the element matching expr.
func (p *Page) EventTypes(expr string) []string {
	ref := p.Ref(expr)
	var out []string
	for _, e := range p.Events() {
		if e.Ref == ref {
			out = append(out, e.Type)
		}
	}
	return out
}

// Submissions returns the refs of submitted forms.
func (p *Page) Submissions() []dom.Ref {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]dom.Ref(nil), p.submitted...)
}

// -- internals --

func (p *Page) resolveLocked(ref dom.Ref) (*html.Node, error) {
	if ref == dom.Root {
		return p.doc, nil
	}
	n, err := htmlquery.Query(p.doc, string(ref))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dom.ErrStale, err)
	}
	if n == nil {
		return nil, fmt.Errorf("%w: %s", dom.ErrStale, ref)
	}
	return n, nil
}

func (p *Page) elementLocked(n *html.Node) dom.Element {
	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[strings.ToLower(a.Key)] = a.Val
	}
	return dom.Element{Ref: p.refLocked(n), Tag: strings.ToLower(n.Data), Attrs: attrs}
}

func (p *Page) valueLocked(n *html.Node) string {
	if v, ok := p.values[n]; ok {
		return v
	}
	switch strings.ToLower(n.Data) {
	case "textarea":
		return htmlquery.InnerText(n)
	case "select":
		options := htmlquery.Find(n, ".//option")
		for _, opt := range options {
			if hasAttr(opt, "selected") {
				return optionValue(opt)
			}
		}
		if len(options) > 0 {
			return optionValue(options[0])
		}
		return ""
	case "input":
		if v := htmlquery.SelectAttr(n, "value"); v != "" || hasAttr(n, "value") {
			return v
		}
		t := strings.ToLower(htmlquery.SelectAttr(n, "type"))
		if t == "checkbox" || t == "radio" {
			return "on"
		}
	}
	return ""
}

func (p *Page) checkedLocked(n *html.Node) bool {
	if c, ok := p.checked[n]; ok {
		return c
	}
	return hasAttr(n, "checked")
}

// selectRadioLocked checks n and clears every other radio sharing its name
// within the same form.
func (p *Page) selectRadioLocked(n *html.Node) {
	name := htmlquery.SelectAttr(n, "name")
	scope := findParentForm(n)
	if scope == nil {
		scope = p.doc
	}
	if name != "" {
		for _, other := range htmlquery.Find(scope, ".//input[@name="+dom.Literal(name)+"]") {
			if strings.EqualFold(htmlquery.SelectAttr(other, "type"), "radio") {
				p.checked[other] = false
			}
		}
	}
	p.checked[n] = true
}

func optionValue(opt *html.Node) string {
	if hasAttr(opt, "value") {
		return htmlquery.SelectAttr(opt, "value")
	}
	return strings.TrimSpace(htmlquery.InnerText(opt))
}

func isSubmitControl(el dom.Element) bool {
	switch el.Tag {
	case "button":
		t := strings.ToLower(el.Attr("type"))
		return t == "" || t == "submit"
	case "input":
		return el.Type() == "submit" || el.Type() == "image"
	}
	return false
}

func findParentForm(n *html.Node) *html.Node {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && strings.EqualFold(cur.Data, "form") {
			return cur
		}
	}
	return nil
}

func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, name, value string) {
	for i := range n.Attr {
		if strings.EqualFold(n.Attr[i].Key, name) {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}
