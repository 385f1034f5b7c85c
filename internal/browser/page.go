// internal/browser/page.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autofill-cli/internal/activity"
	"github.com/xkilldash9x/autofill-cli/internal/browser/dom"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultActionTimeout bounds a single CDP round trip.
const DefaultActionTimeout = 15 * time.Second

// Page is a live Chrome tab exposed as a dom.Document and an
// activity.Source. Element refs are ids in an in-page registry.
type Page struct {
	ctx           context.Context
	logger        *zap.Logger
	actionTimeout time.Duration

	mu  sync.Mutex
	sub *subscription
}

var _ dom.Document = (*Page)(nil)
var _ activity.Source = (*Page)(nil)

// subscription is the state of one Subscribe call.
type subscription struct {
	hooks    activity.Hooks
	cancel   context.CancelFunc
	scriptID page.ScriptIdentifier

	mu       sync.Mutex
	inflight map[network.RequestID]bool
}

// NewPage wraps a chromedp tab context.
func NewPage(tabCtx context.Context, logger *zap.Logger, actionTimeout time.Duration) *Page {
	if logger == nil {
		logger = zap.NewNop()
	}
	if actionTimeout <= 0 {
		actionTimeout = DefaultActionTimeout
	}
	return &Page{
		ctx:           tabCtx,
		logger:        logger.Named("browser"),
		actionTimeout: actionTimeout,
	}
}

// Context returns the chromedp tab context.
func (p *Page) Context() context.Context { return p.ctx }

// Navigate loads url and waits for the body.
func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	opCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		opCtx, cancelTimeout = context.WithTimeout(opCtx, timeout)
		defer cancelTimeout()
	}
	p.logger.Info("Navigating.", zap.String("url", url))
	if err := chromedp.Run(opCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// URL returns the location of the current document.
func (p *Page) URL(ctx context.Context) (string, error) {
	var url string
	err := p.run(ctx, chromedp.Location(&url))
	return url, err
}

// run executes actions on the tab bounded by both ctx and the action timeout.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	opCtx, cancelTimeout := context.WithTimeout(opCtx, p.actionTimeout)
	defer cancelTimeout()
	return chromedp.Run(opCtx, actions...)
}

// call invokes a registry method with JSON-encoded arguments.
func (p *Page) call(ctx context.Context, out interface{}, method string, args ...interface{}) error {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to encode argument for %s: %w", method, err)
		}
		encoded[i] = string(b)
	}
	expr := registryJS + "window.__autofill." + method + "(" + strings.Join(encoded, ",") + ");"
	if err := p.run(ctx, chromedp.Evaluate(expr, out)); err != nil {
		if strings.Contains(err.Error(), "autofill: stale") {
			return fmt.Errorf("%s: %w", method, dom.ErrStale)
		}
		return fmt.Errorf("%s failed: %w", method, err)
	}
	return nil
}

type remoteElement struct {
	Ref   string            `json:"ref"`
	Tag   string            `json:"tag"`
	Attrs map[string]string `json:"attrs"`
}

func (p *Page) Query(ctx context.Context, scope dom.Ref, xpath string) ([]dom.Element, error) {
	var raw []remoteElement
	if err := p.call(ctx, &raw, "query", string(scope), xpath); err != nil {
		return nil, err
	}
	out := make([]dom.Element, len(raw))
	for i, r := range raw {
		out[i] = dom.Element{Ref: dom.Ref(r.Ref), Tag: r.Tag, Attrs: r.Attrs}
	}
	return out, nil
}

func (p *Page) Text(ctx context.Context, ref dom.Ref) (string, error) {
	var s string
	err := p.call(ctx, &s, "text", string(ref))
	return s, err
}

func (p *Page) Value(ctx context.Context, ref dom.Ref) (string, error) {
	var s string
	err := p.call(ctx, &s, "value", string(ref))
	return s, err
}

func (p *Page) Checked(ctx context.Context, ref dom.Ref) (bool, error) {
	var b bool
	err := p.call(ctx, &b, "checked", string(ref))
	return b, err
}

func (p *Page) Visible(ctx context.Context, ref dom.Ref) (bool, error) {
	var b bool
	err := p.call(ctx, &b, "visible", string(ref))
	return b, err
}

func (p *Page) Focus(ctx context.Context, ref dom.Ref) error {
	var ok bool
	return p.call(ctx, &ok, "focus", string(ref))
}

func (p *Page) Blur(ctx context.Context, ref dom.Ref) error {
	var ok bool
	return p.call(ctx, &ok, "blur", string(ref))
}

func (p *Page) Click(ctx context.Context, ref dom.Ref) error {
	var ok bool
	return p.call(ctx, &ok, "click", string(ref))
}

func (p *Page) SetValue(ctx context.Context, ref dom.Ref, value string) error {
	var ok bool
	return p.call(ctx, &ok, "setValue", string(ref), value)
}

func (p *Page) Dispatch(ctx context.Context, ref dom.Ref, ev dom.Event) error {
	var ok bool
	return p.call(ctx, &ok, "dispatch", string(ref), ev.Type, ev.Key)
}

func (p *Page) Submit(ctx context.Context, form dom.Ref) error {
	var ok bool
	return p.call(ctx, &ok, "submit", string(form))
}

// -- activity.Source --

// Subscribe reports XHR and fetch requests as calls and node insertions as
// mutations. A new subscription replaces the previous one.
func (p *Page) Subscribe(ctx context.Context, hooks activity.Hooks) (func(), error) {
	p.mu.Lock()
	prev := p.sub
	p.sub = nil
	p.mu.Unlock()
	if prev != nil {
		p.teardown(prev)
	}

	listenCtx, cancel := context.WithCancel(p.ctx)
	sub := &subscription{
		hooks:    hooks,
		cancel:   cancel,
		inflight: make(map[network.RequestID]bool),
	}
	chromedp.ListenTarget(listenCtx, func(ev interface{}) { p.handleEvent(sub, ev) })

	err := p.run(ctx,
		network.Enable(),
		runtime.AddBinding(mutationBinding),
		chromedp.ActionFunc(func(c context.Context) error {
			id, err := page.AddScriptToEvaluateOnNewDocument(observerJS).Do(c)
			if err != nil {
				return err
			}
			sub.scriptID = id
			return nil
		}),
		chromedp.Evaluate(observerJS, nil),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to instrument page: %w", err)
	}

	p.mu.Lock()
	p.sub = sub
	p.mu.Unlock()
	p.logger.Debug("Page activity subscription installed.")

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			current := p.sub == sub
			if current {
				p.sub = nil
			}
			p.mu.Unlock()
			if current {
				p.teardown(sub)
			}
		})
	}, nil
}

// teardown stops event delivery and removes the in-page observer. It runs
// on a detached context so it completes even after the caller gave up.
func (p *Page) teardown(sub *subscription) {
	sub.cancel()
	cleanupCtx, cancel := context.WithTimeout(Detach(p.ctx), 2*time.Second)
	defer cancel()
	actions := []chromedp.Action{chromedp.Evaluate(disconnectJS, nil)}
	if sub.scriptID != "" {
		actions = append(actions, page.RemoveScriptToEvaluateOnNewDocument(sub.scriptID))
	}
	if err := chromedp.Run(cleanupCtx, actions...); err != nil {
		p.logger.Debug("Failed to remove page instrumentation.", zap.Error(err))
	}
}

// handleEvent runs on chromedp's event goroutine and must not issue CDP
// commands.
func (p *Page) handleEvent(sub *subscription, ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.Type != network.ResourceTypeXHR && e.Type != network.ResourceTypeFetch {
			return
		}
		sub.mu.Lock()
		// Redirects reuse the request id.
		tracked := sub.inflight[e.RequestID]
		sub.inflight[e.RequestID] = true
		sub.mu.Unlock()
		if !tracked && sub.hooks.CallStarted != nil {
			sub.hooks.CallStarted()
		}
	case *network.EventLoadingFinished:
		p.endCall(sub, e.RequestID)
	case *network.EventLoadingFailed:
		p.endCall(sub, e.RequestID)
	case *runtime.EventBindingCalled:
		if e.Name == mutationBinding && sub.hooks.NodesAdded != nil {
			sub.hooks.NodesAdded()
		}
	}
}

func (p *Page) endCall(sub *subscription, id network.RequestID) {
	sub.mu.Lock()
	tracked := sub.inflight[id]
	delete(sub.inflight, id)
	sub.mu.Unlock()
	if tracked && sub.hooks.CallEnded != nil {
		sub.hooks.CallEnded()
	}
}
