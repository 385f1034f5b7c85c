// internal/browser/page_test.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autofill-cli/internal/activity"
	"github.com/xkilldash9x/autofill-cli/internal/browser/dom"
)

const testForm = `<!doctype html><html><body>
<form id="f" onsubmit="event.preventDefault(); document.body.dataset.submitted='1'">
  <label for="email">E-mail</label><input id="email" name="email">
  <input type="checkbox" id="akkoord">
  <select id="land"><option value="">-</option><option value="NL">Nederland</option></select>
  <input id="hidden" style="display:none">
  <button type="submit" id="send">Verzenden</button>
</form>
<div id="log"></div>
<script>
  document.getElementById('email').addEventListener('input', function (e) {
    document.getElementById('log').textContent += 'i';
  });
</script>
</body></html>`

// newTestPage launches a headless Chrome on a fresh profile and loads html.
func newTestPage(t *testing.T, html string) *Page {
	t.Helper()
	found := false
	for _, bin := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell", "chrome"} {
		if _, err := exec.LookPath(bin); err == nil {
			found = true
			break
		}
	}
	if !found {
		t.Skip("no Chrome binary on PATH")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, html)
	})
	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		fmt.Fprint(w, `{"ok":true}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Headless,
		chromedp.UserDataDir(t.TempDir()),
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	t.Cleanup(func() {
		cancelTab()
		cancelAlloc()
	})

	p := NewPage(tabCtx, zaptest.NewLogger(t, zaptest.Level(zap.DebugLevel)), 10*time.Second)
	require.NoError(t, p.Navigate(context.Background(), server.URL, 30*time.Second))
	return p
}

func TestPage_QueryAndInteract(t *testing.T) {
	p := newTestPage(t, testForm)
	ctx := context.Background()

	els, err := p.Query(ctx, "", "//input[@id='email']")
	require.NoError(t, err)
	require.Len(t, els, 1)
	email := els[0]
	assert.Equal(t, "input", email.Tag)
	assert.Equal(t, "email", email.Name())

	again, err := p.Query(ctx, "", "//*[@name='email']")
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, email.Ref, again[0].Ref, "refs are stable per element")

	require.NoError(t, p.Focus(ctx, email.Ref))
	require.NoError(t, p.SetValue(ctx, email.Ref, "jan@example.nl"))
	require.NoError(t, p.Dispatch(ctx, email.Ref, dom.Event{Type: "input", Key: "l"}))
	v, err := p.Value(ctx, email.Ref)
	require.NoError(t, err)
	assert.Equal(t, "jan@example.nl", v)

	log, err := p.Query(ctx, "", "//div[@id='log']")
	require.NoError(t, err)
	text, err := p.Text(ctx, log[0].Ref)
	require.NoError(t, err)
	assert.Equal(t, "i", text, "page listener saw the input event")

	box, err := p.Query(ctx, "", "//input[@type='checkbox']")
	require.NoError(t, err)
	require.NoError(t, p.Click(ctx, box[0].Ref))
	checked, err := p.Checked(ctx, box[0].Ref)
	require.NoError(t, err)
	assert.True(t, checked)

	sel, err := p.Query(ctx, "", "//select")
	require.NoError(t, err)
	require.NoError(t, p.SetValue(ctx, sel[0].Ref, "NL"))
	v, err = p.Value(ctx, sel[0].Ref)
	require.NoError(t, err)
	assert.Equal(t, "NL", v)

	hidden, err := p.Query(ctx, "", "//input[@id='hidden']")
	require.NoError(t, err)
	visible, err := p.Visible(ctx, hidden[0].Ref)
	require.NoError(t, err)
	assert.False(t, visible)
	visible, err = p.Visible(ctx, email.Ref)
	require.NoError(t, err)
	assert.True(t, visible)
}

func TestPage_ScopedQueryAndSubmit(t *testing.T) {
	p := newTestPage(t, testForm)
	ctx := context.Background()

	forms, err := p.Query(ctx, "", "//form")
	require.NoError(t, err)
	require.Len(t, forms, 1)

	inside, err := p.Query(ctx, forms[0].Ref, ".//input")
	require.NoError(t, err)
	assert.Len(t, inside, 3)

	require.NoError(t, p.Submit(ctx, forms[0].Ref))
	body, err := p.Query(ctx, "", "//body[@data-submitted='1']")
	require.NoError(t, err)
	assert.Len(t, body, 1)
}

func TestPage_StaleRef(t *testing.T) {
	p := newTestPage(t, testForm)
	ctx := context.Background()

	els, err := p.Query(ctx, "", "//input[@id='email']")
	require.NoError(t, err)
	require.NoError(t, p.run(ctx, chromedp.Evaluate(`document.getElementById('email').remove(); true`, nil)))

	_, err = p.Value(ctx, els[0].Ref)
	assert.ErrorIs(t, err, dom.ErrStale)
}

func TestPage_SubscribeReportsActivity(t *testing.T) {
	p := newTestPage(t, testForm)
	ctx := context.Background()

	var started, ended, added atomic.Int32
	unsubscribe, err := p.Subscribe(ctx, activity.Hooks{
		CallStarted: func() { started.Add(1) },
		CallEnded:   func() { ended.Add(1) },
		NodesAdded:  func() { added.Add(1) },
	})
	require.NoError(t, err)

	require.NoError(t, p.run(ctx, chromedp.Evaluate(`
		fetch('/api').then(() => {
			const el = document.createElement('p');
			el.textContent = 'loaded';
			document.body.appendChild(el);
		});
		true`, nil)))

	assert.Eventually(t, func() bool {
		return started.Load() == 1 && ended.Load() == 1 && added.Load() >= 1
	}, 5*time.Second, 20*time.Millisecond)

	unsubscribe()
	unsubscribe()

	before := added.Load()
	require.NoError(t, p.run(ctx, chromedp.Evaluate(`document.body.appendChild(document.createElement('p')); true`, nil)))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, before, added.Load(), "no reports after unsubscribe")
}

func TestPickTarget(t *testing.T) {
	targets := []*target.Info{
		{TargetID: "sw", Type: "service_worker", URL: "https://example.nl/sw.js"},
		{TargetID: "a", Type: "page", URL: "https://example.nl/start"},
		{TargetID: "b", Type: "page", URL: "https://example.nl/aanvraag"},
	}

	tests := []struct {
		name    string
		part    string
		want    target.ID
		wantErr bool
	}{
		{name: "first page", want: "a"},
		{name: "by url", part: "aanvraag", want: "b"},
		{name: "no match", part: "elders", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pickTarget(targets, tt.part)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := pickTarget(nil, "")
	assert.Error(t, err)
	got, err := pickTarget(targets[:1], "")
	require.NoError(t, err)
	assert.Equal(t, target.ID("sw"), got)
}
