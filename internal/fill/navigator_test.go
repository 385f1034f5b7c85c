// File: internal/fill/navigator_test.go
package fill

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autofill-cli/internal/activity"
	"github.com/xkilldash9x/autofill-cli/internal/browser/dom"
	"github.com/xkilldash9x/autofill-cli/internal/browser/dom/domtest"
)

const wizardSteps = `<ul>
	<li class="step" id="s1">Gegevens</li>
	<li class="step active" id="s2">Adres</li>
	<li class="step" id="s3">Controle</li>
</ul>`

func newTestNavigator(t *testing.T, p *domtest.Page) *Navigator {
	return NewNavigator(p, p, 200*time.Millisecond, zaptest.NewLogger(t), activity.WithDebounce(5*time.Millisecond))
}

func TestFindNext_Priority(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		wantID string
	}{
		{
			name:   "known id beats keyword",
			body:   `<button id="kw">Volgende</button><button id="btnVolgendeTab">&gt;</button>`,
			wantID: "btnVolgendeTab",
		},
		{
			name:   "id suffix",
			body:   `<a id="wizardNext" href="#">&gt;</a>`,
			wantID: "wizardNext",
		},
		{
			name:   "input value",
			body:   `<input type="button" id="b1" value="Verder">`,
			wantID: "b1",
		},
		{
			name:   "button text",
			body:   `<button id="b2" type="button">Ga door naar de volgende stap</button>`,
			wantID: "b2",
		},
		{
			name:   "hidden control skipped",
			body:   `<button id="next" style="display:none">x</button><a id="link" href="#">Continue</a>`,
			wantID: "link",
		},
		{
			name:   "disabled control skipped",
			body:   `<button id="next" disabled>x</button><button id="ok">Next</button>`,
			wantID: "ok",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := page(tt.body)
			el, ok, err := newTestNavigator(t, p).FindNext(context.Background())
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.wantID, el.ID())
		})
	}
}

func TestFindPrevious(t *testing.T) {
	p := page(`<button id="fwd">Volgende</button><button id="bck">Vorige</button>`)
	el, ok, err := newTestNavigator(t, p).FindPrevious(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bck", el.ID())
}

func TestSteps(t *testing.T) {
	p := page(wizardSteps)
	snap, err := newTestNavigator(t, p).Steps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StepSnapshot{Current: 2, Total: 3}, snap)

	p = page(`<div role="tab" aria-selected="false">A</div><div role="tab" aria-selected="true">B</div>`)
	snap, err = newTestNavigator(t, p).Steps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StepSnapshot{Current: 2, Total: 2}, snap)
}

func TestNavigateNext(t *testing.T) {
	p := page(wizardSteps + `<button id="next" type="button">Volgende</button>`)
	p.OnEvent(func(p *domtest.Page, el dom.Element, ev dom.Event) {
		if el.ID() == "next" && ev.Type == "click" {
			p.SetAttr("//li[@id='s2']", "class", "step")
			p.SetAttr("//li[@id='s3']", "class", "step active")
		}
	})
	nav := newTestNavigator(t, p)

	snap, ok, err := nav.NavigateNext(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StepSnapshot{Current: 3, Total: 3}, snap)
	assert.False(t, p.Subscribed(), "the navigator releases its subscription")

	terminal, err := nav.Terminal(context.Background())
	require.NoError(t, err)
	assert.True(t, terminal)
}

func TestNavigateNext_NoControl(t *testing.T) {
	p := page(`<form><input id="a"></form>`)
	_, ok, err := newTestNavigator(t, p).NavigateNext(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, p.SubscribeCount())
}

func TestComplete(t *testing.T) {
	ctx := context.Background()

	t.Run("requires auto submit", func(t *testing.T) {
		p := page(`<form><button type="submit">Verzenden</button></form>`)
		submitted, err := newTestNavigator(t, p).Complete(ctx, false)
		require.NoError(t, err)
		assert.False(t, submitted)
		assert.Empty(t, p.Submissions())
	})

	t.Run("clicks visible submit control", func(t *testing.T) {
		p := page(`<form><input id="a"><button type="submit" id="send">Verzenden</button></form>`)
		submitted, err := newTestNavigator(t, p).Complete(ctx, true)
		require.NoError(t, err)
		assert.True(t, submitted)
		assert.Len(t, p.Submissions(), 1)
		assert.Contains(t, p.EventTypes("//button"), "click")
	})

	t.Run("falls back to form submit", func(t *testing.T) {
		p := page(`<form id="f"><input id="a"></form>`)
		submitted, err := newTestNavigator(t, p).Complete(ctx, true)
		require.NoError(t, err)
		assert.True(t, submitted)
		assert.Equal(t, []dom.Ref{p.Ref("//form")}, p.Submissions())
	})

	t.Run("not on the last step", func(t *testing.T) {
		p := page(`<ul><li class="step active">1</li><li class="step">2</li></ul><form><button type="submit">Verzenden</button></form>`)
		submitted, err := newTestNavigator(t, p).Complete(ctx, true)
		require.NoError(t, err)
		assert.False(t, submitted)
		assert.Empty(t, p.Submissions())
	})
}
