// File: internal/fill/validation_test.go
package fill

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autofill-cli/internal/browser/dom"
)

func TestCheckField(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "aria described",
			body: `<div><input id="target" aria-invalid="true" aria-describedby="hint err"></div>
				<p id="hint">Vier cijfers en twee letters</p><p id="err">Ongeldige postcode</p>`,
			want: []string{"Vier cijfers en twee letters", "Ongeldige postcode"},
		},
		{
			name: "aria valid ignores description",
			body: `<div><input id="target" aria-invalid="false" aria-describedby="hint"></div><p id="hint">Hint</p>`,
		},
		{
			name: "error class near the field",
			body: `<div class="row"><div class="field"><input id="target"></div><span class="field-error">Dit veld is verplicht</span></div>`,
			want: []string{"Dit veld is verplicht"},
		},
		{
			name: "invalid feedback",
			body: `<div><input id="target"><div class="invalid-feedback">Te kort</div></div>`,
			want: []string{"Te kort"},
		},
		{
			name: "deduplicated",
			body: `<div><input id="target" aria-invalid="true" aria-describedby="e1"><span id="e1" class="error">Fout</span></div>`,
			want: []string{"Fout"},
		},
		{
			name: "hidden message ignored",
			body: `<div><input id="target"><span class="error" style="display: none">Fout</span></div>`,
		},
		{
			name: "wrapper with control is not a message",
			body: `<div class="has-error"><label>Naam</label><input id="target"></div>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := page(`<form><section>` + tt.body + `</section></form>`)
			els, err := p.Query(context.Background(), dom.Root, "//*[@id='target']")
			require.NoError(t, err)
			require.Len(t, els, 1)

			msgs, err := NewInspector(p, true, zaptest.NewLogger(t)).CheckField(context.Background(), els[0])
			require.NoError(t, err)
			assert.Equal(t, tt.want, msgs)
		})
	}
}

func TestCheckForm(t *testing.T) {
	p := page(`<form id="f">
		<div class="row"><div class="field"><input id="email"><span class="error">Ongeldig e-mailadres</span></div></div>
		<div class="row"><div class="field"><input id="naam"></div></div>
	</form>`)
	ctx := context.Background()

	issues, err := NewInspector(p, true, zaptest.NewLogger(t)).CheckForm(ctx, p.Ref("//form"))
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "email", issues[0].Field.ID())
	assert.Equal(t, []string{"Ongeldig e-mailadres"}, issues[0].Messages)

	issues, err = NewInspector(p, false, zaptest.NewLogger(t)).CheckForm(ctx, dom.Root)
	require.NoError(t, err)
	assert.Empty(t, issues)
}
