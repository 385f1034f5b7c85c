// internal/browser/dom/domtest/page_test.go
package domtest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/autofill-cli/internal/browser/dom"
	"github.com/xkilldash9x/autofill-cli/internal/browser/dom/domtest"
)

func TestQuery_SuffixOnElementsWithoutID(t *testing.T) {
	p := domtest.MustNew(`<html><body><form>
<input name="email">
<div class="row"><a href="#">terug</a></div>
<button id="ab">Kort</button>
<button id="stepNext">Verder</button>
</form></body></html>`)

	els, err := p.Query(context.Background(), dom.Root, "//*["+dom.EndsWith(dom.Lower("@id"), "next")+"]")
	require.NoError(t, err)
	require.Len(t, els, 1)
	assert.Equal(t, "stepNext", els[0].Attrs["id"])
}
