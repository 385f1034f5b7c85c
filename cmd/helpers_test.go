// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/autofill-cli/api/schemas"
	"github.com/xkilldash9x/autofill-cli/internal/browser/dom/domtest"
	"github.com/xkilldash9x/autofill-cli/internal/config"
	"github.com/xkilldash9x/autofill-cli/internal/observability"
)

// fastConfig keeps every timing window in the millisecond range.
const fastConfig = `
logger:
  level: fatal
fill:
  timing:
    debounce: 5ms
    quiescence_budget: 100ms
    final_budget: 100ms
    navigation_budget: 100ms
    settle_interval: 10ms
    key_delay_min: 0s
    key_delay_max: 0s
    retry_base_delay: 1ms
  run:
    fieldDetection:
      timeout: 0
    population:
      delayBetweenFields: 0
`

// fakePages hands out an in-memory page.
type fakePages struct {
	page     *domtest.Page
	err      error
	gotCfg   config.BrowserConfig
	gotURL   string
	released bool
}

func (f *fakePages) Attach(_ context.Context, cfg config.BrowserConfig, navigateURL string) (formPage, string, func(), error) {
	f.gotCfg = cfg
	f.gotURL = navigateURL
	if f.err != nil {
		return nil, "", nil, f.err
	}
	return f.page, "https://example.nl/aanvraag", func() { f.released = true }, nil
}

// fakeStore records saved runs in memory.
type fakeStore struct {
	mu      sync.Mutex
	saved   []*schemas.RunResult
	urls    []string
	records []schemas.RunRecord
	saveErr error
}

func (f *fakeStore) SaveRun(_ context.Context, pageURL string, res *schemas.RunResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, res)
	f.urls = append(f.urls, pageURL)
	return nil
}

func (f *fakeStore) RecentRuns(_ context.Context, limit int) ([]schemas.RunRecord, error) {
	if len(f.records) > limit {
		return f.records[:limit], nil
	}
	return f.records, nil
}

type fakeStores struct {
	store   *fakeStore
	err     error
	created int
}

func (f *fakeStores) Create(context.Context, config.Interface) (runStore, func(), error) {
	f.created++
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.store, nil, nil
}

var errNoStore = errors.New("no database")

// writeFile writes content into the test's temp dir and returns the path.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// executeCommand runs a fresh command tree with the fast config.
func executeCommand(t *testing.T, d deps, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(observability.ResetForTest)
	cfgPath := writeFile(t, "config.yaml", fastConfig)

	root := newRootCommand(d)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}
