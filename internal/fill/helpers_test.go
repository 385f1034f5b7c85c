// File: internal/fill/helpers_test.go
package fill

import (
	"time"

	"github.com/xkilldash9x/autofill-cli/internal/browser/dom/domtest"
	"github.com/xkilldash9x/autofill-cli/internal/config"
)

// fastTiming keeps every wait in the millisecond range.
func fastTiming() config.TimingConfig {
	return config.TimingConfig{
		Debounce:         5 * time.Millisecond,
		QuiescenceBudget: 100 * time.Millisecond,
		FinalBudget:      100 * time.Millisecond,
		NavigationBudget: 100 * time.Millisecond,
		SettleInterval:   10 * time.Millisecond,
	}
}

// fastRun is the default run configuration without pacing or late-field
// polling.
func fastRun() config.RunConfig {
	cfg := config.DefaultRunConfig()
	cfg.FieldDetection.Timeout = 0
	cfg.Population.DelayBetweenFields = 0
	return cfg
}

func page(body string) *domtest.Page {
	return domtest.MustNew("<html><body>" + body + "</body></html>")
}
