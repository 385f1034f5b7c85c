// internal/browser/attach.go
package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autofill-cli/internal/config"
)

// Attach connects to an already running Chrome over its DevTools endpoint
// and binds to an existing page tab. The returned close func detaches
// without closing the tab.
func Attach(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Page, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("browser")

	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)

	connectCtx, cancelConnect := CombineContext(allocCtx, ctx)
	defer cancelConnect()
	if cfg.ConnectTimeout > 0 {
		var cancelTimeout context.CancelFunc
		connectCtx, cancelTimeout = context.WithTimeout(connectCtx, cfg.ConnectTimeout)
		defer cancelTimeout()
	}

	targetID, err := findPageTarget(connectCtx, cfg.TargetURLContains)
	if err != nil {
		cancelAlloc()
		return nil, nil, fmt.Errorf("no page target found at %s: %w", cfg.RemoteURL, err)
	}

	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithTargetID(targetID))
	attachCtx, cancelAttach := CombineContext(tabCtx, connectCtx)
	err = chromedp.Run(attachCtx)
	cancelAttach()
	if err != nil {
		cancelAlloc()
		cancelTab()
		return nil, nil, fmt.Errorf("failed to attach to page %s: %w", targetID, err)
	}
	log.Info("Attached to Chrome page.", zap.String("target", string(targetID)))

	p := NewPage(tabCtx, logger, cfg.ActionTimeout)
	closeFn := func() {
		// Dropping the connection first leaves the tab open; canceling the
		// tab context on a live connection would close it.
		cancelAlloc()
		cancelTab()
		log.Debug("Detached from Chrome.")
	}
	return p, closeFn, nil
}

// findPageTarget picks the first page whose URL contains urlPart. Without a
// filter it falls back to any target.
func findPageTarget(allocCtx context.Context, urlPart string) (target.ID, error) {
	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	targets, err := chromedp.Targets(ctx)
	if err != nil {
		return "", err
	}
	return pickTarget(targets, urlPart)
}

func pickTarget(targets []*target.Info, urlPart string) (target.ID, error) {
	for _, t := range targets {
		if t.Type == "page" && (urlPart == "" || strings.Contains(t.URL, urlPart)) {
			return t.TargetID, nil
		}
	}
	if urlPart != "" {
		return "", fmt.Errorf("no page URL contains %q", urlPart)
	}
	if len(targets) > 0 {
		return targets[0].TargetID, nil
	}
	return "", fmt.Errorf("no targets available")
}
