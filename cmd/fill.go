// File: cmd/fill.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/autofill-cli/api/schemas"
	"github.com/xkilldash9x/autofill-cli/internal/activity"
	"github.com/xkilldash9x/autofill-cli/internal/browser"
	"github.com/xkilldash9x/autofill-cli/internal/browser/dom"
	"github.com/xkilldash9x/autofill-cli/internal/config"
	"github.com/xkilldash9x/autofill-cli/internal/fill"
	"github.com/xkilldash9x/autofill-cli/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// formPage is a page the engine can fill.
type formPage interface {
	dom.Document
	activity.Source
}

// pageProvider attaches to the page a run works on. It returns the page, its
// URL and a release func.
type pageProvider interface {
	Attach(ctx context.Context, cfg config.BrowserConfig, navigateURL string) (formPage, string, func(), error)
}

// chromePageProvider attaches to the running Chrome over DevTools.
type chromePageProvider struct{}

func (chromePageProvider) Attach(ctx context.Context, cfg config.BrowserConfig, navigateURL string) (formPage, string, func(), error) {
	logger := observability.GetLogger()
	page, closeFn, err := browser.Attach(ctx, cfg, logger)
	if err != nil {
		return nil, "", nil, err
	}
	if navigateURL != "" {
		if err := page.Navigate(ctx, navigateURL, cfg.NavigationTimeout); err != nil {
			closeFn()
			return nil, "", nil, err
		}
	}
	pageURL, err := page.URL(ctx)
	if err != nil {
		logger.Debug("Could not read page URL.", zap.Error(err))
	}
	return page, pageURL, closeFn, nil
}

// fillOptions are the flag values of one fill invocation.
type fillOptions struct {
	payloadPath string
	url         string
	remote      string
	target      string
	optionsPath string
	output      string
	format      string
	maxSteps    int
	autoSubmit  bool
	dryRun      bool
}

func newFillCmd(d deps) *cobra.Command {
	var opts fillOptions

	fillCmd := &cobra.Command{
		Use:   "fill <payload.json>",
		Short: "Fill the form on the attached page from a JSON payload",
		Long: `Reads a flat JSON object of field keys and values, attaches to the running
Chrome and fills every key it can locate on the current page. Keys are tried in
payload order. Run options may be given in a JSON or YAML file with --options.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			opts.payloadPath = args[0]
			return runFill(ctx, observability.GetLogger(), cfg, opts, cmd.Flags().Changed("auto-submit"), d, cmd.OutOrStdout())
		},
	}

	fillCmd.Flags().StringVar(&opts.url, "url", "", "Navigate the attached page to this URL before filling")
	fillCmd.Flags().StringVar(&opts.remote, "remote", "", "DevTools endpoint of the running Chrome (overrides browser.remote_url)")
	fillCmd.Flags().StringVar(&opts.target, "target", "", "Attach to the first page whose URL contains this text")
	fillCmd.Flags().StringVar(&opts.optionsPath, "options", "", "JSON or YAML file with run options")
	fillCmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the run result to this file instead of stdout")
	fillCmd.Flags().StringVarP(&opts.format, "format", "f", "json", "Result format: json or yaml")
	fillCmd.Flags().IntVar(&opts.maxSteps, "max-steps", 0, "Maximum wizard steps to visit (overrides fill.max_steps)")
	fillCmd.Flags().BoolVar(&opts.autoSubmit, "auto-submit", false, "Submit the form after the last step")
	fillCmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Parse the payload and options, print the effective run configuration and exit")
	return fillCmd
}

// runFill holds the testable logic of the fill command.
func runFill(ctx context.Context, logger *zap.Logger, cfg config.Interface, opts fillOptions, autoSubmitSet bool, d deps, stdout io.Writer) error {
	format := strings.ToLower(opts.format)
	if format != "json" && format != "yaml" {
		return fmt.Errorf("unsupported format %q, use json or yaml", opts.format)
	}

	payload, err := loadPayload(opts.payloadPath)
	if err != nil {
		return err
	}

	fileOpts, err := loadRunOptions(opts.optionsPath)
	if err != nil {
		return err
	}
	flagOpts := map[string]interface{}{}
	if autoSubmitSet {
		flagOpts["autoSubmit"] = opts.autoSubmit
	}
	runCfg := config.NormalizeRunConfig(config.MergeOptions(cfg.Fill().Run, fileOpts, flagOpts), logger)

	maxSteps := cfg.Fill().MaxSteps
	if opts.maxSteps > 0 {
		maxSteps = opts.maxSteps
	}

	if opts.dryRun {
		plan := dryRunPlan{Keys: payload.Keys(), MaxSteps: maxSteps, Run: runCfg}
		return writeResult(stdout, opts.output, format, plan)
	}

	browserCfg := cfg.Browser()
	if opts.remote != "" {
		browserCfg.RemoteURL = opts.remote
		if err := browserCfg.Validate(); err != nil {
			return err
		}
	}
	if opts.target != "" {
		browserCfg.TargetURLContains = opts.target
	}

	page, pageURL, release, err := d.pages.Attach(ctx, browserCfg, opts.url)
	if err != nil {
		return fmt.Errorf("failed to attach to browser: %w", err)
	}
	defer release()

	engine := fill.NewEngine(page, page, cfg.Fill().Timing, logger)
	result, err := engine.FillForm(ctx, payload, fill.Options{Run: runCfg, MaxSteps: maxSteps})
	if err != nil {
		return fmt.Errorf("fill run failed: %w", err)
	}

	persistRun(ctx, logger, cfg, d.stores, pageURL, result)

	if err := writeResult(stdout, opts.output, format, result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("run %s completed with %d field error(s)", result.RunID, len(result.Errors))
	}
	return nil
}

// dryRunPlan is printed instead of a result when --dry-run is set.
type dryRunPlan struct {
	Keys     []schemas.FieldKey `json:"keys" yaml:"keys"`
	MaxSteps int                `json:"maxSteps" yaml:"max_steps"`
	Run      config.RunConfig   `json:"run" yaml:"run"`
}

func loadPayload(path string) (*schemas.Payload, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("invalid payload path %q: %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	payload, err := schemas.ParsePayload(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse payload %s: %w", expanded, err)
	}
	return payload, nil
}

// loadRunOptions reads a run options file. YAML is a superset of JSON, so one
// decoder serves both.
func loadRunOptions(path string) (map[string]interface{}, error) {
	if path == "" {
		return nil, nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("invalid options path %q: %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read options: %w", err)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse options %s: %w", expanded, err)
	}
	return raw, nil
}

// persistRun saves the result when a database is configured. A store failure
// never fails the run.
func persistRun(ctx context.Context, logger *zap.Logger, cfg config.Interface, stores storeProvider, pageURL string, result *schemas.RunResult) {
	if cfg.Database().URL == "" {
		return
	}
	s, cleanup, err := stores.Create(ctx, cfg)
	if err != nil {
		logger.Warn("Run history unavailable.", zap.Error(err))
		return
	}
	if cleanup != nil {
		defer cleanup()
	}
	if err := s.SaveRun(ctx, pageURL, result); err != nil {
		logger.Warn("Failed to persist run.", zap.String("run_id", result.RunID), zap.Error(err))
	}
}

// writeResult renders v as JSON or YAML to path, or to stdout when path is
// empty.
func writeResult(stdout io.Writer, path, format string, v interface{}) error {
	var (
		data []byte
		err  error
	)
	if format == "yaml" {
		data, err = yaml.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to serialize result: %w", err)
	}

	if path == "" {
		_, err = stdout.Write(data)
		return err
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("invalid output path %q: %w", path, err)
	}
	if err := os.WriteFile(expanded, data, 0o644); err != nil {
		return fmt.Errorf("failed to write result file: %w", err)
	}
	observability.GetLogger().Info("Result written.", zap.String("path", expanded))
	return nil
}
