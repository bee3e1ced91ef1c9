package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/xswap-cli/internal/cache"
	"github.com/ggonzalez94/xswap-cli/internal/config"
	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/evm"
	"github.com/ggonzalez94/xswap-cli/internal/execution"
	"github.com/ggonzalez94/xswap-cli/internal/httpx"
	"github.com/ggonzalez94/xswap-cli/internal/logging"
	"github.com/ggonzalez94/xswap-cli/internal/model"
	"github.com/ggonzalez94/xswap-cli/internal/out"
	"github.com/ggonzalez94/xswap-cli/internal/policy"
	"github.com/ggonzalez94/xswap-cli/internal/providers/defillama"
	"github.com/ggonzalez94/xswap-cli/internal/schema"
	"github.com/ggonzalez94/xswap-cli/internal/trade"
	"github.com/ggonzalez94/xswap-cli/internal/version"
)

type Runner struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time

	// dial and prices replace the chain and price backends in tests.
	dial   func(ctx context.Context, rpcURL string) (evm.Reader, error)
	prices priceSource
}

// priceSource is the USD oracle, also listed by `providers list`.
type priceSource interface {
	trade.PriceOracle
	Info() model.ProviderInfo
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdin:  os.Stdin,
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

// WithInput replaces the reader `watch` consumes amounts from.
func (r *Runner) WithInput(in io.Reader) *Runner {
	r.stdin = in
	return r
}

type runtimeState struct {
	runner        *Runner
	flags         config.GlobalFlags
	settings      config.Settings
	log           zerolog.Logger
	cache         *cache.Store
	actionStore   *execution.Store
	root          *cobra.Command
	lastCommand   string
	lastWarnings  []string
	lastProviders []model.ProviderStatus
	lastPartial   bool

	httpClient *httpx.Client
	prices     priceSource
	// dialReader opens the chain reader for an RPC URL; tests swap it.
	dialReader func(ctx context.Context, rpcURL string) (evm.Reader, error)
	closers    []func()
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, log: zerolog.Nop(), prices: r.prices}
	state.dialReader = state.dialEVM
	if r.dial != nil {
		state.dialReader = r.dial
	}
	root := state.newRootCommand()
	state.root = root
	state.resetCommandDiagnostics()
	root.SetArgs(args)
	root.SetIn(r.stdin)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	if err != nil {
		state.renderError("", err, state.lastWarnings, state.lastProviders, state.lastPartial)
	}
	state.close()
	return clierr.ExitCode(err)
}

func (s *runtimeState) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
	if s.cache != nil {
		_ = s.cache.Close()
		s.cache = nil
	}
	if s.actionStore != nil {
		_ = s.actionStore.Close()
		s.actionStore = nil
	}
}

func (s *runtimeState) dialEVM(ctx context.Context, rpcURL string) (evm.Reader, error) {
	client, err := evm.Dial(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, client.Close)
	return client, nil
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Cross-chain swap construction CLI",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			if err := policy.CheckCommandAllowed(settings.EnableCommands, path); err != nil {
				return err
			}

			level := settings.LogLevel
			if level == "" && normalizeCommandPath(path) == "watch" {
				level = "info"
			}
			logger, err := logging.New(s.runner.stderr, level, settings.LogFormat)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "configure logging", err)
			}
			s.log = logger

			if s.httpClient == nil {
				s.httpClient = httpx.New(settings.Timeout, settings.Retries)
			}
			if s.prices == nil {
				s.prices = defillama.New(s.httpClient)
			}

			if settings.CacheEnabled && shouldOpenCache(path) && s.cache == nil {
				cacheStore, err := cache.Open(settings.CachePath, settings.CacheLockPath)
				if err != nil {
					return clierr.Wrap(clierr.CodeInternal, "open cache", err)
				}
				s.cache = cacheStore
			}
			if shouldOpenActionStore(path) {
				if err := s.ensureActionStore(); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.flags.Strict, "strict", false, "Fail on partial results")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per provider HTTP request")
	cmd.PersistentFlags().StringVar(&s.flags.MaxStale, "max-stale", "", "Maximum stale fallback window after TTL expiry")
	cmd.PersistentFlags().BoolVar(&s.flags.NoStale, "no-stale", false, "Reject stale cache entries")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable quote cache reads and writes")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level (disabled|debug|info|warn|error)")

	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(s.newProvidersCommand())
	cmd.AddCommand(s.newChainsCommand())
	cmd.AddCommand(s.newRouteCommand())
	cmd.AddCommand(s.newSwapCommand())
	cmd.AddCommand(s.newCrossChainCommand())
	cmd.AddCommand(s.newSolanaCommand())
	cmd.AddCommand(s.newWatchCommand())
	cmd.AddCommand(s.newActionsCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), nil, false)
		},
	}
}

type fetchFn func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error)

func (s *runtimeState) runCachedCommand(commandPath, key string, ttl time.Duration, fetch fetchFn) error {
	s.resetCommandDiagnostics()
	cacheStatus := cacheMetaMiss()
	warnings := []string{}
	var staleData any
	staleAvailable := false
	staleObservedAge := time.Duration(0)
	staleObservedAt := time.Time{}
	staleCacheStatus := cacheMetaMiss()

	if s.settings.CacheEnabled && s.cache != nil {
		cached, err := s.cache.Get(key, s.settings.MaxStale)
		if err == nil && cached.Hit {
			entryStatus := model.CacheStatus{Status: "hit", AgeMS: cached.Age.Milliseconds(), Stale: cached.Stale}
			if data, err := out.DecodeJSON(cached.Value); err == nil {
				if !cached.Stale {
					s.captureCommandDiagnostics(warnings, nil, false)
					return s.emitSuccess(commandPath, data, warnings, entryStatus, nil, false)
				}
				staleData = data
				staleAvailable = true
				staleObservedAge = cached.Age
				staleObservedAt = time.Now()
				staleCacheStatus = entryStatus
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
	defer cancel()
	data, providerStatus, providerWarnings, partial, err := fetch(ctx)
	warnings = append(warnings, providerWarnings...)
	s.captureCommandDiagnostics(warnings, providerStatus, partial)
	if err != nil {
		if staleAvailable {
			if !staleFallbackAllowed(err) {
				return err
			}
			currentStaleAge := staleObservedAge
			if !staleObservedAt.IsZero() {
				currentStaleAge += time.Since(staleObservedAt)
			}
			staleCacheStatus.AgeMS = currentStaleAge.Milliseconds()
			if s.settings.NoStale {
				return clierr.Wrap(clierr.CodeStale, "fresh quote failed and stale fallback is disabled (--no-stale)", err)
			}
			if staleExceedsBudget(currentStaleAge, ttl, s.settings.MaxStale) {
				return clierr.Wrap(clierr.CodeStale, "fresh quote failed and cached data exceeded stale budget", err)
			}
			warnings = append(warnings, "quote failed; serving stale data within max-stale budget")
			s.captureCommandDiagnostics(warnings, providerStatus, false)
			return s.emitSuccess(commandPath, staleData, warnings, staleCacheStatus, providerStatus, false)
		}
		return err
	}

	if partial && s.settings.Strict {
		s.captureCommandDiagnostics(warnings, providerStatus, true)
		return clierr.New(clierr.CodePartialStrict, "partial results returned in strict mode")
	}

	if s.settings.CacheEnabled && s.cache != nil {
		if payload, err := json.Marshal(data); err == nil {
			if err := s.cache.SetFor(commandPath, key, payload, ttl); err == nil {
				cacheStatus = model.CacheStatus{Status: "write"}
			}
		}
	}

	s.captureCommandDiagnostics(warnings, providerStatus, partial)
	return s.emitSuccess(commandPath, data, warnings, cacheStatus, providerStatus, partial)
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, cacheStatus model.CacheStatus, providers []model.ProviderStatus, partial bool) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providers,
			Cache:     cacheStatus,
			Partial:   partial,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error, warnings []string, providers []model.ProviderStatus, partial bool) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    clierr.ExitCode(err),
			Type:    errorType(err),
			Message: message,
		},
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providers,
			Cache:     cacheMetaBypass(),
			Partial:   partial,
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func errorType(err error) string {
	cErr, ok := clierr.As(err)
	if !ok {
		return "internal_error"
	}
	switch cErr.Code {
	case clierr.CodeUsage:
		return "usage_error"
	case clierr.CodeAuth:
		return "auth_error"
	case clierr.CodeRateLimited:
		return "rate_limited"
	case clierr.CodeUnavailable:
		return "provider_unavailable"
	case clierr.CodeUnsupported:
		return "unsupported"
	case clierr.CodeStale:
		return "stale_data"
	case clierr.CodePartialStrict:
		return "partial_results"
	case clierr.CodeBlocked:
		return "command_blocked"
	case clierr.CodeInsufficientLiquidity:
		return "insufficient_liquidity"
	case clierr.CodeUnprofitableRoutes:
		return "unprofitable_routes"
	case clierr.CodeTokenWithFee:
		return "token_with_fee"
	case clierr.CodeUnsupportedNetwork:
		return "unsupported_network"
	case clierr.CodeNoSelectedProvider:
		return "no_selected_provider"
	case clierr.CodeInsufficientBalance:
		return "insufficient_balance"
	case clierr.CodeBusy:
		return "busy"
	case clierr.CodeActionPlan:
		return "action_plan_error"
	case clierr.CodeActionSim:
		return "action_simulation_error"
	case clierr.CodeSigner:
		return "signer_error"
	case clierr.CodeActionTimeout:
		return "action_timeout"
	default:
		return "internal_error"
	}
}

func (s *runtimeState) ensureActionStore() error {
	if s.actionStore != nil {
		return nil
	}
	store, err := execution.OpenStore(s.settings.ActionStorePath, s.settings.ActionLockPath)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "open action store", err)
	}
	s.actionStore = store
	return nil
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		norm := strings.ToLower(strings.TrimSpace(part))
		if norm != "" {
			out = append(out, norm)
		}
	}
	return out
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func statusFromErr(err error) string {
	if err == nil {
		return "ok"
	}
	if cErr, ok := clierr.As(err); ok {
		switch cErr.Code {
		case clierr.CodeAuth:
			return "auth_error"
		case clierr.CodeRateLimited:
			return "rate_limited"
		case clierr.CodeUnavailable:
			return "unavailable"
		case clierr.CodeInsufficientLiquidity:
			return "no_liquidity"
		default:
			return "error"
		}
	}
	return "error"
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass"}
}

func cacheMetaMiss() model.CacheStatus {
	return model.CacheStatus{Status: "miss"}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func staleExceedsBudget(age, ttl, maxStale time.Duration) bool {
	if age <= ttl {
		return false
	}
	if maxStale < 0 {
		return false
	}
	return age > ttl+maxStale
}

func staleFallbackAllowed(err error) bool {
	cErr, ok := clierr.As(err)
	if !ok {
		return false
	}
	return cErr.Code == clierr.CodeUnavailable || cErr.Code == clierr.CodeRateLimited
}

// shouldOpenCache lists the quote commands; execution paths never read
// cached quotes.
func shouldOpenCache(commandPath string) bool {
	switch normalizeCommandPath(commandPath) {
	case "route find", "swap quote", "crosschain quote":
		return true
	default:
		return false
	}
}

func shouldOpenActionStore(commandPath string) bool {
	path := normalizeCommandPath(commandPath)
	if strings.HasPrefix(path, "actions ") {
		return true
	}
	switch path {
	case "swap plan", "swap submit", "swap approve", "crosschain plan", "crosschain submit":
		return true
	default:
		return false
	}
}

func normalizeCommandPath(commandPath string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(commandPath))), " ")
}

func (s *runtimeState) resetCommandDiagnostics() {
	s.lastWarnings = nil
	s.lastProviders = nil
	s.lastPartial = false
}

func (s *runtimeState) captureCommandDiagnostics(warnings []string, providers []model.ProviderStatus, partial bool) {
	if len(warnings) == 0 {
		s.lastWarnings = nil
	} else {
		s.lastWarnings = append([]string(nil), warnings...)
	}
	if len(providers) == 0 {
		s.lastProviders = nil
	} else {
		s.lastProviders = append([]model.ProviderStatus(nil), providers...)
	}
	s.lastPartial = partial
}
