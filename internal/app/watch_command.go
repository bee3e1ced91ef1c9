package app

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/xswap-cli/internal/errors"
	"github.com/ggonzalez94/xswap-cli/internal/evm"
	"github.com/ggonzalez94/xswap-cli/internal/logging"
	"github.com/ggonzalez94/xswap-cli/internal/metrics"
	"github.com/ggonzalez94/xswap-cli/internal/session"
)

// watchUpdate is one envelope on the watch stream.
type watchUpdate struct {
	Sequence uint64         `json:"sequence"`
	Amount   string         `json:"amount"`
	Status   session.Status `json:"status"`
	Quote    *swapQuote     `json:"quote,omitempty"`
}

// reuseReaders keeps one reader per RPC URL for the lifetime of the command.
func (s *runtimeState) reuseReaders() {
	dial := s.dialReader
	var mu sync.Mutex
	readers := map[string]evm.Reader{}
	s.dialReader = func(ctx context.Context, rpcURL string) (evm.Reader, error) {
		mu.Lock()
		defer mu.Unlock()
		if r, ok := readers[rpcURL]; ok {
			return r, nil
		}
		r, err := dial(ctx, rpcURL)
		if err != nil {
			return nil, err
		}
		readers[rpcURL] = r
		return r, nil
	}
}

func (s *runtimeState) newWatchCommand() *cobra.Command {
	var (
		args          quoteArgs
		baseUnits     bool
		debounce      time.Duration
		refresh       time.Duration
		metricsListen string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Recalculate a swap quote for every amount read from stdin",
		Long:  "Reads one amount per line. Bursts are debounced and only the latest calculation is emitted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := trimRootPath(cmd.CommandPath())
			if !cmd.Flags().Changed("debounce") {
				debounce = s.settings.Swap.Debounce
			}
			if !cmd.Flags().Changed("metrics-listen") {
				metricsListen = s.settings.MetricsListen
			}
			if refresh < 0 {
				return clierr.New(clierr.CodeUsage, "--refresh must be >= 0")
			}
			s.reuseReaders()
			log := logging.Component(s.log, "watch")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			if metricsListen != "" {
				srv := metrics.Server(metricsListen)
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error().Err(err).Str("addr", metricsListen).Msg("metrics server stopped")
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			lines := make(chan string)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(s.runner.stdin)
				for scanner.Scan() {
					line := strings.TrimSpace(scanner.Text())
					if line == "" {
						continue
					}
					select {
					case lines <- line:
					case <-ctx.Done():
						return
					}
				}
			}()

			sess := session.New(log)
			var (
				emitMu sync.Mutex
				wg     sync.WaitGroup
				last   string
			)
			emit := func(update watchUpdate, warnings []string) {
				emitMu.Lock()
				defer emitMu.Unlock()
				_ = s.emitSuccess(path, update, warnings, cacheMetaBypass(), nil, false)
			}
			emitErr := func(err error) {
				emitMu.Lock()
				defer emitMu.Unlock()
				s.renderError(path, err, nil, nil, false)
			}
			calculate := func(amount string) (singleTrade, error) {
				a := args
				if baseUnits {
					a.amount, a.amountDecimal = amount, ""
				} else {
					a.amount, a.amountDecimal = "", amount
				}
				calcCtx, cancel := context.WithTimeout(ctx, s.settings.Timeout)
				defer cancel()
				calc, _, err := s.calculateSingle(calcCtx, a)
				return calc, err
			}
			mode, err := s.swapMode(args.mode)
			if err != nil {
				return err
			}

			var tick <-chan time.Time
			if refresh > 0 {
				ticker := time.NewTicker(refresh)
				defer ticker.Stop()
				tick = ticker.C
			}

			amounts := session.Debounce(ctx, lines, debounce)
			for {
				select {
				case amount, ok := <-amounts:
					if !ok {
						wg.Wait()
						return nil
					}
					token, err := sess.Begin()
					if err != nil {
						emitErr(err)
						continue
					}
					last = amount
					wg.Add(1)
					go func(token uint64, amount string) {
						defer wg.Done()
						calc, err := calculate(amount)
						if err != nil {
							if sess.Fail(token, err) {
								emitErr(err)
							}
							return
						}
						if sess.Apply(token, session.Calculation{Providers: calc.results}) {
							quote := calc.quote(mode)
							emit(watchUpdate{Sequence: token, Amount: amount, Status: sess.Status(), Quote: &quote}, calc.env.warnings)
						}
					}(token, amount)
				case <-tick:
					if last == "" {
						continue
					}
					token, ok := sess.BeginHidden()
					if !ok {
						continue
					}
					wg.Add(1)
					go func(token uint64, amount string) {
						defer wg.Done()
						calc, err := calculate(amount)
						if err != nil {
							log.Debug().Err(err).Msg("background refresh failed")
							return
						}
						if sess.ApplyHidden(token, session.Calculation{Providers: calc.results}) {
							quote := calc.quote(mode)
							emit(watchUpdate{Sequence: token, Amount: amount, Status: sess.Status(), Quote: &quote}, []string{"trade data changed; recalculate before swapping"})
						}
					}(token, last)
				case <-ctx.Done():
					wg.Wait()
					return nil
				}
			}
		},
	}
	args.register(cmd)
	cmd.Flags().BoolVar(&baseUnits, "base-units", false, "Read stdin amounts as base units instead of decimals")
	cmd.Flags().DurationVar(&debounce, "debounce", session.DefaultDebounce, "Quiet window before an amount is calculated; defaults to swap.debounce")
	cmd.Flags().DurationVar(&refresh, "refresh", 0, "Background recalculation interval (0 disables)")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address while watching")
	return cmd
}
