package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"marketdata/internal/app"
	"marketdata/internal/config"
	"marketdata/internal/subscription"
)

// loadFunc reads configuration from a path; tests swap it for a fixed config.
type loadFunc func(path string) (config.Config, error)

type rootOptions struct {
	configPath string
	timeout    time.Duration
	load       loadFunc
}

func newRootCmd(load loadFunc) *cobra.Command {
	o := &rootOptions{load: load}
	root := &cobra.Command{
		Use:   "fetch",
		Short: "Query market data from the command line",
		Long: `fetch resolves quotes, candles, indices and DART disclosures through the same
facade the server uses. Upbit serves crypto, Yahoo serves US and KRX
equities and OpenDART serves Korean filings when DART_API_KEY is set.

Every command prints JSON on stdout.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&o.configPath, "config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	root.PersistentFlags().DurationVar(&o.timeout, "timeout", 15*time.Second, "overall deadline for one command")

	root.AddCommand(
		newQuoteCmd(o),
		newCandlesCmd(o),
		newWatchCmd(o),
		newDartCmd(o),
		newDumpCmd(o),
		newIndicesCmd(o),
		newMoversCmd(o),
		newIndicatorsCmd(o),
	)
	return root
}

// run opens an App for the duration of fn and always closes it.
func (o *rootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) (err error) {
	cfg, err := o.load(o.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = errors.Join(err, a.Close(closeCtx))
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newQuoteCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "quote SYMBOL...",
		Short: "Print the latest quote for one or more symbols",
		Long: `quote resolves every symbol in one batch. Symbols may be written the
way each exchange spells them (KRW-BTC, 005930.KS, aapl); symbols that
could not be served are listed under diagnostics.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Facade.GetPricesDetailed(ctx, args)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newCandlesCmd(o *rootOptions) *cobra.Command {
	var (
		interval string
		count    int
	)
	cmd := &cobra.Command{
		Use:   "candles SYMBOL",
		Short: "Print OHLCV bars for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App) error {
				cs, err := a.Facade.GetCandles(ctx, args[0], interval, count)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cs)
			})
		},
	}
	cmd.Flags().StringVar(&interval, "interval", "1h", "bar size: 1m, 5m, 1h or 1d")
	cmd.Flags().IntVar(&count, "count", 100, "number of bars, at most 500")
	return cmd
}

func newWatchCmd(o *rootOptions) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "watch SYMBOL...",
		Short: "Stream quote updates as JSON lines",
		Long: `watch subscribes to the symbols and prints every poll result as one
JSON object per line until --duration elapses or the command is interrupted.
A zero duration runs until --timeout.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App) error {
				if duration > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, duration)
					defer cancel()
				}
				updates := make(chan subscription.Update, 16)
				h, err := a.Manager.Subscribe(args, func(u subscription.Update) {
					select {
					case updates <- u:
					default:
					}
				})
				if err != nil {
					return err
				}
				defer h.Unsubscribe()

				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetEscapeHTML(false)
				for {
					select {
					case <-ctx.Done():
						return nil
					case u := <-updates:
						if err := enc.Encode(u); err != nil {
							return err
						}
					}
				}
			})
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long")
	return cmd
}

func newDartCmd(o *rootOptions) *cobra.Command {
	var pages int
	cmd := &cobra.Command{
		Use:   "dart STOCKCODE",
		Short: "Print a DART company summary",
		Long: `dart prints recent disclosures, company details and key financial
metrics for a six digit KRX stock code. Requires DART_API_KEY.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App) error {
				s, err := a.Facade.CompanySummary(ctx, args[0], pages)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), s)
			})
		},
	}
	cmd.Flags().IntVar(&pages, "pages", 10, "number of disclosures to include")

	cmd.AddCommand(&cobra.Command{
		Use:   "search QUERY",
		Short: "Find companies by name or stock code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App) error {
				cs, err := a.Facade.SearchCompanies(args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cs)
			})
		},
	})
	return cmd
}
