package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"marketdata/internal/app"
	"marketdata/internal/facade"
	"marketdata/internal/indicator"
	"marketdata/internal/symbol"
)

func newIndicesCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "indices",
		Short: "Print the configured benchmark indices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Facade.MarketIndices(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newMoversCmd(o *rootOptions) *cobra.Command {
	var (
		market string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "movers [SYMBOL...]",
		Short: "Rank symbols by change percent",
		Long: `movers prints the largest gainers and losers among the given symbols,
or among facade.mover_universe when none are given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := facade.MoversQuery{Universe: args, Limit: limit}
			if market != "" {
				q.Market = symbol.Market(strings.ToUpper(market))
			}
			return o.run(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Facade.TopMovers(ctx, q)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&market, "market", "", "rank only crypto, krx, nasdaq or equity quotes")
	cmd.Flags().IntVar(&limit, "limit", 5, "entries per list")
	return cmd
}

func newIndicatorsCmd(o *rootOptions) *cobra.Command {
	var (
		interval string
		count    int
		list     string
	)
	cmd := &cobra.Command{
		Use:   "indicators SYMBOL",
		Short: "Print candles with moving averages and RSI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := indicator.ParseList(list)
			if err != nil {
				return err
			}
			if len(specs) == 0 {
				return fmt.Errorf("%w: none requested", indicator.ErrInvalidIndicator)
			}
			return o.run(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Facade.Indicators(ctx, args[0], interval, count, specs)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&interval, "interval", "1h", "bar size: 1m, 5m, 1h or 1d")
	cmd.Flags().IntVar(&count, "count", 100, "number of bars, at most 500")
	cmd.Flags().StringVar(&list, "indicators", "sma,ema,rsi", "comma separated list such as sma:20,rsi:14")
	return cmd
}
