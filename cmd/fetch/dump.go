package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"marketdata/internal/app"
	"marketdata/internal/facade"
	"marketdata/internal/logger"
)

type dumpOptions struct {
	symbolsFile string
	out         string
	batch       int
	concurrency int
}

func newDumpCmd(o *rootOptions) *cobra.Command {
	d := &dumpOptions{}
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Fetch quotes for every symbol in a file",
		Long: `dump reads symbols from --symbols-file and resolves them in batches
with a pool of workers. Retries and rate limits are applied by the adapters.
The result is one JSON document with every quote under "data" and every
symbol that could not be served under "diagnostics".

The symbols file is either a JSON array, a JSON object whose keys are the
symbols, or plain text with one symbol per line ('#' starts a comment).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			syms, err := readSymbols(d.symbolsFile)
			if err != nil {
				return fmt.Errorf("read symbols: %w", err)
			}
			if len(syms) == 0 {
				return fmt.Errorf("no symbols found in %s", d.symbolsFile)
			}
			return o.run(cmd, func(ctx context.Context, a *app.App) error {
				w := cmd.OutOrStdout()
				if d.out != "" && d.out != "-" {
					f, err := os.Create(d.out)
					if err != nil {
						return fmt.Errorf("create out: %w", err)
					}
					defer f.Close()
					w = f
				}
				return d.dump(ctx, a.Facade, syms, w)
			})
		},
	}
	cmd.Flags().StringVar(&d.symbolsFile, "symbols-file", "symbols.txt", "file listing the symbols to fetch")
	cmd.Flags().StringVar(&d.out, "out", "-", "output path, - for stdout")
	cmd.Flags().IntVar(&d.batch, "batch", 50, "symbols per request")
	cmd.Flags().IntVar(&d.concurrency, "concurrency", 4, "number of concurrent batches")
	return cmd
}

type batchFetcher interface {
	GetPricesDetailed(ctx context.Context, raws []string) (facade.BatchResult, error)
}

// dump streams quotes into w as they arrive so large lists never sit in memory
// twice.
func (d *dumpOptions) dump(ctx context.Context, f batchFetcher, syms []string, w io.Writer) error {
	batch := max(d.batch, 1)
	concurrency := max(d.concurrency, 1)

	bw := bufio.NewWriterSize(w, 1<<16)
	_, _ = bw.WriteString(`{"success":true,"data":[`)

	var (
		mu    sync.Mutex
		first = true
		diags = []facade.Diagnostic{}
	)

	type job struct {
		idx   int
		batch []string
	}
	jobs := make(chan job, concurrency*2)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for j := range jobs {
			res, err := f.GetPricesDetailed(ctx, j.batch)

			if err != nil {
				// The diagnostics already name every symbol of a failed batch.
				logger.Warn(ctx, "batch failed", "batch", j.idx, "symbols", len(j.batch), "error", err.Error())
			}

			mu.Lock()
			diags = append(diags, res.Diagnostics...)
			for _, q := range res.Quotes {
				raw, err := json.Marshal(q)
				if err != nil {
					continue
				}
				if !first {
					_ = bw.WriteByte(',')
				}
				first = false
				_, _ = bw.Write(raw)
			}
			mu.Unlock()
		}
	}

	for range concurrency {
		wg.Add(1)
		go worker()
	}

	n := 0
	for chunk := range slices.Chunk(syms, batch) {
		select {
		case jobs <- job{idx: n, batch: chunk}:
			n++
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	_, _ = bw.WriteString(`],"diagnostics":`)
	rawDiags, err := json.Marshal(diags)
	if err != nil {
		return err
	}
	_, _ = bw.Write(rawDiags)
	_, _ = bw.WriteString("}\n")
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	logger.Info(ctx, "dump finished", "symbols", len(syms), "batches", n, "dropped", len(diags))
	return ctx.Err()
}

func readSymbols(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(b))

	var names []string
	switch {
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal(b, &names); err != nil {
			return nil, err
		}
	case strings.HasPrefix(trimmed, "{"):
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, err
		}
		for k := range m {
			names = append(names, k)
		}
		slices.Sort(names)
	default:
		for line := range strings.Lines(trimmed) {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			names = append(names, line)
		}
	}
	return names, nil
}
