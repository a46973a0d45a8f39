//go:build !lambda

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type cliOptions struct {
	configPath string
	verbose    bool
}

func (o *cliOptions) load() (Config, *zap.Logger, error) {
	cfg := DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = LoadConfig(o.configPath); err != nil {
			return cfg, nil, err
		}
	}
	var logger *zap.Logger
	var err error
	if o.verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return cfg, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "slate-optimizer",
		Short:         "Place artifacts and slates on the grid for the highest total level",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML tuning file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print detailed search progress to stderr")

	root.AddCommand(newOptimizeCmd(opts), newCheckCmd(opts), newServeCmd(opts), newHistoryCmd())
	return root
}

func newOptimizeCmd(opts *cliOptions) *cobra.Command {
	var (
		strategy   string
		deadline   time.Duration
		jsonOut    bool
		historyDir string
		seed       uint64
	)
	cmd := &cobra.Command{
		Use:   "optimize <problem.json>",
		Short: "Search for the best placement of one problem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			flags := cmd.Flags()
			if flags.Changed("deadline") {
				cfg.Deadline = deadline
			}
			if flags.Changed("history") {
				cfg.HistoryDir = historyDir
			}
			if flags.Changed("seed") {
				cfg.Seed = seed
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			pf, err := LoadProblem(args[0])
			if err != nil {
				return err
			}

			opt := NewOptimizer(cfg, logger)
			if opts.verbose {
				opt.OnImprove(func(p Progress) {
					fmt.Fprintf(os.Stderr, "  [%s] %d after %dms\n", p.Strategy, p.Score, p.ElapsedMs)
				})
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			start := time.Now()
			res, err := opt.Optimize(ctx, &pf.Problem, strategy)
			if err != nil {
				return err
			}
			if cfg.HistoryDir != "" {
				path, err := WriteHistory(cfg.HistoryDir, pf.Name, &pf.Problem, &res, start)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "archived %s\n", path)
			}

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(optimizeResponse{
					Name:   pf.Name,
					Result: res,
					Slots:  DescribeGrid(pf.Pieces, res.Grid()),
				})
			}
			if pf.Name != "" {
				fmt.Printf("Problem: %s\n", pf.Name)
			}
			fmt.Print(FormatResult(&pf.Problem, &res))
			fmt.Printf("Total: %d / %d in %.1fs\n", res.BestScore, res.MaxScore, float64(res.ElapsedMs)/1000)
			return nil
		},
	}
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "", "backtracking, evolutionary or portfolio (default from config)")
	cmd.Flags().DurationVarP(&deadline, "deadline", "d", 0, "Wall-clock budget, e.g. 2s")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the result as JSON")
	cmd.Flags().StringVar(&historyDir, "history", "", "Archive the run as parquet under this directory")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Seed for the evolutionary search (0 = clock)")
	return cmd
}

func newCheckCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <problem.json>",
		Short: "Report legal slot counts and whether any complete placement exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			pf, err := LoadProblem(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Deadline)
			defer cancel()

			rep := CheckProblem(ctx, &pf.Problem)
			fmt.Printf("%-24s %-9s %-20s %6s\n", "Piece", "Kind", "Condition", "Slots")
			for _, p := range rep.Pieces {
				fmt.Printf("%-24s %-9s %-20s %6d\n", p.InstanceID, p.Kind, p.Condition, p.LegalSlots)
			}
			if !rep.Feasible {
				fmt.Printf("infeasible: %s\n", rep.Reason)
				return nil
			}
			fmt.Println("feasible:")
			fmt.Print(FormatGrid(&pf.Problem, rep.Grid()))
			return nil
		},
	}
}

func newServeCmd(opts *cliOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the optimizer over HTTP and WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}

			srv := &http.Server{
				Addr:              cfg.Listen,
				Handler:           NewServer(cfg, logger).Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", zap.String("addr", cfg.Listen))
				errCh <- srv.ListenAndServe()
			}()
			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Deadline+5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (default from config)")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <dir>",
		Short: "List archived runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			rows, err := ReadHistory(args[0])
			if err != nil {
				return err
			}
			printTable(rows)
			return nil
		},
	}
}

func printTable(rows []HistoryRow) {
	fmt.Printf("%-20s %-24s %-22s %10s %8s\n", "Started", "Problem", "Strategy", "Score", "Time")
	fmt.Printf("%-20s %-24s %-22s %10s %8s\n", "--------------------", "------------------------",
		"----------------------", "----------", "--------")
	for _, r := range rows {
		score := fmt.Sprintf("%d/%d", r.BestScore, r.MaxScore)
		switch {
		case !r.Feasible:
			score = "infeasible"
		case r.TimedOut:
			score += "*"
		}
		started := time.UnixMilli(r.StartedAt).UTC().Format("2006-01-02 15:04:05")
		fmt.Printf("%-20s %-24s %-22s %10s %7.1fs\n", started, r.Problem, r.Strategy, score, float64(r.ElapsedMs)/1000)
	}
	fmt.Printf("%d runs (* = timed out)\n", len(rows))
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
