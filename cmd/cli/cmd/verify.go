// Package cmd - verify command
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"medbill-verify/adapters/bill"
	"medbill-verify/adapters/catalog"
	"medbill-verify/core/engine"
	"medbill-verify/core/oracle"
	"medbill-verify/core/output"
	"medbill-verify/core/policy"
	"medbill-verify/internal/config"
	"medbill-verify/internal/logging"
	"medbill-verify/internal/metrics"
)

var (
	billPath     string
	catalogPath  string
	hospital     string
	viewName     string
	outputFormat string
	workers      int
	useOracle    bool
	metricsOut   string
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a bill against hospital rate catalogs",
	Long: `Match every bill line to the hospital's rate catalog, compare the billed
amount with the allowed amount and report per-line statuses and totals.

--catalog is a .json or .xlsx catalog, or a directory of them. With several
catalogs the one whose hospital name best matches the bill is used.

Examples:
  medbill verify --bill bill.json --catalog ./tieups
  medbill verify --bill bill.json --catalog rates.xlsx --hospital "City Care Hospital"
  medbill verify --bill bill.json --catalog ./tieups --format json --view both
  medbill verify --bill bill.json --catalog ./tieups --oracle --metrics-out run.prom`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVarP(&billPath, "bill", "b", "", "bill JSON file")
	verifyCmd.Flags().StringVarP(&catalogPath, "catalog", "c", "", "catalog file or directory")
	verifyCmd.Flags().StringVar(&hospital, "hospital", "", "hospital name of a single catalog file")
	verifyCmd.Flags().StringVar(&viewName, "view", "", "view to print (final, debug, both)")
	verifyCmd.Flags().StringVarP(&outputFormat, "format", "f", "", "output format (table, json)")
	verifyCmd.Flags().IntVarP(&workers, "workers", "w", 0, "parallel line workers (0 = config)")
	verifyCmd.Flags().BoolVar(&useOracle, "oracle", false, "consult the LLM oracle for borderline matches")
	verifyCmd.Flags().StringVar(&metricsOut, "metrics-out", "", "write prometheus metrics to this textfile")
	_ = verifyCmd.MarkFlagRequired("bill")
	_ = verifyCmd.MarkFlagRequired("catalog")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Get()
	if workers > 0 {
		cfg.Matching.Workers = workers
	}
	if useOracle {
		cfg.Oracle.Enabled = true
	}
	if viewName != "" {
		cfg.Output.View = viewName
	}
	if outputFormat != "" {
		cfg.Output.Format = outputFormat
	}
	if metricsOut != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Textfile = metricsOut
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	view, err := output.ParseView(cfg.Output.View)
	if err != nil {
		return err
	}
	formatter, ok := output.NewRegistry().Get(output.Format(cfg.Output.Format))
	if !ok {
		return fmt.Errorf("unknown output format %q", cfg.Output.Format)
	}

	b, err := bill.LoadFile(billPath)
	if err != nil {
		return err
	}
	catalogs, err := catalog.NewLoader(catalog.Options{Hospital: hospital, Logger: logging.Logger}).Load(catalogPath)
	if err != nil {
		return err
	}

	wired, err := engineOptions(ctx, cfg)
	if err != nil {
		return err
	}
	defer wired.close()

	eng, err := engine.New(cfg.Engine(), wired.opts...)
	if err != nil {
		return err
	}

	resp, verifyErr := eng.Verify(ctx, b, catalogs)
	if resp == nil {
		return verifyErr
	}
	if err := formatter.Render(cmd.OutOrStdout(), resp, view); err != nil {
		return err
	}
	if wired.metrics != nil && cfg.Metrics.Textfile != "" {
		if err := wired.metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logging.Warn("failed to write metrics textfile", zap.String("path", cfg.Metrics.Textfile), zap.Error(err))
		}
	}
	if verifyErr != nil {
		return verifyErr
	}
	if !resp.Consistent {
		return fmt.Errorf("verification produced inconsistent views: %v", resp.Checks.Failed())
	}
	return nil
}

// wiring holds the collaborators configured outside the engine
type wiring struct {
	opts    []engine.Option
	metrics *metrics.Metrics
	close   func()
}

// engineOptions wires category policies, the shared decision cache and metrics
func engineOptions(ctx context.Context, cfg *config.Config) (*wiring, error) {
	w := &wiring{
		opts:  []engine.Option{engine.WithLogger(logging.Logger)},
		close: func() {},
	}

	if cfg.PolicyFile != "" {
		set, err := policy.LoadFile(cfg.PolicyFile, policy.Defaults(cfg.Matching.ItemAutoThreshold))
		if err != nil {
			return nil, err
		}
		w.opts = append(w.opts, engine.WithPolicies(set))
	}

	if cfg.Oracle.Enabled && cfg.Cache.Addr != "" {
		rc, err := oracle.DialRedis(ctx, cfg.Cache)
		if err != nil {
			logging.Warn("shared oracle cache unavailable, using in-memory cache",
				zap.String("addr", cfg.Cache.Addr), zap.Error(err))
		} else {
			w.opts = append(w.opts, engine.WithDecisionCache(rc))
			w.close = func() { _ = rc.Close() }
		}
	}

	if cfg.Metrics.Enabled {
		w.metrics = metrics.New()
		w.opts = append(w.opts, engine.WithMetrics(w.metrics))
	}
	return w, nil
}
