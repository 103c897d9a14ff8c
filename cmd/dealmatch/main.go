package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dealmatch",
		Short:         "Score funding-seeking subjects and match them to sponsors",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default: from config)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (default: from config)")

	root.AddCommand(rescoreCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(scoreCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func rescoreCmd() *cobra.Command {
	var opts rescoreOptions

	cmd := &cobra.Command{
		Use:   "rescore",
		Short: "Recompute quality scores and matches once",
		Long: `Recompute quality scores for every subject and rebuild the match set.

Exits non-zero unless every subject completed. --since and --below restrict
which subjects get their matches rebuilt; quality scores are always
recomputed over the whole population.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.belowSet = cmd.Flags().Changed("below")
			return runRescore(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.since, "since", "", "only subjects updated since an RFC3339 time or a duration ago (e.g. 24h)")
	cmd.Flags().Float64Var(&opts.below, "below", 0, "only subjects whose quality score is below this value")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "compute and report without writing")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus textfile metrics here (default: from config)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "output the run report as JSON")
	return cmd
}

func validateCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Evaluate pending submissions through the validation gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "max subjects to evaluate (default: from config)")
	return cmd
}

func scoreCmd() *cobra.Command {
	var subjectID, sponsorID string

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score one subject against one sponsor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd.Context(), subjectID, sponsorID)
		},
	}

	cmd.Flags().StringVar(&subjectID, "subject", "", "subject id")
	cmd.Flags().StringVar(&sponsorID, "sponsor", "", "sponsor id")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("sponsor")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
