package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/research/internal/config"
	"github.com/Kocoro-lab/Shannon/go/research/internal/formatting"
	"github.com/Kocoro-lab/Shannon/go/research/internal/metadata"
	"github.com/Kocoro-lab/Shannon/go/research/internal/providers"
	"github.com/Kocoro-lab/Shannon/go/research/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "researchctl",
		Short:         "Run and inspect research sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (default $RESEARCH_CONFIG_PATH or config/research.yaml)")
	root.PersistentFlags().Bool("verbose", false, "log engine activity to stderr")

	root.AddCommand(newRunCmd(), newPlanCmd(), newAssessCmd(), newHashKeyCmd(), newTokenCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var topic, depthName, out string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a research session in-process and print the cited report",
		RunE: func(cmd *cobra.Command, args []string) error {
			depth, err := research.ParseDepth(depthName)
			if err != nil {
				return err
			}
			if strings.TrimSpace(topic) == "" {
				return fmt.Errorf("--topic is required")
			}
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := cliLogger(cmd, cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			assessor, err := loadAssessor(cfg.Quality.TablePath, logger)
			if err != nil {
				return err
			}
			deps := providers.New(cfg.Search, cfg.Fetch, ratecontrol.NewPacer(cfg.RateLimits), assessor, logger)
			progress := research.ProgressFunc(func(p research.Progress) {
				fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s %s\n", p.Type, p.Aspect, p.Message)
			})
			lead := research.NewLeadResearcher(deps, formatting.NewReportSynthesizer(), cfg.Research, logger,
				research.WithProgressSink(progress))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			report, err := lead.Run(ctx, research.NewSession(topic, depth, time.Now()))
			if err != nil {
				return err
			}
			if out != "" {
				if err := os.WriteFile(out, []byte(report), 0o644); err != nil {
					return fmt.Errorf("failed to write report: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", out)
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "research topic")
	cmd.Flags().StringVar(&depthName, "depth", string(research.DepthModerate), "basic, moderate or comprehensive")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the report to a file instead of stdout")
	return cmd
}

func newPlanCmd() *cobra.Command {
	var topic, depthName string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the aspect plan for a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			depth, err := research.ParseDepth(depthName)
			if err != nil {
				return err
			}
			p := depth.Profile()
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Depth %s: up to %d iterations, coverage threshold %d%%, %d sources per aspect\n",
				depth, p.IterationCap, p.CoverageThreshold, p.MinSourcesPerAspect)
			for i, aspect := range research.Plan(topic, depth) {
				fmt.Fprintf(w, "%2d. %s\n", i+1, aspect)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "research topic")
	cmd.Flags().StringVar(&depthName, "depth", string(research.DepthModerate), "basic, moderate or comprehensive")
	return cmd
}

func newAssessCmd() *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "assess <url>...",
		Short: "Print the quality score and tier of each URL",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assessor, err := loadAssessor(table, zap.NewNop())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SCORE\tTIER\tURL")
			for _, u := range args {
				score, tier := assessor.Assess(u)
				fmt.Fprintf(w, "%d\t%s\t%s\n", score, tier, u)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "YAML quality table replacing the built-in one")
	return cmd
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <api-key>",
		Short: "Print the bcrypt hash to list under auth.api_key_hashes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashAPIKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		clientID string
		secret   string
		scopes   []string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the research API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("RESEARCH_AUTH_JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("--secret or RESEARCH_AUTH_JWT_SECRET is required")
			}
			token, err := auth.NewJWTManager(secret, ttl).GenerateToken(clientID, scopes)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "researchctl", "client id placed in the subject claim")
	cmd.Flags().StringVar(&secret, "secret", "", "HMAC signing secret")
	cmd.Flags().StringSliceVar(&scopes, "scopes", auth.DefaultScopes, "granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func loadAssessor(tablePath string, logger *zap.Logger) (*metadata.QualityAssessor, error) {
	assessor := metadata.NewQualityAssessor(logger)
	if tablePath != "" {
		if err := assessor.LoadFile(tablePath); err != nil {
			return nil, err
		}
	}
	return assessor, nil
}

func cliLogger(cmd *cobra.Command, cfg config.LoggingConfig) (*zap.Logger, error) {
	if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose {
		return zap.NewNop(), nil
	}
	cfg.Encoding = "console"
	return config.NewLogger(cfg)
}
