// Command auditctl is the operator-facing CLI: kick off a single detect
// pipeline run directly (bypassing Temporal, for local debugging) and
// manage the benchmark registry.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"auditpipeline/internal/config"
	"auditpipeline/internal/runctx"
	"auditpipeline/pkg/benchmark"
	"auditpipeline/pkg/benchmark/store"
	"auditpipeline/pkg/coverage"
	"auditpipeline/pkg/judge"
	"auditpipeline/pkg/pipeline"
	"auditpipeline/pkg/replay"
	"auditpipeline/pkg/rpcgate"
	"auditpipeline/pkg/supervisor"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "auditctl",
		Short: "Operate the adversarial audit pipeline",
	}
	root.AddCommand(runCmd(), benchCmd(), gatekeeperCmd(), replayCmd())
	return root
}

func runCmd() *cobra.Command {
	var (
		repoPath         string
		runID            string
		baseDir          string
		configPath       string
		secondaryModel   string
		secondaryCLIArgs []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the detect pipeline once against a checked-out repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("auditctl: loading config: %w", err)
			}
			if runID == "" {
				runID = runctx.GenerateRunID("detect", time.Now())
			}

			rc := runctx.New(context.Background(), repoPath, runID, baseDir, cfg)
			sup := supervisor.New(supervisor.MapBackend{
				supervisor.ToolSecondaryModel: {Path: secondaryModel, BaseArgs: secondaryCLIArgs},
			})

			summary, err := pipeline.Run(rc, sup, coverage.RegexExtractor{})
			if err != nil {
				return fmt.Errorf("auditctl: run failed: %w", err)
			}

			fmt.Printf("run %s: %d findings (%d dual-confirmed, %d primary-only, %d secondary-only), coverage met: %v, passes: %d\n",
				runID, summary.TotalFindings, summary.DualConfirmed, summary.SingleSourcePrimary,
				summary.SingleSourceSecondary, summary.CoverageMet, summary.PassesPerformed)
			return nil
		},
	}

	cmd.Flags().StringVar(&repoPath, "repo", "", "path to the checked-out repository (required)")
	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier (default: detect-<epoch-ms>)")
	cmd.Flags().StringVar(&baseDir, "base-dir", "artifacts", "base directory for per-run artifact stores")
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file overriding defaults")
	cmd.Flags().StringVar(&secondaryModel, "secondary-model", "secondary-model", "path to the secondary detector CLI")
	cmd.Flags().StringArrayVar(&secondaryCLIArgs, "secondary-model-arg", nil, "extra argument passed to the secondary detector CLI (repeatable)")
	_ = cmd.MarkFlagRequired("repo")

	return cmd
}

func benchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Manage the benchmark registry",
	}
	cmd.AddCommand(benchListCmd(), benchAddCmd(), benchRunCmd())
	return cmd
}

func benchRunCmd() *cobra.Command {
	var (
		dbPath         string
		name           string
		mode           string
		configPath     string
		secondaryModel string
		judgeModel     string
		gradingScript  string
		forgeTestBin   string
		disableJudge   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a registered benchmark's configured repetitions in detect/exploit/patch/pipeline mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("auditctl: loading config: %w", err)
			}

			s, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()

			benchmarks, err := s.List(cmd.Context())
			if err != nil {
				return err
			}
			var target *store.Benchmark
			for i := range benchmarks {
				if benchmarks[i].Name == name {
					target = &benchmarks[i]
					break
				}
			}
			if target == nil {
				return fmt.Errorf("auditctl: no registered benchmark named %q", name)
			}

			backend := supervisor.MapBackend{
				supervisor.ToolSecondaryModel: {Path: secondaryModel},
				supervisor.ToolJudgeModel:     {Path: judgeModel},
				supervisor.ToolGradingScript:  {Path: gradingScript},
				supervisor.ToolForgeTest:      {Path: forgeTestBin},
			}

			suite := &benchmark.Suite{
				Store:     s,
				Backend:   backend,
				Extractor: coverage.RegexExtractor{},
			}
			if !disableJudge {
				suite.Judge = judge.NewSupervisedJudge(supervisor.New(backend), cfg.SecondaryTimeout)
			}

			agg, samples, err := suite.RunBenchmark(cmd.Context(), *target, cfg, benchmark.Mode(mode))
			if err != nil {
				return fmt.Errorf("auditctl: running benchmark %q: %w", name, err)
			}

			fmt.Printf("benchmark %q (%s): precision %.4f recall %.4f f1 %.4f across %d run(s) (%s samples: %v)\n",
				name, mode, agg.Precision, agg.Recall, agg.F1, len(samples), benchmark.MetricName(benchmark.Mode(mode)), samples)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "benchmarks/registry.db", "path to the benchmark registry database")
	cmd.Flags().StringVar(&name, "name", "", "registered benchmark name (required)")
	cmd.Flags().StringVar(&mode, "mode", "detect", "benchmark mode: detect, exploit, patch, or pipeline")
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file overriding defaults")
	cmd.Flags().StringVar(&secondaryModel, "secondary-model", "secondary-model", "path to the secondary detector CLI")
	cmd.Flags().StringVar(&judgeModel, "judge-model", "judge-model", "path to the semantic judge model CLI")
	cmd.Flags().StringVar(&gradingScript, "grading-script", "grading-script", "path to the independent exploit-grading script (exploit mode)")
	cmd.Flags().StringVar(&forgeTestBin, "forge-test", "forge", "path to the forge test binary (patch mode's unseen-test verifier)")
	cmd.Flags().BoolVar(&disableJudge, "disable-semantic-judge", false, "skip match.MatchAll's optional semantic tier entirely")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// gatekeeperCmd serves the whitelisting JSON-RPC gatekeeper in front of a
// live chain endpoint, the §4.8 proxy that a benchmark's exploit mode
// and any live-chain run sits behind.
func gatekeeperCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatekeeper",
		Short: "Run the RPC gatekeeper in front of a chain endpoint",
	}
	cmd.AddCommand(gatekeeperServeCmd())
	return cmd
}

func gatekeeperServeCmd() *cobra.Command {
	var (
		listenAddr string
		upstream   string
		auditLog   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the gatekeeper, forwarding allowed calls to --upstream",
		RunE: func(cmd *cobra.Command, args []string) error {
			sink, err := rpcgate.NewFileAuditSink(auditLog)
			if err != nil {
				return fmt.Errorf("auditctl: opening audit log: %w", err)
			}
			defer sink.Close()

			gk := rpcgate.New(rpcgate.HTTPUpstream{URL: upstream}, sink)
			fmt.Printf("gatekeeper listening on %s, forwarding to %s\n", listenAddr, upstream)
			return http.ListenAndServe(listenAddr, gk.Router())
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", ":8645", "address to serve the gatekeeper on")
	cmd.Flags().StringVar(&upstream, "upstream", "", "chain JSON-RPC endpoint to forward allowed calls to (required)")
	cmd.Flags().StringVar(&auditLog, "audit-log", "gatekeeper-audit.jsonl", "path to the JSON-lines audit log")
	_ = cmd.MarkFlagRequired("upstream")
	return cmd
}

// replayCmd replays a gatekeeper-recorded transaction list against a
// freshly-provisioned chain and grades the resulting balance movement —
// §4.9's transaction replay and balance grader.
func replayCmd() *cobra.Command {
	var (
		txPath             string
		endpoint           string
		attacker, victim   string
		attackerInitialStr string
		victimInitialStr   string
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a recorded transaction list against a chain and grade the balance outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(txPath)
			if err != nil {
				return fmt.Errorf("auditctl: reading transactions %s: %w", txPath, err)
			}
			var txs []rpcgate.Transaction
			if err := json.Unmarshal(data, &txs); err != nil {
				return fmt.Errorf("auditctl: parsing transactions %s: %w", txPath, err)
			}

			client := rpcgate.HTTPClient{URL: endpoint}
			outcomes := replay.Replay(cmd.Context(), client, txs, time.Sleep)

			var attackerInitial, victimInitial float64
			fmt.Sscanf(attackerInitialStr, "%f", &attackerInitial)
			fmt.Sscanf(victimInitialStr, "%f", &victimInitial)

			attackerFinal, err := fetchBalance(cmd.Context(), client, attacker)
			if err != nil {
				return fmt.Errorf("auditctl: fetching attacker balance: %w", err)
			}
			victimFinal, err := fetchBalance(cmd.Context(), client, victim)
			if err != nil {
				return fmt.Errorf("auditctl: fetching victim balance: %w", err)
			}

			grade := replay.GradeBalances(attackerInitial, attackerFinal, victimInitial, victimFinal)

			out := struct {
				Outcomes []replay.TxOutcome `json:"outcomes"`
				Grade    replay.Grade       `json:"grade"`
			}{Outcomes: outcomes, Grade: grade}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&txPath, "transactions", "", "path to a JSON array of recorded transactions (required)")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "chain JSON-RPC endpoint to replay against (required)")
	cmd.Flags().StringVar(&attacker, "attacker", "", "attacker account address (required)")
	cmd.Flags().StringVar(&victim, "victim", "", "victim account address (required)")
	cmd.Flags().StringVar(&attackerInitialStr, "attacker-initial", "0", "attacker's balance before replay")
	cmd.Flags().StringVar(&victimInitialStr, "victim-initial", "0", "victim's balance before replay")
	_ = cmd.MarkFlagRequired("transactions")
	_ = cmd.MarkFlagRequired("endpoint")
	_ = cmd.MarkFlagRequired("attacker")
	_ = cmd.MarkFlagRequired("victim")
	return cmd
}

// fetchBalance calls eth_getBalance for addr and parses the hex-encoded
// wei result into a float64 (sufficient precision for the grader's
// fractional-loss comparison; exact wei accounting is not the grader's
// concern).
func fetchBalance(ctx context.Context, client rpcgate.HTTPClient, addr string) (float64, error) {
	params, err := json.Marshal([]string{addr, "latest"})
	if err != nil {
		return 0, err
	}
	result, err := client.Call(ctx, "eth_getBalance", params)
	if err != nil {
		return 0, err
	}
	var hex string
	if err := json.Unmarshal(result, &hex); err != nil {
		return 0, fmt.Errorf("auditctl: parsing balance result: %w", err)
	}
	var wei uint64
	if _, err := fmt.Sscanf(hex, "0x%x", &wei); err != nil {
		return 0, fmt.Errorf("auditctl: parsing hex balance %q: %w", hex, err)
	}
	return float64(wei), nil
}

func benchListCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered benchmarks",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()

			benchmarks, err := s.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(benchmarks) == 0 {
				fmt.Println("no benchmarks registered")
				return nil
			}
			for _, b := range benchmarks {
				fmt.Printf("%d\t%s\t%s\n", b.ID, b.Name, b.RepoPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "benchmarks/registry.db", "path to the benchmark registry database")
	return cmd
}

func benchAddCmd() *cobra.Command {
	var dbPath, name, repoPath, groundTruthPath string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new benchmark",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()

			id, err := s.Upsert(cmd.Context(), name, repoPath, groundTruthPath)
			if err != nil {
				return err
			}
			fmt.Printf("registered benchmark %q as id %d\n", name, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "benchmarks/registry.db", "path to the benchmark registry database")
	cmd.Flags().StringVar(&name, "name", "", "benchmark name (required)")
	cmd.Flags().StringVar(&repoPath, "repo", "", "path to the benchmark's repository (required)")
	cmd.Flags().StringVar(&groundTruthPath, "ground-truth", "", "path to the ground-truth findings file (required)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("ground-truth")
	return cmd
}
