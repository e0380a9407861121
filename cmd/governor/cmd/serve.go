package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/runtimegov/governor/internal/adapter/outbound/cel"
	"github.com/runtimegov/governor/internal/adapter/outbound/eventbus"
	"github.com/runtimegov/governor/internal/adapter/outbound/memory"
	"github.com/runtimegov/governor/internal/adapter/outbound/notify"
	"github.com/runtimegov/governor/internal/domain/action"
	"github.com/runtimegov/governor/internal/domain/chain"
	"github.com/runtimegov/governor/internal/domain/escalation"
	"github.com/runtimegov/governor/internal/domain/session"
	"github.com/runtimegov/governor/internal/domain/verification"
	"github.com/runtimegov/governor/internal/domain/wallet"
	"github.com/runtimegov/governor/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Wire the governance engine and evaluate requests from stdin",
	Long: `serve constructs the Pipeline Orchestrator (C7) against in-memory
adapters — or a file or SQLite audit store, per audit.backend — and reads newline-
delimited action.Request JSON from stdin, printing the resulting
action.Result for each. Every published event bus (C10) message is also
printed as it arrives. There is no network listener here; this command
exists to exercise the wiring end to end, not to serve production traffic.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := setupTelemetry(os.Stderr)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	auditStore, err := newAuditStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("audit store: %w", err)
	}

	policyStore := memory.NewPolicyStore()
	if cfg.PolicyFile != "" {
		if err := policyStore.LoadBaseFile(ctx, cfg.PolicyFile); err != nil {
			return fmt.Errorf("load base policy file: %w", err)
		}
	}
	ttl, err := time.ParseDuration(cfg.Engine.PolicyCacheTTL)
	if err != nil {
		return fmt.Errorf("engine.policy_cache_ttl: %w", err)
	}
	policyCache, err := service.NewPolicyCache(ctx, policyStore, ttl, logger)
	if err != nil {
		return fmt.Errorf("policy cache: %w", err)
	}

	killSwitch := newKillSwitch(logger)
	sessionStore := session.NewStore(auditStore)

	evaluator, err := cel.NewChainEvaluator()
	if err != nil {
		return fmt.Errorf("chain evaluator: %w", err)
	}
	chainAnalyzer := chain.NewAnalyzer(evaluator)

	bus := eventbus.New(cfg.Engine.EventBusBufferSize, nil)
	bus.StartHeartbeat()
	defer bus.Stop()

	escalationTimeout, err := time.ParseDuration(cfg.Engine.EscalationTimeout)
	if err != nil {
		return fmt.Errorf("engine.escalation_timeout: %w", err)
	}

	escalationStore := memory.NewEscalationStore()
	recorder := notify.NewRecorder()
	escalationEngine := escalation.NewEngine(escalationStore, auditStore, killSwitch, recorder, escalationTimeout, logger)
	escalationEngine.StartExpirySweeper(ctx, 0)
	defer escalationEngine.Stop()

	var walletStore wallet.Store
	if cfg.Engine.FeesEnabled {
		walletStore = memory.NewWalletStore()
	}

	verificationStore := memory.NewVerificationStore()
	verificationEngine := verification.NewEngine(verificationStore, auditStore, policyCache, escalationStore, recorder, cfg.Engine.DriftBaselineDepth, logger)

	engine := service.NewEngine(
		killSwitch,
		policyCache,
		sessionStore,
		chainAnalyzer,
		auditStore,
		bus,
		escalationEngine,
		walletStore,
		verificationEngine,
		service.EngineConfig{
			FeesEnabled: cfg.Engine.FeesEnabled,
			Allowlist:   cfg.Engine.RiskAllowlist,
		},
		logger,
	)

	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	go printEvents(events)

	logger.Info("governor serving", "audit_backend", cfg.Audit.Backend, "fees_enabled", cfg.Engine.FeesEnabled)
	fmt.Fprintln(os.Stderr, "governor is running; paste one action.Request JSON object per line, Ctrl+C to stop")

	lines := make(chan string)
	go readLines(lines)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			var req action.Request
			if err := json.Unmarshal([]byte(line), &req); err != nil {
				fmt.Fprintf(os.Stderr, "invalid request: %v\n", err)
				continue
			}
			result, err := engine.Evaluate(ctx, req)
			if err != nil {
				fmt.Fprintf(os.Stderr, "evaluate error: %v\n", err)
				continue
			}
			out, _ := json.Marshal(result)
			fmt.Println(string(out))
		}
	}
}

func printEvents(events <-chan eventbus.Event) {
	for ev := range events {
		fmt.Fprintf(os.Stderr, "[%s] %s %+v\n", ev.Timestamp.Format(time.RFC3339), ev.Kind, ev.Payload)
	}
}

func readLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}
