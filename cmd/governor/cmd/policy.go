package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/runtimegov/governor/internal/adapter/outbound/memory"
	"github.com/runtimegov/governor/internal/config"
	"github.com/runtimegov/governor/internal/domain/policy"
	"github.com/runtimegov/governor/internal/service"
)

var policyListActiveOnly bool

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect or load governance policies (spec §4.2)",
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List policies from the configured base file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Server.LogLevel)
		_, admin, err := newPolicyAdmin(cfg, logger)
		if err != nil {
			return err
		}

		policies, err := admin.List(context.Background(), policyListActiveOnly)
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}
		if len(policies) == 0 {
			fmt.Println("no policies loaded")
			return nil
		}
		for _, p := range policies {
			fmt.Printf("%-24s %-6s %-20s %-8s active=%v v%d\n", p.ID, p.Severity, p.ToolPattern, p.Action, p.Active, p.Version)
		}
		return nil
	},
}

var policyImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load a YAML document of base policy entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Server.LogLevel)
		_, admin, err := newPolicyAdmin(cfg, logger)
		if err != nil {
			return err
		}

		if err := admin.LoadBaseFile(context.Background(), args[0]); err != nil {
			return fmt.Errorf("import: %w", err)
		}
		fmt.Printf("loaded policies from %s\n", args[0])
		return nil
	},
}

// newPolicyAdmin wires a fresh in-memory policy store and admin service,
// optionally pre-loaded from cfg.PolicyFile. Policies do not persist across
// CLI invocations; only the file on disk does.
func newPolicyAdmin(cfg *config.GovernorConfig, logger *slog.Logger) (policy.Store, *service.PolicyAdminService, error) {
	store := memory.NewPolicyStore()
	cache, err := service.NewPolicyCache(context.Background(), store, 0, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("policy cache: %w", err)
	}
	admin := service.NewPolicyAdminService(store, cache, logger)

	if cfg.PolicyFile != "" {
		if err := admin.LoadBaseFile(context.Background(), cfg.PolicyFile); err != nil {
			return nil, nil, fmt.Errorf("load base policy file: %w", err)
		}
	}
	return store, admin, nil
}

func init() {
	policyListCmd.Flags().BoolVar(&policyListActiveOnly, "active-only", false, "only show active policies")
	policyCmd.AddCommand(policyListCmd, policyImportCmd)
	rootCmd.AddCommand(policyCmd)
}
