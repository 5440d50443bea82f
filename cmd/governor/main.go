// Command governor is the CLI entry point for the runtime governance
// plane: it starts the gRPC/HTTP decision surface, or talks to an already
// running instance to inspect policies, escalations, and the kill switch.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agentgovern/governor/internal/alert"
	"github.com/agentgovern/governor/internal/apiserver"
	"github.com/agentgovern/governor/internal/config"
	"github.com/agentgovern/governor/internal/decision"
	"github.com/agentgovern/governor/internal/escalation"
	"github.com/agentgovern/governor/internal/policy"
	"github.com/agentgovern/governor/internal/proof"
	"github.com/agentgovern/governor/internal/rpcserver"
	"github.com/agentgovern/governor/internal/security"
	"github.com/agentgovern/governor/internal/trust"

	"log/slog"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	var configFile string
	var port int

	rootCmd := &cobra.Command{
		Use:   "governor",
		Short: "Runtime governance plane for autonomous agents",
		Long:  "governor — evaluates, escalates, and proves every consequential action an autonomous agent takes.",
	}
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", 0, "Management API port (default 8080, or $GOVERNOR_PORT)")

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the decision server (gRPC + management HTTP API)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configFile)
		},
	}
	startCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a governor.yaml and policies/ directory in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
	initPolicyCmd := &cobra.Command{
		Use:   "policy [policy-name]",
		Short: "Scaffold a policy definition template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInitPolicy(args[0])
		},
	}
	initCmd.AddCommand(initPolicyCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("governor %s\n", version)
			fmt.Printf("  commit:  %s\n", commit)
			fmt.Printf("  built:   %s\n", buildDate)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a governor instance is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(port)
		},
	}

	policyCmd := &cobra.Command{Use: "policy", Short: "Policy management commands"}
	policyValidateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyValidate(configFile)
		},
	}
	policyValidateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file")
	policyListCmd := &cobra.Command{
		Use:   "list",
		Short: "List policies known to a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyList(port, cmd)
		},
	}
	var tenantID string
	policyListCmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID")
	policyReloadCmd := &cobra.Command{
		Use:   "reload",
		Short: "Invalidate the policy cache on a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyReload(port)
		},
	}
	policyCmd.AddCommand(policyValidateCmd, policyListCmd, policyReloadCmd)

	escalationCmd := &cobra.Command{Use: "escalation", Short: "Escalation management commands"}
	escalationListCmd := &cobra.Command{
		Use:   "list",
		Short: "List escalations for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEscalationList(port, tenantID)
		},
	}
	escalationListCmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID")
	escalationApproveCmd := &cobra.Command{
		Use:   "approve [escalation-id]",
		Short: "Approve a pending escalation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEscalationResolve(port, tenantID, args[0], "approve")
		},
	}
	escalationApproveCmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID")
	escalationDenyCmd := &cobra.Command{
		Use:   "deny [escalation-id]",
		Short: "Deny a pending escalation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEscalationResolve(port, tenantID, args[0], "deny")
		},
	}
	escalationDenyCmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID")
	escalationCmd.AddCommand(escalationListCmd, escalationApproveCmd, escalationDenyCmd)

	killswitchCmd := &cobra.Command{Use: "killswitch", Short: "Emergency stop commands"}
	killswitchStatusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show kill switch state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKillSwitchStatus(port)
		},
	}
	var killScope, killTenant, killTarget, killReason string
	killswitchTriggerCmd := &cobra.Command{
		Use:   "trigger",
		Short: "Trip the kill switch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKillSwitchTrigger(port, killScope, killTenant, killTarget, killReason)
		},
	}
	killswitchTriggerCmd.Flags().StringVar(&killScope, "scope", "global", "global, tenant, agent, or session")
	killswitchTriggerCmd.Flags().StringVar(&killTenant, "tenant", "", "Tenant ID")
	killswitchTriggerCmd.Flags().StringVar(&killTarget, "target", "", "Agent or session ID")
	killswitchTriggerCmd.Flags().StringVar(&killReason, "reason", "manual CLI trigger", "Reason recorded in the trigger audit trail")
	killswitchResetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset the kill switch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKillSwitchReset(port, killScope, killTenant, killTarget)
		},
	}
	killswitchResetCmd.Flags().StringVar(&killScope, "scope", "global", "global, tenant, agent, or session")
	killswitchResetCmd.Flags().StringVar(&killTenant, "tenant", "", "Tenant ID")
	killswitchResetCmd.Flags().StringVar(&killTarget, "target", "", "Agent or session ID")
	killswitchCmd.AddCommand(killswitchStatusCmd, killswitchTriggerCmd, killswitchResetCmd)

	rootCmd.AddCommand(startCmd, initCmd, versionCmd, statusCmd, policyCmd, escalationCmd, killswitchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("✗ %s", err))
		os.Exit(1)
	}
}

// ─── start ───

func runStart(configFile string) error {
	cfgLoader := config.NewLoader()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		if err := cfgLoader.Load(configFile); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg := cfgLoader.Get()

	if envPort := os.Getenv("GOVERNOR_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &cfg.Server.Port)
	}

	logLevel := slog.LevelInfo
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	alertMgr := alert.NewManager(cfg.Alerts, logger)

	// Policy Store + two-level Cache (C3/C4).
	policyStore, err := policy.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open policy storage: %w", err)
	}
	if err := policyStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize policy storage: %w", err)
	}
	defer func() { _ = policyStore.Close() }()
	policyCache := policy.NewCache(policyStore, nil, cfg.Cache.TTL, logger)
	if cfg.PoliciesDir != "" {
		if err := os.MkdirAll(cfg.PoliciesDir, 0755); err == nil {
			if err := policyCache.WatchDir(cfg.PoliciesDir); err != nil {
				logger.Warn("policy cache directory watch disabled", "error", err)
			} else {
				defer policyCache.StopWatch()
			}
		}
	}

	// Trust Engine (C6).
	trustStore, err := trust.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open trust storage: %w", err)
	}
	if err := trustStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize trust storage: %w", err)
	}
	defer func() { _ = trustStore.Close() }()

	// Proof Chain (C9) — wired before the Trust Engine since the engine
	// emits trust_delta/tier_changed events through it.
	proofStore, err := proof.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open proof storage: %w", err)
	}
	if err := proofStore.Initialize(context.Background()); err != nil {
		return fmt.Errorf("failed to initialize proof storage: %w", err)
	}
	defer func() { _ = proofStore.Close() }()
	proofChain := proof.NewChain(proofStore, logger, cfg.Proof.BatchSize, 0)

	trustEngine := trust.NewEngine(trustStore, &proofToTrustEmitter{chain: proofChain}, nil, logger)

	// Security Gate + kill switch + token manager (C7).
	killSwitch := security.NewKillSwitch(cfg.Security.KillSwitchFilePath, logger)
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			killSwitch.CheckFileKill()
		}
	}()
	tokenManager := security.NewTokenManager(logger)
	gate := security.NewGate(tokenManager, killSwitch, nil, nil, logger)

	// Escalation Coordinator (C8).
	escStore, err := escalation.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open escalation storage: %w", err)
	}
	if err := escStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize escalation storage: %w", err)
	}
	defer func() { _ = escStore.Close() }()
	listTenants := func() []string {
		ids := make([]string, 0, len(cfg.Tenants))
		for _, t := range cfg.Tenants {
			ids = append(ids, t.ID)
		}
		return ids
	}
	escCoord := escalation.NewCoordinator(escStore, alertMgr, logger, cfg.Escalation.DefaultTimeoutMinutes, cfg.Escalation.TimeoutPollInterval, listTenants)
	defer escCoord.Stop()

	// Decision Coordinator (C10) wires everything above into one pipeline.
	coordinator := decision.NewCoordinator(gate, trustEngine, policyCache, escCoord, proofChain, alertMgr, logger)
	actionLimiter := policy.NewRateLimiter(logger)
	coordinator.WithRateLimit(actionLimiter, cfg.Decision.ActionRateLimitMax, cfg.Decision.ActionRateLimitWindow.String())

	apiSrv := apiserver.NewServer(cfg.Server, apiserver.Deps{
		Coordinator:  coordinator,
		Policies:     policyStore,
		Cache:        policyCache,
		Escalations:  escCoord,
		ProofChain:   proofChain,
		TrustEngine:  trustEngine,
		KillSwitch:   killSwitch,
		TokenManager: tokenManager,
	}, logger)

	rpcSrv := rpcserver.NewRPCServer(coordinator, escCoord, logger)

	color.Cyan("\n  governor %s\n", version)
	fmt.Printf("  → HTTP:     http://localhost:%d/api\n", cfg.Server.Port)
	fmt.Printf("  → gRPC:     localhost:%d\n", cfg.Server.GRPCPort)
	fmt.Printf("  → Metrics:  http://localhost:%d/metrics\n", cfg.Server.Port)
	fmt.Printf("  → Storage:  %s (%s)\n", cfg.Storage.Driver, cfg.Storage.Path)
	fmt.Printf("  → Fail mode: %s\n\n", cfg.Server.FailMode)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		rpcSrv.Stop()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = apiSrv.Shutdown(shutCtx)
	}()

	go func() {
		if err := rpcSrv.Start(cfg.Server.GRPCPort); err != nil {
			logger.Error("gRPC server error", "port", cfg.Server.GRPCPort, "error", err)
		}
	}()

	logger.Info("starting management API", "port", cfg.Server.Port)
	if err := apiSrv.Start(apiserver.Addr(cfg.Server.Port)); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("management API error: %w", err)
	}
	return nil
}

// proofToTrustEmitter adapts the Proof Chain's EmitInput-based Emit onto the
// Trust Engine's narrower ProofEmitter interface, keeping the two packages'
// leaf-first dependency direction intact (trust never imports proof).
type proofToTrustEmitter struct {
	chain *proof.Chain
}

func (e *proofToTrustEmitter) Emit(ctx context.Context, tenantID, entityID, kind string, payload map[string]interface{}) error {
	_, err := e.chain.Emit(ctx, proof.EmitInput{
		TenantID: tenantID,
		EntityID: entityID,
		Kind:     proof.Kind(kind),
		Payload:  payload,
	})
	return err
}

// ─── init ───

func runInit() error {
	configPath := "governor.yaml"
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("  ⚠ %s already exists (skipping)\n", configPath)
	} else {
		if err := config.GenerateDefault(configPath); err != nil {
			return err
		}
		color.Green("  ✓ Generated %s", configPath)
	}

	if err := os.MkdirAll("policies", 0755); err != nil {
		return fmt.Errorf("failed to create policies/: %w", err)
	}
	color.Green("  ✓ Created policies/")
	return nil
}

func runInitPolicy(name string) error {
	if err := os.MkdirAll("policies", 0755); err != nil {
		return fmt.Errorf("failed to create policies/: %w", err)
	}
	path := "policies/" + name + ".yaml"
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.WriteFile(path, []byte(policyTemplate(name)), 0644); err != nil {
		return err
	}
	color.Green("  ✓ Created %s", path)
	fmt.Println("  POST its contents to /api/policies, then /api/policies/{id}/publish to activate it.")
	return nil
}

func policyTemplate(name string) string {
	return fmt.Sprintf(`# %s
name: %s
namespace: default
definition:
  rules:
    - id: r1
      enabled: true
      priority: 1
      when:
        field:
          field: intent.type
          op: equals
          value: example.action
      then:
        action: monitor
        reason: "describe why this rule exists"
  defaultAction: allow
`, name, name)
}

// ─── status / policy / escalation / killswitch (talk to a running instance) ───

func runStatus(port int) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/health", p))
	if err != nil {
		fmt.Printf("governor is not running on port %d\n", p)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()
	var result map[string]interface{}
	_ = decodeJSON(resp, &result)
	color.Green("governor is running on port %d (%v)", p, result["status"])
	return nil
}

func runPolicyValidate(configFile string) error {
	path := configFile
	if path == "" {
		path = findConfigFile()
	}
	if path == "" {
		return fmt.Errorf("no config file found, run 'governor init' to create one")
	}
	loader := config.NewLoader()
	if err := loader.Load(path); err != nil {
		fmt.Printf("✗ Invalid config: %s\n", err)
		return err
	}
	cfg := loader.Get()
	color.Green("✓ Config file valid: %s", path)
	fmt.Printf("  Storage:    %s\n", cfg.Storage.Driver)
	fmt.Printf("  Port:       %d\n", cfg.Server.Port)
	fmt.Printf("  gRPC port:  %d\n", cfg.Server.GRPCPort)
	fmt.Printf("  Tenants:    %d\n", len(cfg.Tenants))
	return nil
}

func runPolicyList(port int, cmd *cobra.Command) error {
	p := resolvePort(port)
	tenant, _ := cmd.Flags().GetString("tenant")
	url := fmt.Sprintf("http://localhost:%d/api/policies?tenant_id=%s", p, tenant)
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var result map[string]interface{}
	_ = decodeJSON(resp, &result)
	policies, _ := result["policies"].([]interface{})
	if len(policies) == 0 {
		fmt.Println("No policies loaded.")
		return nil
	}
	fmt.Printf("%-25s %-12s %-15s\n", "NAME", "STATUS", "NAMESPACE")
	fmt.Println(strings.Repeat("─", 60))
	for _, raw := range policies {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		fmt.Printf("%-25v %-12v %-15v\n", m["Name"], m["Status"], m["Namespace"])
	}
	return nil
}

func runPolicyReload(port int) error {
	p := resolvePort(port)
	resp, err := http.Post(fmt.Sprintf("http://localhost:%d/api/policies/cache/reload", p), "application/json", nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusOK {
		color.Green("✓ Policy cache invalidated")
	} else {
		fmt.Printf("✗ Reload failed (HTTP %d)\n", resp.StatusCode)
	}
	return nil
}

func runEscalationList(port int, tenant string) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/escalations?tenant_id=%s", p, tenant))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var result map[string]interface{}
	_ = decodeJSON(resp, &result)
	escalations, _ := result["escalations"].([]interface{})
	if len(escalations) == 0 {
		fmt.Println("No escalations.")
		return nil
	}
	fmt.Printf("%-38s %-10s %-10s %s\n", "ID", "STATUS", "PRIORITY", "REASON")
	fmt.Println(strings.Repeat("─", 90))
	for _, raw := range escalations {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		fmt.Printf("%-38v %-10v %-10v %v\n", m["ID"], m["Status"], m["Priority"], m["Reason"])
	}
	return nil
}

func runEscalationResolve(port int, tenant, id, verb string) error {
	p := resolvePort(port)
	resp, err := http.Post(fmt.Sprintf("http://localhost:%d/api/escalations/%s/%s?tenant_id=%s", p, id, verb, tenant),
		"application/json", strings.NewReader(`{"resolvedBy":"cli"}`))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusOK {
		color.Green("✓ Escalation %s %sd", id, verb)
	} else {
		fmt.Printf("✗ %s failed (HTTP %d)\n", verb, resp.StatusCode)
	}
	return nil
}

func runKillSwitchStatus(port int) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/killswitch", p))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	var result map[string]interface{}
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	return enc.Encode(result)
}

func runKillSwitchTrigger(port int, scope, tenant, target, reason string) error {
	p := resolvePort(port)
	body, _ := json.Marshal(map[string]string{
		"scope": scope, "tenantId": tenant, "agentId": target, "sessionId": target,
		"reason": reason, "source": "cli",
	})
	resp, err := http.Post(fmt.Sprintf("http://localhost:%d/api/killswitch/trigger", p), "application/json", strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusOK {
		color.Red("✓ Kill switch triggered (scope=%s)", scope)
	} else {
		fmt.Printf("✗ Trigger failed (HTTP %d)\n", resp.StatusCode)
	}
	return nil
}

func runKillSwitchReset(port int, scope, tenant, target string) error {
	p := resolvePort(port)
	body, _ := json.Marshal(map[string]string{"scope": scope, "tenantId": tenant, "agentId": target, "sessionId": target})
	resp, err := http.Post(fmt.Sprintf("http://localhost:%d/api/killswitch/reset", p), "application/json", strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusOK {
		color.Green("✓ Kill switch reset (scope=%s)", scope)
	} else {
		fmt.Printf("✗ Reset failed (HTTP %d)\n", resp.StatusCode)
	}
	return nil
}

// ─── helpers ───

func findConfigFile() string {
	candidates := []string{
		"governor.yaml",
		"governor.yml",
		os.Getenv("GOVERNOR_CONFIG"),
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func resolvePort(port int) int {
	if port != 0 {
		return port
	}
	if envPort := os.Getenv("GOVERNOR_PORT"); envPort != "" {
		var p int
		if _, err := fmt.Sscanf(envPort, "%d", &p); err == nil && p > 0 {
			return p
		}
	}
	return 8080
}

func decodeJSON(resp *http.Response, v interface{}) error {
	return json.NewDecoder(resp.Body).Decode(v)
}
