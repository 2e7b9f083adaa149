package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"hsexport/internal/cmdlog"
	"hsexport/internal/config"
	"hsexport/internal/hubspot"
	"hsexport/internal/jobs"
	"hsexport/internal/logging"
	"hsexport/internal/metrics"
	"hsexport/internal/oauthflow"
	"hsexport/internal/store/runlog"
	"hsexport/internal/theme"
	"hsexport/internal/tokens"
)

const (
	exitOK          = 0
	exitConfig      = 1
	exitExportFatal = 2
	exitAuthFailed  = 3
)

const defaultConfigPath = "./hsexport.yaml"

func main() {
	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "export":
		os.Exit(cmdExport(os.Args[2:]))
	case "auth":
		os.Exit(cmdAuth(os.Args[2:]))
	case "init":
		os.Exit(cmdInit(os.Args[2:]))
	case "runs":
		os.Exit(cmdRuns(os.Args[2:]))
	default:
		printHelp()
	}
}

func printHelp() {
	theme.PrintBanner()
	fmt.Println("Usage: hsexport <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  export      Export deals and their activities to JSON files")
	fmt.Println("  auth        Authorize with HubSpot and store tokens in the env file")
	fmt.Println("  init        Create a config file at ./hsexport.yaml")
	fmt.Println("  runs        List recent export runs")
}

// loadConfig loads the env file into the environment, then the YAML config.
func loadConfig(cfgPath, envPath string) (config.Config, error) {
	if err := config.LoadEnvFile(envPath); err != nil {
		return config.Config{}, fmt.Errorf("load %s: %w", envPath, err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cfg, err
	}
	cfg.Auth.EnvFile = envPath
	return cfg, nil
}

func newTokenManager(cfg config.Config) *tokens.Manager {
	store := config.EnvFile{Path: cfg.Auth.EnvFile, Template: cfg.Auth.EnvTemplate}
	timeout := time.Duration(cfg.API.TimeoutSeconds) * time.Second
	return tokens.NewManager(cfg.HubSpot, store, &http.Client{Timeout: timeout})
}

func openLedger(cfg config.Config) (jobs.Ledger, func()) {
	if !cfg.LedgerEnabled() {
		return nil, func() {}
	}
	db, err := runlog.Open(cfg.Storage.LedgerPath)
	if err != nil {
		logging.Warn("ledger_unavailable", map[string]any{"path": cfg.Storage.LedgerPath, "error": err.Error()})
		return nil, func() {}
	}
	return db, func() { _ = db.Close() }
}

func finishMetrics(cfg config.Config) {
	if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		logging.Warn("metrics_textfile_failed", map[string]any{"path": cfg.Metrics.Textfile, "error": err.Error()})
	}
}

func cmdExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "config path")
	envPath := fs.String("env", config.Default().Auth.EnvFile, "env file with credentials and tokens")
	outDir := fs.String("out", "", "output directory (overrides OUTPUT_DIR)")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*cfgPath, *envPath)
	if err != nil {
		fmt.Println("error:", err)
		return exitConfig
	}
	if *outDir != "" {
		cfg.Export.OutputDir = *outDir
	}
	if err := cfg.ValidateExport(); err != nil {
		fmt.Println("error:", err)
		fmt.Println("run 'hsexport auth' to obtain tokens")
		return exitConfig
	}
	metrics.StartServer(cfg.Metrics.Addr)
	defer finishMetrics(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var res jobs.Result
	err = cmdlog.Run("export", func() error {
		mgr := newTokenManager(cfg)
		if err := mgr.EnsureFresh(ctx); err != nil && !errors.Is(err, tokens.ErrPersistFailed) {
			return err
		}
		client := hubspot.NewHTTPClient(cfg.HubSpot.APIBaseURL, mgr, cfg.API)
		ledger, closeLedger := openLedger(cfg)
		defer closeLedger()
		var err error
		res, err = jobs.RunExport(ctx, client, mgr, ledger, cfg)
		return err
	})
	if err != nil {
		fmt.Println("error:", err)
		return exitExportFatal
	}
	abs, _ := filepath.Abs(cfg.Export.OutputDir)
	fmt.Printf("Exported %d deals, %d activity files to %s (%s)\n", res.Deals, res.ActivityFiles, abs, res.Status)
	if res.Failures > 0 {
		fmt.Printf("%d problems were recorded; see 'hsexport runs -run %s'\n", res.Failures, res.RunID)
	}
	return exitOK
}

func cmdAuth(args []string) int {
	fs := flag.NewFlagSet("auth", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "config path")
	envPath := fs.String("env", config.Default().Auth.EnvFile, "env file to store tokens in")
	noBrowser := fs.Bool("no-browser", false, "print the authorization URL instead of opening a browser")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*cfgPath, *envPath)
	if err != nil {
		fmt.Println("error:", err)
		return exitConfig
	}
	if err := cfg.ValidateAuth(); err != nil {
		fmt.Println("error:", err)
		return exitConfig
	}
	defer finishMetrics(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flow := &oauthflow.Flow{
		Tokens:     newTokenManager(cfg),
		ListenAddr: cfg.Auth.ListenAddr,
		Grace:      time.Duration(cfg.Auth.ShutdownGraceMS) * time.Millisecond,
	}
	if !*noBrowser {
		flow.OpenBrowser = oauthflow.OpenBrowser
	}
	var outcome oauthflow.Outcome
	err = cmdlog.Run("auth", func() error {
		var err error
		outcome, err = flow.Run(ctx)
		return err
	})
	if err != nil {
		fmt.Println("error:", err)
		return exitAuthFailed
	}
	switch outcome {
	case oauthflow.OutcomeValid:
		fmt.Println("Existing tokens are valid.")
	case oauthflow.OutcomeRefreshed:
		fmt.Println("Tokens refreshed and saved to", cfg.Auth.EnvFile)
	default:
		fmt.Println("Authorized. Tokens saved to", cfg.Auth.EnvFile)
	}
	return exitOK
}

func cmdInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", defaultConfigPath, "path to write config")
	_ = fs.Parse(args)
	cfg := config.Default()
	if err := config.Save(*path, cfg); err != nil {
		fmt.Println("error:", err)
		return exitConfig
	}
	abs, _ := filepath.Abs(*path)
	theme.PrintBanner()
	fmt.Println("Config written to:", abs)
	fmt.Println("Put HUBSPOT_CLIENT_ID and HUBSPOT_CLIENT_SECRET in .env, then run 'hsexport auth'.")
	return exitOK
}

func cmdRuns(args []string) int {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "config path")
	envPath := fs.String("env", config.Default().Auth.EnvFile, "env file")
	limit := fs.Int("limit", 10, "number of runs")
	runID := fs.String("run", "", "show recorded problems of one run")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*cfgPath, *envPath)
	if err != nil {
		fmt.Println("error:", err)
		return exitConfig
	}
	if !cfg.LedgerEnabled() {
		fmt.Println("run ledger is disabled")
		return exitOK
	}
	db, err := runlog.Open(cfg.Storage.LedgerPath)
	if err != nil {
		fmt.Println("error:", err)
		return exitConfig
	}
	defer db.Close()
	ctx := context.Background()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	if *runID != "" {
		fails, err := db.Failures(ctx, *runID)
		if err != nil {
			fmt.Println("error:", err)
			return exitConfig
		}
		fmt.Fprintln(w, "TIME\tDEAL\tSTAGE\tTYPE\tMESSAGE")
		for _, f := range fails {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", f.At.Format(time.RFC3339), f.DealID, f.Stage, f.Type, f.Message)
		}
		return exitOK
	}
	runs, err := db.RecentRuns(ctx, *limit)
	if err != nil {
		fmt.Println("error:", err)
		return exitConfig
	}
	fmt.Fprintln(w, "RUN\tSTARTED\tDURATION\tSTATUS\tDEALS\tFILES\tDEGRADED\tWRITE_FAILURES")
	for _, r := range runs {
		dur := "-"
		if !r.FinishedAt.IsZero() {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n", r.ID, r.StartedAt.Local().Format(time.RFC3339), dur, r.Status, r.Deals, r.ActivityFiles, r.Degraded, r.WriteFailures)
	}
	return exitOK
}
