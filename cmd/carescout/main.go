// carescout finds in-network medical providers by driving a browser agent
// against an insurance directory.
//
// Usage:
//
//	carescout search --symptoms "..." --insurer cigna --address "..."
//	carescout history                  # list recent searches
//	carescout version                  # show version information
//	carescout health                   # check the LLM, browser, and cache services
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/carescout/carescout/agent"
	"github.com/carescout/carescout/classify"
	"github.com/carescout/carescout/config"
	"github.com/carescout/carescout/directory"
	"github.com/carescout/carescout/internal/cache"
	"github.com/carescout/carescout/internal/metrics"
	"github.com/carescout/carescout/llm"
	"github.com/carescout/carescout/planner"
	"github.com/carescout/carescout/progress"
	"github.com/carescout/carescout/retry"
	"github.com/carescout/carescout/session"
	"github.com/carescout/carescout/store"
	"github.com/carescout/carescout/types"
)

// Build-time injected version info.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "search":
		runSearch(os.Args[2:])
	case "history":
		runHistory(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	symptoms := fs.String("symptoms", "", "Symptom description")
	insurer := fs.String("insurer", "", "Insurance carrier (e.g. cigna, aetna)")
	address := fs.String("address", "", "Patient address or area")
	lat := fs.Float64("lat", 0, "Latitude of the search area")
	lon := fs.Float64("lon", 0, "Longitude of the search area")
	fs.Parse(args)

	if *symptoms == "" || *insurer == "" {
		fmt.Fprintln(os.Stderr, "search requires --symptoms and --insurer")
		fs.Usage()
		os.Exit(2)
	}

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("carescout starting",
		zap.String("version", Version),
		zap.String("insurer", *insurer))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	location := types.Location{Latitude: *lat, Longitude: *lon, Address: *address}
	result, err := executeSearch(ctx, cfg, logger, *symptoms, *insurer, location)
	if err != nil {
		if types.GetErrorCode(err) == types.ErrNotMedicalQuery {
			fmt.Fprintln(os.Stderr, "The query does not describe medical symptoms; nothing to search for.")
			os.Exit(2)
		}
		logger.Error("search failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}

	printResult(result)
}

// executeSearch wires the pipeline: classify the symptoms, resolve the
// insurer's directory URL, then run the browser agent.
func executeSearch(ctx context.Context, cfg *config.Config, logger *zap.Logger, symptoms, insurer string, location types.Location) (*types.SearchResult, error) {
	provider := llm.NewOpenAIProvider(llm.OpenAIConfig{
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		Timeout:           cfg.LLM.Timeout,
		Temperature:       float32(cfg.LLM.Temperature),
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	}, logger)

	retryPolicy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
	}
	retrier := retry.NewExecutor(retryPolicy, logger)

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, prometheus.NewRegistry(), logger)
	}

	// Classification stops retrying once the model says the query is not
	// medical; that verdict is final.
	classifyPolicy := retryPolicy
	classifyPolicy.RetryableOnly = true
	classifyOpts := []classify.Option{}
	if collector != nil {
		classifyOpts = append(classifyOpts, classify.WithMetrics(collector))
	}
	if cfg.Redis.Addr != "" {
		cacheMgr, err := cache.NewManager(cache.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DefaultTTL:   cfg.Redis.TTL,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, logger)
		if err != nil {
			logger.Warn("classification cache unavailable", zap.Error(err))
		} else {
			defer cacheMgr.Close()
			classifyOpts = append(classifyOpts, classify.WithCache(cacheMgr, cfg.Redis.TTL))
		}
	}
	classifier := classify.New(provider, retry.NewExecutor(classifyPolicy, logger), logger, classifyOpts...)

	specialists, err := classifier.Classify(ctx, symptoms)
	if err != nil {
		return nil, err
	}

	directoryURL, err := directory.Default().Lookup(insurer)
	if err != nil {
		return nil, err
	}

	plan, err := planner.New(provider, retrier, planner.DefaultConfig(), logger)
	if err != nil {
		return nil, err
	}

	sessions := session.NewClient(session.Config{
		BaseURL:  cfg.Browser.BaseURL,
		APIKey:   cfg.Browser.APIKey,
		Timeout:  cfg.Browser.Timeout,
		Headless: cfg.Browser.Headless,
	}, logger)

	reporter := progress.NewReporter(progress.NewLogSink(logger), logger)

	agentOpts := []agent.Option{}
	if collector != nil {
		agentOpts = append(agentOpts, agent.WithMetrics(collector))
	}
	ag := agent.New(sessions, plan, retrier, reporter, agent.Config{
		ErrorThreshold:  cfg.Agent.ErrorThreshold,
		ActionTimeout:   cfg.Agent.ActionTimeout,
		VisibilityDelay: cfg.Agent.VisibilityDelay,
		MaxIterations:   cfg.Agent.MaxIterations,
	}, logger, agentOpts...)

	criteria := types.SearchCriteria{
		Specialists:  specialists,
		Location:     location,
		DirectoryURL: directoryURL,
	}

	result, err := ag.Search(ctx, criteria)
	if err != nil {
		return nil, err
	}

	if cfg.Store.Path != "" {
		st, storeErr := store.Open(store.Config{Path: cfg.Store.Path}, logger)
		if storeErr != nil {
			logger.Warn("search history unavailable", zap.Error(storeErr))
		} else {
			defer st.Close()
			if saveErr := st.SaveResult(ctx, symptoms, insurer, criteria, result); saveErr != nil {
				logger.Warn("failed to save search history", zap.Error(saveErr))
			}
		}
	}

	return result, nil
}

func runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	limit := fs.Int("limit", 10, "Number of searches to show")
	fs.Parse(args)

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Store.Path == "" {
		fmt.Fprintln(os.Stderr, "Search history is disabled (store.path is empty)")
		os.Exit(1)
	}

	st, err := store.Open(store.Config{Path: cfg.Store.Path}, zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open search history: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	records, err := st.ListRecent(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list searches: %v\n", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Println("No searches recorded yet.")
		return
	}

	for _, r := range records {
		fmt.Printf("%s  %-12s %-40s %d providers\n",
			r.CreatedAt.Format("2006-01-02 15:04"), r.Insurer, truncate(r.Query, 40), len(r.Providers))
	}
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	healthy := true

	provider := llm.NewOpenAIProvider(llm.OpenAIConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: 5 * time.Second,
	}, zap.NewNop())
	if status, err := provider.HealthCheck(ctx); err != nil {
		fmt.Printf("llm: FAIL (%v)\n", err)
		healthy = false
	} else {
		fmt.Printf("llm: OK (%s)\n", status.Latency.Round(time.Millisecond))
	}

	client := &http.Client{Timeout: 5 * time.Second}
	if resp, err := client.Get(cfg.Browser.BaseURL + "/health"); err != nil {
		fmt.Printf("browser: FAIL (%v)\n", err)
		healthy = false
	} else {
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			fmt.Printf("browser: FAIL (status %d)\n", resp.StatusCode)
			healthy = false
		} else {
			fmt.Println("browser: OK")
		}
	}

	if cfg.Redis.Addr != "" {
		cacheMgr, err := cache.NewManager(cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, zap.NewNop())
		if err != nil {
			fmt.Printf("redis: FAIL (%v)\n", err)
			healthy = false
		} else {
			if err := cacheMgr.Ping(ctx); err != nil {
				fmt.Printf("redis: FAIL (%v)\n", err)
				healthy = false
			} else {
				fmt.Println("redis: OK")
			}
			cacheMgr.Close()
		}
	}

	if !healthy {
		os.Exit(1)
	}
}

func printResult(result *types.SearchResult) {
	if len(result.Providers) == 0 {
		fmt.Println("No in-network providers found.")
		return
	}

	fmt.Printf("Found %d in-network providers (%d actions, %s):\n\n",
		len(result.Providers), result.ActionCount, result.Duration.Round(time.Second))
	for i, p := range result.Providers {
		fmt.Printf("%d. %s — %s\n   %s\n", i+1, p.Name, p.Specialty, p.Address)
		if p.Phone != "" {
			fmt.Printf("   %s\n", p.Phone)
		}
		fmt.Println()
	}
}

func printVersion() {
	fmt.Printf("carescout %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`carescout - in-network provider search agent

Usage:
  carescout <command> [options]

Commands:
  search    Run a provider search for a symptom description
  history   List recent searches
  version   Show version information
  health    Check the LLM, browser, and cache services
  help      Show this help message

Options for 'search':
  --symptoms <text>   Symptom description (required)
  --insurer <name>    Insurance carrier (required)
  --address <text>    Patient address or area
  --lat, --lon <n>    Coordinates of the search area
  --config <path>     Path to configuration file (YAML)

Examples:
  carescout search --symptoms "chest pain when climbing stairs" --insurer cigna --address "Springfield, IL"
  carescout history --limit 5
  carescout health
  carescout version`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
