package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/blockcaptain/jackwatch/internal/config"
	"github.com/blockcaptain/jackwatch/internal/dispatch"
	"github.com/blockcaptain/jackwatch/internal/logger"
	"github.com/blockcaptain/jackwatch/internal/models"
	"github.com/blockcaptain/jackwatch/internal/provider"
	"github.com/blockcaptain/jackwatch/internal/runner"
	"github.com/blockcaptain/jackwatch/internal/storage"
	"github.com/blockcaptain/jackwatch/internal/telegram"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	taskNames  = flag.String("task", "all", "Comma-separated task names to run, or \"all\"")
	listTasks  = flag.Bool("list", false, "List configured tasks and exit")
)

func main() {
	os.Exit(run())
}

// run holds all deferred cleanup so the storage WAL is checkpointed even when
// the process exits non-zero.
func run() int {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	if *listTasks {
		for _, name := range allTaskNames(cfg) {
			fmt.Printf("%s\t(%s, %s)\n", name, cfg.Tasks[name].Mode, cfg.Tasks[name].Provider)
		}
		return 0
	}

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Error("Failed to initialize storage: %v", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	var sender dispatch.Sender
	if cfg.Telegram.Enabled {
		client, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			logger.Error("Failed to initialize Telegram client: %v", err)
			return 1
		}
		sender = client
	} else {
		logger.Info("Telegram disabled, messages will only be logged")
		sender = logSender{}
	}

	dispatcher := dispatch.New(sender, dispatch.Config{
		MinInterval: cfg.Dispatch.MinInterval,
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		RetryBase:   cfg.Dispatch.RetryBase,
		RetryMax:    cfg.Dispatch.RetryMax,
	})

	providers, err := buildProviders(cfg)
	if err != nil {
		logger.Error("Failed to configure providers: %v", err)
		return 1
	}

	r := runner.New(cfg, store, dispatcher, providers, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := 0
	for _, name := range selectedTasks(cfg) {
		report, err := r.RunTask(ctx, name)
		logReport(report)
		if err != nil || report.Status == models.RunFailed {
			code = 1
		}
		if ctx.Err() != nil {
			logger.Warn("Shutdown signal received, remaining tasks skipped")
			break
		}
	}
	return code
}

// logSender stands in for the Telegram transport when notifications are
// disabled; every send succeeds.
type logSender struct{}

func (logSender) Send(_ context.Context, threadID int64, text string) error {
	logger.Info("Dry-run send to thread %d:\n%s", threadID, text)
	return nil
}

func buildProviders(cfg *config.Config) (map[string]runner.SnapshotFunc, error) {
	cgCfg := cfg.Providers.CoinGlass
	cg := provider.NewCoinGlass(cgCfg.BaseURL, cgCfg.APIKey, cgCfg.Exchange, cgCfg.MaxSymbols, cgCfg.Symbols, cgCfg.Timeout)
	taCfg := cfg.Providers.TreeAlpha
	ta := provider.NewTreeAlpha(taCfg.BaseURL, taCfg.APIKey, taCfg.Limit, taCfg.Timeout)

	providers := make(map[string]runner.SnapshotFunc)
	for name, taskCfg := range cfg.Tasks {
		switch taskCfg.Provider {
		case "coinglass-position":
			providers[taskCfg.Provider] = cg.PositionSnapshot
		case "coinglass-funding":
			providers[taskCfg.Provider] = cg.FundingSnapshot
		case "coinglass-whale":
			providers[taskCfg.Provider] = cg.WhaleSnapshot
		case "coinglass-hyperliquid":
			minNotional := taskCfg.MinNotional
			providers[taskCfg.Provider] = func(ctx context.Context) ([]models.Observation, error) {
				return cg.HyperliquidAlerts(ctx, minNotional)
			}
		case "coinglass-calendar":
			minImportance := taskCfg.MinImportance
			providers[taskCfg.Provider] = func(ctx context.Context) ([]models.Observation, error) {
				return cg.CalendarItems(ctx, minImportance)
			}
		case "treealpha-news":
			providers[taskCfg.Provider] = ta.NewsItems
		default:
			return nil, fmt.Errorf("task %s references unknown provider %q", name, taskCfg.Provider)
		}
	}
	return providers, nil
}

func allTaskNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Tasks))
	for name := range cfg.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func selectedTasks(cfg *config.Config) []string {
	if *taskNames == "all" {
		return allTaskNames(cfg)
	}
	var names []string
	for _, name := range strings.Split(*taskNames, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

func logReport(report models.RunReport) {
	event := logger.L().Info()
	if report.Status == models.RunFailed {
		event = logger.L().Error()
	}
	event.
		Str("run_id", report.RunID).
		Str("task", report.Task).
		Str("status", string(report.Status)).
		Int("detected", report.EventsDetected).
		Int("delivered", report.EventsDelivered).
		Int("failed", report.EventsFailed).
		Int("skipped_duplicate", report.EventsSkippedDuplicate).
		Int("truncated", report.EventsTruncated).
		Int("sub_threshold", report.DeltasSubThreshold).
		Int("malformed", report.ObservationsMalformed).
		Dur("duration", report.Duration).
		Str("error", report.Err).
		Msg("Task run finished")
}
