package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"

	"github.com/kanekoshoyu/anysignal/config"
	"github.com/kanekoshoyu/anysignal/internal/api"
	"github.com/kanekoshoyu/anysignal/internal/backfill"
	"github.com/kanekoshoyu/anysignal/internal/metrics"
	"github.com/kanekoshoyu/anysignal/internal/poller"
	"github.com/kanekoshoyu/anysignal/logger"
	"github.com/kanekoshoyu/anysignal/models"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	source := flag.String("backfill-source", "", "Run a single backfill for this source and exit (HyperliquidAssetCtxs or HyperliquidL2Orderbook)")
	from := flag.String("backfill-from", "", "Backfill start, e.g. 2024-01-01 or 2024-01-01T00:00:00")
	to := flag.String("backfill-to", "", "Backfill end (inclusive)")
	coins := flag.String("backfill-coins", "", "Comma separated tickers for hourly sources")
	force := flag.Bool("backfill-force", false, "Reload periods that already exist in the store")

	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithEnv("APP_ENV").WithFields(logger.Fields{
		"service":     cfg.Anysignal.Name,
		"version":     cfg.Anysignal.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting anysignal")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	metrics.Init()
	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
		defer metrics.DisableCloudWatch()
	}

	factory := backfill.NewFactory(cfg)

	if *source != "" {
		if err := runOnce(ctx, factory, *source, *from, *to, *coins, *force); err != nil {
			log.WithError(err).Error("backfill failed")
			os.Exit(1)
		}
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	started := 0

	if cfg.RunnerEnabled(config.RunnerAPI) {
		server := api.NewServer(cfg, factory)
		g.Go(func() error { return server.Run(ctx) })
		started++
	}

	if cfg.RunnerEnabled(config.RunnerSchedule) && cfg.Backfill.Schedule.Enabled {
		scheduler := backfill.NewScheduler(factory, cfg.Backfill.Schedule)
		g.Go(func() error { return scheduler.Start(ctx) })
		started++
	}

	if cfg.RunnerEnabled(config.RunnerPoller) {
		sources := poller.Registered()
		if len(sources) == 0 {
			log.WithComponent("main").Info("poller runner enabled but no poll sources are registered")
		} else {
			loader, release, err := factory.Loader(ctx)
			if err != nil {
				log.WithError(err).Error("failed to initialise poller loader")
				os.Exit(1)
			}
			defer release()
			g.Go(func() error { return poller.RunAll(ctx, loader, sources...) })
			started++
		}
	}

	if started == 0 {
		log.WithComponent("main").Warn("no runners enabled; nothing to do")
		return
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("anysignal stopped with error")
		os.Exit(1)
	}

	log.Info("anysignal stopped")
}

var cliLayouts = []string{"2006-01-02T15:04:05", time.RFC3339, models.DateLayout}

func parseCLITime(name, v string) (time.Time, error) {
	for _, layout := range cliLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid -%s %q", name, v)
}

// runOnce performs one backfill from the command line and prints the result
// as JSON on stdout.
func runOnce(ctx context.Context, runner backfill.Runner, source, from, to, coins string, force bool) error {
	kind, err := models.ParseSourceKind(source)
	if err != nil {
		return err
	}
	start, err := parseCLITime("backfill-from", from)
	if err != nil {
		return err
	}
	end, err := parseCLITime("backfill-to", to)
	if err != nil {
		return err
	}

	req := models.BackfillRequest{From: start, To: end, Source: kind, Force: force}
	if coins != "" {
		req.Tickers = strings.Split(coins, ",")
	}

	result, err := runner.Run(ctx, req)
	if result != nil {
		out, merr := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(result, "", "  ")
		if merr != nil {
			return merr
		}
		fmt.Println(string(out))
	}
	if err != nil {
		return err
	}
	if result.TotalErr > 0 {
		return fmt.Errorf("%d period(s) failed", result.TotalErr)
	}
	return nil
}
