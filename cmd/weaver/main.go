package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alvmarrod/vk-weaver/internal/config"
	"github.com/alvmarrod/vk-weaver/internal/crawler"
	"github.com/alvmarrod/vk-weaver/internal/memory"
	"github.com/alvmarrod/vk-weaver/internal/metrics"
	"github.com/alvmarrod/vk-weaver/internal/report"
	"github.com/alvmarrod/vk-weaver/internal/storage"
	"github.com/alvmarrod/vk-weaver/internal/version"
	"github.com/alvmarrod/vk-weaver/internal/vk"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Configure logging
	logrus.SetLevel(logrus.InfoLevel)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := newApp().Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "weaver",
		Usage:   "Crawl a VK user's social graph into a graph database",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a JSON config file",
				EnvVars: []string{"WEAVER_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from this file if it exists",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "store",
				Usage: "Storage backend (neo4j, sqlite, memory)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
				Value: "info",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logrus.ParseLevel(c.String("log-level"))
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			return config.LoadDotEnv(c.String("env-file"))
		},
		Commands: []*cli.Command{
			{
				Name:  "crawl",
				Usage: "Crawl followers, friends and groups from a seed user",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "seed", Aliases: []string{"s"}, Usage: "VK user id to start from"},
					&cli.IntFlag{Name: "depth", Aliases: []string{"d"}, Usage: "Crawl depth"},
					&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "Concurrent crawl units"},
					&cli.BoolFlag{Name: "progress", Aliases: []string{"p"}, Usage: "Show a progress spinner"},
				},
				Action: runCrawl,
			},
			{
				Name:  "query",
				Usage: "Run a report over the persisted graph",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "query",
						Aliases:  []string{"q"},
						Usage:    fmt.Sprintf("Query type %v", report.Queries),
						Required: true,
					},
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Number of rows for top queries", Value: 5},
				},
				Action: runQuery,
			},
			{
				Name:  "reset",
				Usage: "Delete every node and relation from the store",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "Confirm the deletion"},
				},
				Action: runReset,
			},
		},
		Authors: []*cli.Author{
			{Name: "alvmarrod"},
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("store") {
		cfg.Store = c.String("store")
	}
	return cfg, nil
}

// openBackend connects to the configured store
func openBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.Store {
	case config.StoreNeo4j:
		return storage.NewNeo4jStore(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase)
	case config.StoreSQLite:
		return storage.NewSQLiteStore(cfg.DBPath)
	case config.StoreMemory:
		return memory.NewMemoryGraph(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func runCrawl(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.IsSet("seed") {
		cfg.SeedID = c.Int64("seed")
	}
	if c.IsSet("depth") {
		cfg.MaxDepth = c.Int("depth")
	}
	if c.IsSet("workers") {
		cfg.ConcurrentWorkers = c.Int("workers")
	}
	if err := cfg.ValidateCrawl(); err != nil {
		return fmt.Errorf("invalid crawl configuration: %w", err)
	}

	logrus.Infof("vk-weaver v%s starting: seed=%d, depth=%d, workers=%d, store=%s",
		version.Version, cfg.SeedID, cfg.MaxDepth, cfg.ConcurrentWorkers, cfg.Store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer backend.Close()

	// Buffered crawls write into memory and flush once at the end
	var store storage.Store = backend
	var buffer *memory.MemoryGraph
	if cfg.Buffered && cfg.Store != config.StoreMemory {
		buffer = memory.NewMemoryGraph()
		store = buffer
	}

	client, err := vk.NewClient(
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken}),
		vk.Options{
			BaseURL:           cfg.APIBaseURL,
			Version:           cfg.APIVersion,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.RequestBurst,
			Parallelism:       cfg.ConcurrentWorkers,
			Timeout:           time.Duration(cfg.RequestTimeoutMs) * time.Millisecond,
		})
	if err != nil {
		return fmt.Errorf("failed to create API client: %w", err)
	}

	tracker := metrics.NewTracker()
	var bar *progressbar.ProgressBar
	if c.Bool("progress") {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Persisting users and groups"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14))
	}

	engine := crawler.NewEngine(client, store, crawler.Options{
		Workers:        cfg.ConcurrentWorkers,
		MaxConnections: cfg.MaxConnections,
		Observer: func(e metrics.Event) {
			tracker.Record(e)
			if bar != nil && (e == metrics.UserPersisted || e == metrics.GroupPersisted) {
				bar.Add(1)
			}
		},
	})

	var result *crawler.Result
	done := make(chan struct{})
	var g errgroup.Group

	g.Go(func() error {
		defer close(done)
		result = engine.Crawl(ctx, cfg.SeedID, cfg.MaxDepth)
		return nil
	})

	// Progress logger
	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				logrus.Info(tracker.LogProgress())
			case <-done:
				return nil
			}
		}
	})

	g.Wait()
	if bar != nil {
		bar.Finish()
	}

	terminationReason := "completed"
	if ctx.Err() != nil {
		terminationReason = "signal"
		logrus.Warn("Crawl interrupted, persisted graph is partial")
	}

	if buffer != nil {
		// The crawl context may be cancelled; flushing must still happen
		if err := buffer.Flush(context.Background(), backend); err != nil {
			logrus.Errorf("Failed to flush buffered graph: %v", err)
		}
	}

	failures := result.Failures()
	for _, err := range failures {
		logrus.Debugf("Crawl failure: %v", err)
	}
	logrus.Infof("Final stats: %s | %d failures", tracker.LogProgress(), len(failures))

	if err := tracker.WriteToFile(cfg.MetricsPath, terminationReason); err != nil {
		logrus.Errorf("Failed to write metrics: %v", err)
	} else {
		logrus.Infof("Metrics written to %s", cfg.MetricsPath)
	}

	return nil
}

func runQuery(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	backend, err := openBackend(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer backend.Close()

	return report.Run(c.Context, backend, c.String("query"), c.Int("limit"), color.Output)
}

func runReset(c *cli.Context) error {
	if !c.Bool("force") {
		return cli.Exit("refusing to delete the graph without --force", 1)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	backend, err := openBackend(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer backend.Close()

	if err := backend.Reset(c.Context); err != nil {
		return err
	}
	logrus.Infof("Store %s cleared", cfg.Store)
	return nil
}
