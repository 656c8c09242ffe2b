package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/r3labs/diff/v3"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	course_archiver "github.com/coursearc/course-archiver"
	_ "github.com/coursearc/course-archiver/extractors"
	"github.com/coursearc/course-archiver/internal/config"
	"github.com/coursearc/course-archiver/internal/history"
	"github.com/coursearc/course-archiver/internal/manifest"
	"github.com/coursearc/course-archiver/internal/progress"
	"github.com/coursearc/course-archiver/internal/ratelimit"
	"github.com/coursearc/course-archiver/internal/scheduler"
)

func main() {
	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := zapConfig.Build()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.RedirectStdLog(logger)
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := &cli.App{
		Name:  "course-archiver",
		Usage: "download the video assets of a remote course",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "load configuration from `FILE`",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "download",
				Usage:     "download the assets listed in a descriptor file",
				ArgsUsage: "ASSETS.json",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "target",
						Usage: "save downloaded assets to `DIR` (overrides config)",
					},
					&cli.StringFlag{
						Name:  "blocks",
						Usage: "read block content for unresolved assets from `DIR`",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "concurrent transfer `COUNT` (overrides config)",
					},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("expected exactly one descriptor file argument")
					}
					return download(c.Context, c, logger)
				},
			},
			{
				Name:  "history",
				Usage: "list previously completed downloads",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "show at most `N` records",
					},
				},
				Action: func(c *cli.Context) error {
					return listHistory(c.Context, c, logger)
				},
			},
		},
		HideHelpCommand: true,
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Fatal(err.Error())
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	if target := c.String("target"); target != "" {
		cfg.TargetDir = target
	}
	if workers := c.Int("workers"); workers > 0 {
		cfg.Workers = workers
	}
	return cfg, nil
}

func download(ctx context.Context, c *cli.Context, logger *zap.Logger) error {
	sugar := logger.Sugar()
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	assets, err := readDescriptors(c.Args().First())
	if err != nil {
		return err
	}
	sugar.Infof("Downloading %d assets into %s", len(assets), cfg.TargetDir)

	if err := os.MkdirAll(filepath.Dir(cfg.ManifestPath), 0755); err != nil {
		return err
	}
	store, err := manifest.Open(cfg.ManifestPath)
	if err != nil {
		return err
	}
	defer store.Close()

	var archive *history.Store
	if cfg.HistoryPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.HistoryPath), 0755); err != nil {
			return err
		}
		if archive, err = history.Open(cfg.HistoryPath, logger); err != nil {
			return err
		}
		defer archive.Close()
	}

	schedConfig := scheduler.Config{
		TargetDir:      cfg.TargetDir,
		Workers:        cfg.Workers,
		MaxAttempts:    cfg.MaxAttempts,
		ChunkSize:      cfg.ChunkSize,
		RequestTimeout: cfg.RequestTimeout.Std(),
		Manifest:       store,
		History:        archive,
		Rate: ratelimit.New(ratelimit.Config{
			MinInterval:      cfg.Rate.MinInterval.Std(),
			BaseDelay:        cfg.Rate.BaseDelay.Std(),
			MaxDelay:         cfg.Rate.MaxDelay.Std(),
			Jitter:           cfg.Rate.Jitter,
			CircuitThreshold: cfg.Rate.CircuitThreshold,
			CircuitCooldown:  cfg.Rate.CircuitCooldown.Std(),
		}),
	}
	if blocksDir := c.String("blocks"); blocksDir != "" {
		schedConfig.Blocks = &dirBlockFetcher{dir: blocksDir}
	}

	sched, err := scheduler.New(schedConfig, ctx)
	if err != nil {
		return err
	}
	defer sched.Close()

	updates, unsubscribe := sched.Subscribe()
	defer unsubscribe()
	go renderProgress(sched, updates, sugar)

	batch, err := sched.Submit(assets)
	if err != nil {
		return err
	}

	outcomes, err := batch.Wait(ctx)
	if err != nil {
		sugar.Info("Exiting gracefully, partial downloads can be resumed...")
		batch.Cancel()
		return nil
	}
	return report(outcomes, batch, sugar)
}

// renderProgress drives a byte-granular progress bar from incremental
// updates, logging state transitions at debug level with a field diff.
func renderProgress(sched *scheduler.Scheduler, updates <-chan progress.Update, sugar *zap.SugaredLogger) {
	var bar *progressbar.ProgressBar
	var lastSnapshot progress.Snapshot
	for u := range updates {
		snap := sched.Progress()
		if bar == nil && snap.BytesExpected > 0 {
			bar = progressbar.DefaultBytes(snap.BytesExpected, "downloading")
		}
		if bar != nil {
			bar.ChangeMax64(snap.BytesExpected)
			_ = bar.Set64(snap.BytesDone)
		}
		if u.From != u.To {
			changes, err := diff.Diff(lastSnapshot, snap)
			if err == nil {
				for _, change := range changes {
					sugar.Debugf("%v: %#v -> %#v", change.Path, change.From, change.To)
				}
			}
			sugar.Debugw("task transition",
				"task_id", u.TaskID, "asset_id", u.AssetID, "from", u.From, "to", u.To)
		}
		lastSnapshot = snap
	}
}

func report(outcomes []scheduler.Outcome, batch *scheduler.Batch, sugar *zap.SugaredLogger) error {
	var completed, failed, cancelled int
	for _, o := range outcomes {
		switch o.State {
		case course_archiver.TaskStateCompleted:
			completed++
		case course_archiver.TaskStateFailed:
			failed++
			sugar.Warnf("asset %s failed (%s): %v", o.AssetID, o.Kind, o.Err)
		case course_archiver.TaskStateCancelled:
			cancelled++
		}
	}
	sugar.Infof("Batch finished: %d completed, %d failed, %d cancelled", completed, failed, cancelled)
	if batch.AllFailed() {
		return fmt.Errorf("every download in the batch failed")
	}
	return nil
}

func listHistory(ctx context.Context, c *cli.Context, logger *zap.Logger) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	archive, err := history.Open(cfg.HistoryPath, logger)
	if err != nil {
		return err
	}
	defer archive.Close()
	records, err := archive.List(ctx, c.Int("limit"))
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Printf("%s\t%s\t%d bytes\t%s\n",
			r.CompletedAt.Format("2006-01-02 15:04:05"), r.AssetID, r.Size, r.Path)
	}
	return nil
}

func readDescriptors(path string) ([]course_archiver.AssetDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor file: %w", err)
	}
	var assets []course_archiver.AssetDescriptor
	if err := json.Unmarshal(data, &assets); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor file: %w", err)
	}
	return assets, nil
}

// dirBlockFetcher serves block content from local files named <blockID>.json
// or <blockID>.html, for workflows where the course collaborator has already
// exported the blocks.
type dirBlockFetcher struct {
	dir string
}

func (f *dirBlockFetcher) FetchBlock(_ context.Context, blockID string) (*course_archiver.BlockContent, error) {
	base := filepath.Join(f.dir, filepath.Base(blockID))
	if data, err := os.ReadFile(base + ".json"); err == nil {
		return &course_archiver.BlockContent{BlockID: blockID, Payload: data}, nil
	}
	data, err := os.ReadFile(base + ".html")
	if err != nil {
		return nil, fmt.Errorf("no block content for %v in %v", blockID, f.dir)
	}
	return &course_archiver.BlockContent{BlockID: blockID, HTML: string(data)}, nil
}
