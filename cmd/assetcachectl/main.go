// Command assetcachectl is the cfcache verb-per-subcommand control surface
// from §4.7 / §6: status, clear, clearnegatives, assets (deep-touch),
// expire, cachedefaultassets, deletedefaultassets, cleanbak. It opens the
// same cache a simulator host would, against the same cache_root, so an
// operator can inspect or maintain it without restarting the host.
//
// Grounded on this module's earlier content-cache command, which parsed
// flags and built a slog logger before handing off to a long-lived server;
// here the subcommand tree comes from github.com/alecthomas/kong instead of
// stdlib flag, declared in go.mod for exactly this purpose but unexercised
// by any retrieved teacher source.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	assetcache "github.com/jamenai/opensim-assetcache"
	"github.com/jamenai/opensim-assetcache/cache"
	"github.com/jamenai/opensim-assetcache/defaultsdb"
)

// CLI is the root kong command tree.
type CLI struct {
	CacheRoot    string `help:"Cache root directory, matching the host's cache_root." default:"c_assetcache"`
	DefaultsDB   string `help:"Path to the default-assets allowlist database." default:"c_assetcache/defaults.db"`
	LogFormat    string `help:"Log output format." enum:"text,json" default:"text"`
	LogLevel     string `help:"Minimum log level." enum:"debug,info,warn,error" default:"info"`

	Status              StatusCmd              `cmd:"" help:"Report request/hit counters and in-flight join count."`
	Clear               ClearCmd               `cmd:"" help:"Drop cache tiers: all, or just file/memory."`
	ClearNegatives      ClearNegativesCmd      `cmd:"clearnegatives" help:"Drop every entry in the negative cache."`
	Assets              AssetsCmd              `cmd:"" help:"Run a deep-touch scan against an attached scene, if any."`
	Expire              ExpireCmd              `cmd:"" help:"Run a cleanup sweep immediately."`
	CacheDefaultAssets  CacheDefaultAssetsCmd  `cmd:"cachedefaultassets" help:"Load and pin a named default-asset set."`
	DeleteDefaultAssets DeleteDefaultAssetsCmd `cmd:"deletedefaultassets" help:"Clear the sticky default-assets allowlist."`
	CleanBak            CleanBakCmd            `cmd:"cleanbak" help:"Delete stale .bak siblings immediately."`
}

// app bundles the collaborators every subcommand needs.
type app struct {
	cache  *cache.Cache
	db     *defaultsdb.DB
	logger *slog.Logger
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("assetcachectl"),
		kong.Description("Administrative control surface for the asset cache."),
	)

	logger, err := buildLogger(cli.LogFormat, cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	a, closeFn, err := bootstrap(cli, logger)
	if err != nil {
		logger.Error("failed to open cache", "error", err)
		os.Exit(1)
	}
	defer closeFn()

	if err := kctx.Run(a); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})), nil
	case "text":
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: lvl, TimeFormat: time.Kitchen})), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
}

// bootstrap opens the defaults database and constructs a Cache against the
// same cache_root a simulator host would use. This tool runs standalone:
// there is no live upstream collaborator or attached scene, so upstream
// fetches act as misses and deep-touch only re-stamps regions it is told
// about explicitly.
func bootstrap(cli CLI, logger *slog.Logger) (*app, func(), error) {
	db, err := defaultsdb.Open(cli.DefaultsDB, defaultsdb.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("opening defaults database: %w", err)
	}

	cfg := assetcache.DefaultConfig()
	cfg.CacheRoot = cli.CacheRoot
	cfg.Logger = logger

	c, err := cache.New(cfg, nil, cache.WithDefaultsDB(db))
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("constructing cache: %w", err)
	}

	return &app{cache: c, db: db, logger: logger}, func() { _ = db.Close() }, nil
}

// StatusCmd implements the "status" verb.
type StatusCmd struct{}

func (cmd *StatusCmd) Run(a *app) error {
	s := a.cache.Status()
	fmt.Printf("requests:       %d\n", s.Requests)
	fmt.Printf("weak hits:      %d\n", s.WeakHits)
	fmt.Printf("memory hits:    %d\n", s.MemoryHits)
	fmt.Printf("file hits:      %d\n", s.FileHits)
	fmt.Printf("misses:         %d\n", s.Misses)
	fmt.Printf("negative size:  %d\n", s.NegativeSize)
	fmt.Printf("inflight joins: %d\n", s.InflightJoins)
	fmt.Printf("weak live est:  %d/%d sampled\n", s.WeakLiveEst, s.WeakSampled)
	for region, at := range s.RegionStamps {
		fmt.Printf("region %s last deep-touch: %s\n", region, at.Format(time.RFC3339))
	}
	return nil
}

// ClearCmd implements "clear [file] [memory]".
type ClearCmd struct {
	Scopes []string `arg:"" optional:"" enum:"file,memory" help:"Tiers to drop; omit for all."`
}

func (cmd *ClearCmd) Run(a *app) error {
	a.cache.ClearScoped(cmd.Scopes...)
	a.logger.Info("cache cleared", "scopes", cmd.Scopes)
	return nil
}

// ClearNegativesCmd implements "clearnegatives".
type ClearNegativesCmd struct{}

func (cmd *ClearNegativesCmd) Run(a *app) error {
	a.cache.ClearNegatives()
	a.logger.Info("negative cache cleared")
	return nil
}

// AssetsCmd implements "assets", the deep-touch scan.
type AssetsCmd struct {
	Region string `arg:"" help:"Region UUID to stamp with the deep-touch result."`
}

func (cmd *AssetsCmd) Run(a *app) error {
	repopulated, err := a.cache.DeepTouch(context.Background(), cmd.Region)
	if err != nil {
		return fmt.Errorf("deep touch: %w", err)
	}
	a.logger.Info("deep touch complete", "region", cmd.Region, "repopulated", repopulated)
	return nil
}

// ExpireCmd implements "expire <datetime|now>".
type ExpireCmd struct {
	When string `arg:"" help:"RFC3339 timestamp, or \"now\"."`
}

func (cmd *ExpireCmd) Run(a *app) error {
	purgeLine := time.Now()
	if cmd.When != "now" {
		t, err := time.Parse(time.RFC3339, cmd.When)
		if err != nil {
			return fmt.Errorf("parsing expire time: %w", err)
		}
		purgeLine = t
	}
	result := a.cache.RunCleanupNow(context.Background(), purgeLine)
	a.logger.Info("cleanup sweep complete",
		"files_deleted", result.FilesDeleted,
		"baks_deleted", result.BaksDeleted,
		"dirs_removed", result.DirsRemoved,
		"bytes_freed", result.BytesFreed,
		"negatives_expired", result.NegativesExpired,
		"negatives_pruned", result.NegativesPruned,
		"errors", result.Errors,
		"duration", result.Duration,
	)
	return nil
}

// CacheDefaultAssetsCmd implements "cachedefaultassets".
type CacheDefaultAssetsCmd struct {
	Set string `arg:"" help:"Name of the default-asset set to load."`
	Dir string `help:"Directory whose filenames are taken as default asset IDs." default:"default-assets"`
}

func (cmd *CacheDefaultAssetsCmd) Run(a *app) error {
	loader := dirDefaultAssetsLoader{root: cmd.Dir}
	n, err := a.cache.CacheDefaultAssets(context.Background(), loader, cmd.Set)
	if err != nil {
		return fmt.Errorf("caching default assets: %w", err)
	}
	a.logger.Info("default assets cached", "set", cmd.Set, "count", n)
	return nil
}

// DeleteDefaultAssetsCmd implements "deletedefaultassets".
type DeleteDefaultAssetsCmd struct{}

func (cmd *DeleteDefaultAssetsCmd) Run(a *app) error {
	if err := a.cache.DeleteDefaultAssets(); err != nil {
		return fmt.Errorf("deleting default assets: %w", err)
	}
	a.logger.Info("default assets allowlist cleared")
	return nil
}

// CleanBakCmd implements "cleanbak".
type CleanBakCmd struct{}

func (cmd *CleanBakCmd) Run(a *app) error {
	result := a.cache.CleanBak(context.Background())
	a.logger.Info("bak cleanup complete",
		"baks_deleted", result.BaksDeleted,
		"bytes_freed", result.BytesFreed,
		"errors", result.Errors,
	)
	return nil
}

// dirDefaultAssetsLoader implements cache.DefaultAssetsLoader by treating
// every filename directly under root/set as a default asset ID. This is a
// thin stand-in for the simulator's own library/appearance service, which
// this standalone command has no access to.
type dirDefaultAssetsLoader struct {
	root string
}

func (d dirDefaultAssetsLoader) LoadDefaultAssetIDs(_ context.Context, set string) ([]string, error) {
	dir := d.root + string(os.PathSeparator) + set
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}
