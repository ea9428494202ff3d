package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/joho/godotenv"

	"aggfs/internal/aggregate"
	"aggfs/internal/config"
	"aggfs/internal/logging"
	"aggfs/internal/registry"
	"aggfs/internal/state"
)

var logger = logging.GetLogger().WithPrefix("cli")

// loadConfig loads .env, then the share configuration, and applies its
// log level. --verbose wins over the configured level.
func loadConfig(path string, verbose bool) (*config.Config, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, config.ErrConfigNotFound) {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", path, err)
	}

	root := logging.GetLogger()
	if cfg.LogLevel != "" {
		level, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log_level: %w", err)
		}
		root.SetLevel(level)
	}
	if verbose {
		root.SetLevel(logging.LevelDebug)
	}
	return cfg, nil
}

// openShare builds the aggregate for one share over a shared attribute store.
func openShare(ctx context.Context, cfg *config.Config, share config.ShareConfig, store *state.Manager) (*aggregate.FileSystem, error) {
	var opts []registry.Option
	if cfg.MaxSuffix > 0 {
		opts = append(opts, registry.WithMaxSuffix(cfg.MaxSuffix))
	}

	reg, err := registry.New(share.Paths, opts...)
	if err != nil {
		return nil, fmt.Errorf("share %q: %w", share.Name, err)
	}
	fsys, err := aggregate.New(ctx, reg, store)
	if err != nil {
		return nil, fmt.Errorf("share %q: %w", share.Name, err)
	}

	stats := reg.Stats()
	logger.Info("Share %q: %d top-level entries, %d renamed, %d skipped",
		share.Name, stats.Entries, stats.Renamed, len(stats.Skipped))
	return fsys, nil
}

// selectShares returns the named shares, or all of them when names is empty.
func selectShares(cfg *config.Config, names []string) ([]config.ShareConfig, error) {
	if len(names) == 0 {
		return cfg.Shares, nil
	}
	shares := make([]config.ShareConfig, 0, len(names))
	for _, name := range names {
		s, ok := cfg.Share(name)
		if !ok {
			return nil, fmt.Errorf("unknown share %q", name)
		}
		shares = append(shares, s)
	}
	return shares, nil
}
