package cli

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"aggfs/internal/fs"
	"aggfs/internal/state"
)

var mountCmd = &cobra.Command{
	Use:   "mount [share...]",
	Short: "Mount configured shares over FUSE",
	Long: `Mount every share from the configuration, or only the named ones, at their
configured mount points. The command stays in the foreground until SIGINT or
SIGTERM, then unmounts everything it mounted.`,
	RunE: runMount,
}

func init() {
	rootCmd.AddCommand(mountCmd)
}

type mounted struct {
	share string
	point string
	afs   *fs.AggFS
}

func runMount(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(globalFlags.configPath, globalFlags.verbose)
	if err != nil {
		return err
	}
	shares, err := selectShares(cfg, args)
	if err != nil {
		return err
	}

	store, err := state.NewManager(cfg.StateFile)
	if err != nil {
		return fmt.Errorf("failed to initialize attribute store: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var active []mounted
	defer func() {
		for i := len(active) - 1; i >= 0; i-- {
			if err := active[i].afs.Unmount(active[i].point); err != nil {
				logger.Error("Failed to unmount %q from %s: %v", active[i].share, active[i].point, err)
			}
		}
		if err := store.Save(); err != nil {
			logger.Error("Failed to save attribute store: %v", err)
		}
		logger.Info("Clean shutdown complete")
	}()

	stopped := make(chan string, len(shares))
	for _, share := range shares {
		fsys, err := openShare(ctx, cfg, share, store)
		if err != nil {
			return err
		}

		point := filepath.Clean(share.Mount)
		afs := fs.NewAggFS(share.Name, fsys)
		if err := afs.Mount(point); err != nil {
			return fmt.Errorf("share %q: %w", share.Name, err)
		}
		active = append(active, mounted{share: share.Name, point: point, afs: afs})

		go func(name string, done <-chan error) {
			<-done
			stopped <- name
		}(share.Name, afs.Done())
	}

	logger.Info("%d share(s) mounted and ready", len(active))

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case name := <-stopped:
		logger.Warn("Share %q stopped serving, shutting down", name)
	}
	return nil
}

// cmdContext returns the command context or a background context when the
// command runs outside Execute.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
