// Package maintenance runs the scheduled store statistics sweep: disk
// usage and per-namespace key counts exported as gauges.
package maintenance

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"

	"chatspace/pkg/conv"
	"chatspace/pkg/logger"
	"chatspace/pkg/store"
	"chatspace/pkg/telemetry"
)

// Start validates the cron expression and launches the scheduler. The
// returned cancel stops it.
func Start(ctx context.Context, st *store.Store, cronExpr string) (context.CancelFunc, error) {
	if cronExpr == "" {
		cronExpr = "*/10 * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("maintenance_invalid_cron", "cron", cronExpr)
		return nil, fmt.Errorf("invalid maintenance cron expression: %s", cronExpr)
	}
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, st, cronExpr)
	logger.Info("maintenance_scheduler_started", "cron", cronExpr)
	return cancel, nil
}

// runScheduler sleeps until the next cron tick and sweeps.
func runScheduler(ctx context.Context, st *store.Store, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("maintenance_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("maintenance_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := Sweep(st); err != nil {
				logger.Error("maintenance_sweep_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("maintenance_scheduler_stopping")
			return
		}
	}
}

// Sweep collects store statistics once and updates the gauges.
func Sweep(st *store.Store) error {
	if !st.Ready() {
		return fmt.Errorf("store not ready")
	}
	start := time.Now()

	var diskBytes int64
	err := filepath.WalkDir(st.Path(), func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		diskBytes += info.Size()
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk db path: %w", err)
	}
	telemetry.StoreDiskBytes.Set(float64(diskBytes))

	counts := map[string]string{
		"workspaces": conv.WorkspacePrefix,
		"heads":      conv.HeadPrefix,
		"messages":   conv.MessagePrefix,
	}
	total := 0
	for ns, prefix := range counts {
		n, err := st.CountPrefix(prefix)
		if err != nil {
			return fmt.Errorf("count %s: %w", ns, err)
		}
		telemetry.StoreKeys.WithLabelValues(ns).Set(float64(n))
		total += n
	}

	logger.Info("maintenance_sweep_done",
		"disk_bytes", diskBytes,
		"keys", total,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
