package retention

import (
	"context"
	"fmt"
	"time"

	"beaconbond/pkg/config"
	"beaconbond/pkg/logger"
	"beaconbond/pkg/store"
	"beaconbond/pkg/utils"
)

// runOnce executes a single retention run: acquire lease, scan
// conversations, purge read messages older than the configured period, and
// write audit events.
func runOnce(ctx context.Context, eff config.EffectiveConfigResult, auditPath string) error {
	ret := eff.Config.Retention
	owner := utils.GenMsgID()
	lock := NewFileLease(auditPath)
	lockTTL := ret.LockTTL.Duration()
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	acq, err := lock.Acquire(owner, lockTTL)
	if err != nil {
		logger.Error("retention_lease_acquire_error", "error", err)
		return fmt.Errorf("lease acquire failed: %w", err)
	}
	if !acq {
		logger.Info("retention_lease_not_acquired")
		return nil
	}
	logger.Info("retention_lease_acquired", "owner", owner)
	defer func() {
		if err := lock.Release(owner); err != nil {
			logger.Error("retention_lease_release_error", "error", err)
		} else {
			logger.Info("retention_lease_released", "owner", owner)
		}
	}()

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	// heartbeat renews the lease and aborts the run if renewal keeps failing
	hbCtx, hbCancel := context.WithCancel(runCtx)
	go func() {
		t := time.NewTicker(lockTTL / 3)
		defer t.Stop()
		defer hbCancel()
		var failCount int
		const maxConsecutiveRenewFails = 3
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-t.C:
				if err := lock.Renew(owner, lockTTL); err != nil {
					failCount++
					logger.Error("retention_lease_renew_failed", "error", err, "count", failCount)
					if failCount >= maxConsecutiveRenewFails {
						logger.Error("retention_lease_renew_failed_fatal", "owner", owner)
						runCancel()
						return
					}
				} else {
					if failCount != 0 {
						logger.Info("retention_lease_renew_recovered", "owner", owner, "recovered_count", failCount)
					}
					failCount = 0
				}
			}
		}
	}()
	defer hbCancel()

	runID := utils.GenMsgID()
	period := ret.Period.Duration()
	if period <= 0 {
		period = 30 * 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-period)
	batch := ret.BatchSize
	if batch <= 0 {
		batch = 1000
	}

	logger.Info("retention_run_start", "run_id", runID, "owner", owner, "dry_run", ret.DryRun, "cutoff", cutoff.Format(time.RFC3339))
	auditInfo("retention_audit_header", "run_id", runID, "started_at", time.Now().UTC().Format(time.RFC3339), "dry_run", ret.DryRun, "period", period.String())

	convs, err := store.ListConversations()
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	var scanned, purged int
	for _, conv := range convs {
		select {
		case <-runCtx.Done():
			return fmt.Errorf("retention run aborted due to lease renewal failures")
		default:
		}

		msgs, err := store.ListMessages(conv)
		if err != nil {
			logger.Error("retention_list_messages_failed", "conversation", conv, "error", err)
			continue
		}
		for _, m := range msgs {
			scanned++
			// only fully dismissed messages older than the cutoff are eligible
			if !m.IsRead || m.Deleted {
				continue
			}
			if !time.Unix(0, m.TS).Before(cutoff) {
				continue
			}
			if ret.DryRun {
				auditInfo("retention_audit_item", "run_id", runID, "conversation", conv, "message", m.ID, "status", "dry_run")
				continue
			}
			if err := store.DeleteMessage(conv, m.ID); err != nil {
				auditInfo("retention_audit_item", "run_id", runID, "conversation", conv, "message", m.ID, "status", "failed", "error", err.Error())
				logger.Error("retention_purge_failed", "conversation", conv, "message", m.ID, "error", err)
				continue
			}
			auditInfo("retention_audit_item", "run_id", runID, "conversation", conv, "message", m.ID, "status", "success")
			purged++
			logger.Info("retention_item_purged", "conversation", conv, "message", m.ID)
			if purged >= batch {
				auditInfo("retention_audit_footer", "run_id", runID, "scanned", scanned, "purged", purged, "truncated", true)
				logger.Info("retention_run_complete", "scanned", scanned, "purged", purged, "truncated", true)
				return nil
			}
		}
	}

	auditInfo("retention_audit_footer", "run_id", runID, "scanned", scanned, "purged", purged)
	logger.Info("retention_run_complete", "scanned", scanned, "purged", purged)
	return nil
}

// auditInfo emits to the dedicated audit logger when configured, falling
// back to the main logger.
func auditInfo(msg string, args ...any) {
	if logger.Audit != nil {
		logger.Audit.Info(msg, args...)
		return
	}
	logger.Info(msg, args...)
}
