package vm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jbweber/kiln/internal/metadata"
	"github.com/jbweber/kiln/internal/status"
)

// clean retires any previous instance of name so the rest of the run can
// assume a clean slate:
//  1. Log what is being replaced, if the old domain carries a record
//  2. Stop and undefine the domain
//  3. Ensure the storage directory exists
//  4. Delete the artifacts at their deterministic paths
//
// Domain removal is best-effort: a domain that survives surfaces as a
// conflict when the new one is defined. A stale artifact that cannot be
// deleted stops the run, since the new artifacts would be written over it.
func clean(ctx context.Context, name string, d deps, logger *slog.Logger) error {
	describePrevious(name, d, logger)

	result, err := d.hv.TryRemoveDomain(name)
	switch result {
	case status.RemoveRemoved:
		logger.Info("removed existing domain", "instance", name)
	case status.RemoveAbsent:
		logger.Debug("no existing domain", "instance", name)
	case status.RemoveFailed:
		logger.Warn("failed to remove existing domain", "instance", name, "error", err)
	}

	if err := d.disks.EnsureStorageDir(ctx); err != nil {
		return err
	}

	removals := d.disks.RemoveArtifacts(ctx, name)
	for _, r := range removals {
		switch r.Result {
		case status.RemoveRemoved:
			logger.Info("removed stale artifact", "path", r.Resource)
		case status.RemoveAbsent:
			logger.Debug("no stale artifact", "path", r.Resource)
		}
	}
	if failed := status.Failed(removals); len(failed) > 0 {
		return fmt.Errorf("failed to remove stale artifact %s: %w", failed[0].Resource, failed[0].Err)
	}
	return nil
}

// describePrevious logs the deployment record of an existing domain.
func describePrevious(name string, d deps, logger *slog.Logger) {
	if d.meta == nil {
		return
	}
	dom, found, err := d.hv.Lookup(name)
	if err != nil || !found {
		return
	}
	rec, err := metadata.Load(d.meta, dom)
	if err != nil {
		logger.Debug("existing domain has no deployment record", "instance", name, "error", err)
		return
	}
	logger.Info("replacing existing instance",
		"instance", name, "image", rec.Image, "os_variant", rec.OSVariant, "created", rec.CreatedAt)
}
