package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Reconciler periodically expires removed records and old audit rows and,
// when observe is set, aligns the registry with the engine.
type Reconciler struct {
	registry      *ContainerRegistry
	audit         *AuditService
	interval      time.Duration
	retentionDays int
	observe       bool
}

// NewReconciler creates a reconciler running every interval. Expiry always
// runs; observe only controls the comparison with the engine.
func NewReconciler(registry *ContainerRegistry, audit *AuditService, interval time.Duration, retentionDays int, observe bool) *Reconciler {
	return &Reconciler{
		registry:      registry,
		audit:         audit,
		interval:      interval,
		retentionDays: retentionDays,
		observe:       observe,
	}
}

// Run loops until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logrus.Infof("Reconciler started (interval: %v, observe engine: %v)", r.interval, r.observe)

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Reconciler stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass.
func (r *Reconciler) RunOnce(ctx context.Context) {
	corrected := 0
	if r.observe {
		corrected = r.registry.Reconcile(ctx)
	}
	purged := r.registry.PurgeRemoved()
	r.audit.Prune(ctx, r.retentionDays)

	if corrected > 0 || purged > 0 {
		logrus.WithFields(logrus.Fields{
			"corrected": corrected,
			"purged":    purged,
		}).Info("Reconcile pass finished")
	} else {
		logrus.Debug("Reconcile pass finished, nothing to do")
	}
}
