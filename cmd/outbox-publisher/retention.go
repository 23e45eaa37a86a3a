package main

import (
	"context"
	"time"
)

// purgeIfDue deletes delivered rows older than the retention window, at most
// once per purge interval. Failures are logged and retried on the next
// interval; they never stop delivery. Unpublished and parked rows are kept.
func (r *Relay) purgeIfDue(ctx context.Context) {
	if r.retention <= 0 {
		return
	}
	now := r.now()
	if !r.lastPurge.IsZero() && now.Sub(r.lastPurge) < r.purgeEvery {
		return
	}
	r.lastPurge = now

	cutoff := now.Add(-r.retention).UTC()
	logCtx := r.logg.WithField(ctx, "cutoff", cutoff.Format(time.RFC3339))
	removed, err := r.store.DeletePublishedBefore(ctx, nil, cutoff)
	if err != nil {
		r.logg.Error(logCtx, "order event retention purge failed", err)
		return
	}
	r.metrics.AddPurged(removed)
	if removed > 0 {
		r.logg.Info(r.logg.WithField(logCtx, "removed", removed), "purged delivered order events")
	}
}
