package sync

import (
	"strconv"
	"time"

	"github.com/matheus3301/matchchat/internal/store"
	"go.uber.org/zap"
)

// Checkpoint keys.
const (
	KeyInboxRefreshedAt = "inbox.refreshed_at"
	KeyInboxWatermark   = "inbox.watermark"
)

// Reconciler manages inbox sync checkpoints.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, logger: logger}
}

// UpdateCheckpoint updates a sync checkpoint value.
func (r *Reconciler) UpdateCheckpoint(key, value string) error {
	return r.db.SetState(key, value)
}

// GetCheckpoint retrieves a sync checkpoint value, "" if never set.
func (r *Reconciler) GetCheckpoint(key string) (string, error) {
	return r.db.GetState(key)
}

// MarkRefreshed records a completed inbox refresh and its watermark.
func (r *Reconciler) MarkRefreshed(at, watermark time.Time) {
	if err := r.UpdateCheckpoint(KeyInboxRefreshedAt, strconv.FormatInt(at.UnixMilli(), 10)); err != nil {
		r.logger.Warn("failed to record refresh checkpoint", zap.Error(err))
	}
	if watermark.IsZero() {
		return
	}
	if err := r.UpdateCheckpoint(KeyInboxWatermark, strconv.FormatInt(watermark.UnixMilli(), 10)); err != nil {
		r.logger.Warn("failed to record watermark checkpoint", zap.Error(err))
	}
}

// LastRefresh returns when the inbox was last refreshed, zero if never.
func (r *Reconciler) LastRefresh() time.Time {
	return r.timeCheckpoint(KeyInboxRefreshedAt)
}

// Watermark returns the oldest inbox timestamp fetched so far.
func (r *Reconciler) Watermark() time.Time {
	return r.timeCheckpoint(KeyInboxWatermark)
}

func (r *Reconciler) timeCheckpoint(key string) time.Time {
	v, err := r.GetCheckpoint(key)
	if err != nil || v == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.logger.Warn("bad checkpoint value", zap.String("key", key), zap.String("value", v))
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
