package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/council/llm"
)

// Store persists usage records and answers monthly usage queries.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore creates the store and migrates its schema.
func NewStore(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&UsageRecord{}); err != nil {
		return nil, fmt.Errorf("migrate usage records: %w", err)
	}
	return &Store{db: db, logger: logger.With(zap.String("component", "usage_store"))}, nil
}

// Append writes one record, filling ID and timestamp and scrubbing the error
// text.
func (s *Store) Append(ctx context.Context, rec *UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.ErrorText = RedactSecrets(rec.ErrorText)

	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("append usage record: %w", err)
	}
	return nil
}

// MonthBoundsUTC returns the half-open UTC calendar month interval containing
// now. Usage resets exactly at the month boundary.
func MonthBoundsUTC(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// MonthlyTokensUsed sums the caller's counted tokens for the UTC month
// containing now. Rows missing a total fall back to prompt+completion.
func (s *Store) MonthlyTokensUsed(ctx context.Context, callerKey string, now time.Time) (int64, error) {
	start, end := MonthBoundsUTC(now)

	var total int64
	err := s.db.WithContext(ctx).
		Model(&UsageRecord{}).
		Where("caller_key = ? AND created_at >= ? AND created_at < ?", callerKey, start, end).
		Select("COALESCE(SUM(CASE WHEN total_tokens > 0 THEN total_tokens ELSE prompt_tokens + completion_tokens END), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum monthly tokens: %w", err)
	}
	return total, nil
}

// Observer returns the provider-call observer that persists one record per
// settled call, attributed via the call metadata on the context. Persistence
// failures are logged, never propagated into the turn.
func (s *Store) Observer() llm.UsageObserver {
	return func(ctx context.Context, obs llm.CallObservation) {
		meta := llm.CallMetaFromContext(ctx)
		rec := &UsageRecord{
			CallerKey:        meta.CallerKey,
			TurnID:           meta.TurnID,
			Stage:            meta.Stage,
			Model:            obs.Model,
			CallID:           obs.TraceID,
			Status:           obs.Status,
			PromptTokens:     obs.PromptTokens,
			CompletionTokens: obs.CompletionTokens,
			TotalTokens:      obs.TotalTokens,
			CostEstimated:    obs.Cost,
			LatencyMs:        obs.LatencyMs,
			ErrorText:        obs.ErrorText,
			UsageMissing:     obs.UsageMissing || obs.Status != "ok",
		}
		// Persist even when the turn's context has been cancelled.
		if err := s.Append(context.WithoutCancel(ctx), rec); err != nil {
			s.logger.Error("failed to persist usage record",
				zap.String("turn_id", meta.TurnID),
				zap.String("model", obs.Model),
				zap.Error(err),
			)
		}
	}
}
