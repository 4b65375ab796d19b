package usage

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/council/config"
	"github.com/BaSui01/council/council"
	"github.com/BaSui01/council/types"
)

const quotaStripes = 64

// DBQuotaGuard enforces per-caller monthly token caps against the
// authoritative usage-record sums. Check-then-reserve is serialized per
// caller through a striped mutex, and in-flight reservations are held in
// memory until they settle, so concurrent turns for one caller cannot both
// pass on the same remaining budget.
type DBQuotaGuard struct {
	store  *Store
	caps   config.QuotaConfig
	logger *zap.Logger
	// now is swappable for month-boundary tests.
	now func() time.Time

	stripes [quotaStripes]sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]int64
}

// NewDBQuotaGuard creates the database-backed quota guard.
func NewDBQuotaGuard(store *Store, caps config.QuotaConfig, logger *zap.Logger) *DBQuotaGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DBQuotaGuard{
		store:   store,
		caps:    caps,
		logger:  logger.With(zap.String("component", "quota_db")),
		now:     func() time.Time { return time.Now().UTC() },
		pending: make(map[string]int64),
	}
}

func (g *DBQuotaGuard) stripe(callerKey string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(callerKey))
	return &g.stripes[h.Sum32()%quotaStripes]
}

func (g *DBQuotaGuard) pendingFor(callerKey string) int64 {
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()
	return g.pending[callerKey]
}

func (g *DBQuotaGuard) addPending(callerKey string, delta int64) {
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()
	g.pending[callerKey] += delta
	if g.pending[callerKey] <= 0 {
		delete(g.pending, callerKey)
	}
}

// Check implements council.QuotaGuard. A caller without a configured cap, or
// with a non-positive cap, is never denied. Denials happen before any
// provider call, so a denied turn records no usage and reserves nothing.
func (g *DBQuotaGuard) Check(ctx context.Context, callerKey string, estimatedTokens int64) (council.QuotaReservation, error) {
	limit, ok := g.caps.CapFor(callerKey)
	if !ok || limit <= 0 {
		return unboundedReservation{}, nil
	}
	if estimatedTokens < 1 {
		estimatedTokens = 1
	}

	mu := g.stripe(callerKey)
	mu.Lock()
	defer mu.Unlock()

	used, err := g.store.MonthlyTokensUsed(ctx, callerKey, g.now())
	if err != nil {
		// Fail closed: an unreadable ledger must not grant free runs.
		return nil, types.NewError(types.ErrInternalError, "quota lookup failed").
			WithCause(err).WithHTTPStatus(500)
	}
	used += g.pendingFor(callerKey)

	if used+estimatedTokens > limit {
		g.logger.Info("quota denied",
			zap.String("caller_key", callerKey),
			zap.Int64("used", used),
			zap.Int64("estimated", estimatedTokens),
			zap.Int64("cap", limit),
		)
		return nil, types.NewQuotaExceededError(used, limit)
	}

	g.addPending(callerKey, estimatedTokens)
	return &dbReservation{guard: g, callerKey: callerKey, reserved: estimatedTokens}, nil
}

// dbReservation drops its pending estimate exactly once. The actual spend is
// already visible through the usage records appended as calls settled, so
// nothing else needs adjusting here.
type dbReservation struct {
	guard     *DBQuotaGuard
	callerKey string
	reserved  int64
	once      sync.Once
}

func (r *dbReservation) Settle(context.Context, int64) error {
	r.once.Do(func() { r.guard.addPending(r.callerKey, -r.reserved) })
	return nil
}

// unboundedReservation is handed out to callers without a configured cap.
type unboundedReservation struct{}

func (unboundedReservation) Settle(context.Context, int64) error { return nil }
