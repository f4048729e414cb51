package cart

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/furnistore/internal/domain"
	"github.com/fjod/furnistore/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SweepInterval is how often Run looks for idle controllers.
const SweepInterval = time.Minute

type session struct {
	ctrl     *Controller
	lastUsed atomic.Int64 // unix nanos of the latest Get
}

// Sessions hands out one Controller per session ID.
type Sessions struct {
	store  store.CartStore
	logger *zap.Logger
	now    func() time.Time

	mu          sync.RWMutex
	controllers map[string]*session
	sfg         singleflight.Group // one store load per session, even under concurrent first requests
}

func NewSessions(s store.CartStore, l *zap.Logger) *Sessions {
	if l == nil {
		l = zap.NewNop()
	}
	return &Sessions{
		store:       s,
		logger:      l.Named("cart"),
		now:         time.Now,
		controllers: make(map[string]*session),
	}
}

// Get returns the session's controller, restoring its cart from the store on first use.
func (s *Sessions) Get(ctx context.Context, sessionID string) *Controller {
	s.mu.RLock()
	e, ok := s.controllers[sessionID]
	s.mu.RUnlock()
	if ok {
		e.lastUsed.Store(s.now().UnixNano())
		return e.ctrl
	}

	v, _, _ := s.sfg.Do(sessionID, func() (interface{}, error) {
		s.mu.RLock()
		existing, ok := s.controllers[sessionID]
		s.mu.RUnlock()
		if ok {
			return existing, nil
		}

		// the load must outlive a single cancelled request because other callers share it
		created := &session{ctrl: NewController(context.WithoutCancel(ctx), sessionID, s.store, s.logger)}
		created.lastUsed.Store(s.now().UnixNano())

		s.mu.Lock()
		s.controllers[sessionID] = created
		s.mu.Unlock()
		return created, nil
	})
	e = v.(*session)
	e.lastUsed.Store(s.now().UnixNano())
	return e.ctrl
}

// Forget drops the in-memory controller. The stored cart is kept and restored on the next Get.
func (s *Sessions) Forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.controllers, sessionID)
}

// ClearPaid empties the cart of a recovered checkout. A cart that is already empty or
// was changed after the payment snapshot is left as it is.
func (s *Sessions) ClearPaid(ctx context.Context, a *domain.CheckoutAttempt) {
	if !s.Get(ctx, a.SessionID).ClearIfUnchanged(ctx, a.Items) {
		s.logger.Debug("recovered checkout left cart untouched",
			zap.String("checkout_id", a.ID), zap.String("session_id", a.SessionID))
	}
}

// EvictIdle forgets controllers not handed out for at least idle and returns how many
// went. A controller in the middle of a mutation is kept until the next sweep.
func (s *Sessions) EvictIdle(idle time.Duration) int {
	cutoff := s.now().Add(-idle).UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, e := range s.controllers {
		if e.lastUsed.Load() > cutoff {
			continue
		}
		if !e.ctrl.mu.TryLock() {
			continue
		}
		delete(s.controllers, id)
		e.ctrl.mu.Unlock()
		evicted++
	}
	return evicted
}

// Run evicts idle controllers every interval until ctx is done.
func (s *Sessions) Run(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(idle); n > 0 {
				s.logger.Debug("evicted idle carts", zap.Int("evicted", n), zap.Int("remaining", s.Len()))
			}
		}
	}
}

func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.controllers)
}
