package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/subbot-linker/internal/config"
	"github.com/openclaw/subbot-linker/internal/model"
)

// SessionStore is the part of the registry the sweeper drives. Reclaiming
// goes through DeleteSession like any caller-initiated delete.
type SessionStore interface {
	ListSessions(ctx context.Context, owner string) ([]*model.Session, error)
	DeleteSession(ctx context.Context, id string, reason model.DeleteReason) error
	Flush(ctx context.Context) int
}

type Clock interface {
	Now() time.Time
}

type Sweeper struct {
	store    SessionStore
	clock    Clock
	interval time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewSweeper(store SessionStore, clock Clock, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		clock:    clock,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
	log.Info().Dur("interval", s.interval).Msg("expiration sweeper started")
}

// Stop ends the loop and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		log.Info().Msg("expiration sweeper stopped")
	})
}

func (s *Sweeper) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), config.SweepTimeout)
	defer cancel()

	s.SweepOnce(ctx)
}

// SweepOnce reclaims every expirable session and retries deferred writes.
// A failure on one session never stops the rest. It returns how many
// sessions were reclaimed.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	sessions, err := s.store.ListSessions(ctx, "")
	if err != nil {
		log.Error().Err(err).Msg("failed to list sessions for sweep")
		return 0
	}

	now := s.clock.Now()
	reclaimed := 0
	for _, session := range sessions {
		if !session.Expirable(now) {
			continue
		}
		if s.reclaim(ctx, session.ID) {
			reclaimed++
		}
	}

	if failed := s.store.Flush(ctx); failed > 0 {
		log.Warn().Int("failed", failed).Msg("deferred session writes still failing")
	}
	if reclaimed > 0 {
		log.Info().Int("count", reclaimed).Msg("reclaimed expired sessions")
	}
	return reclaimed
}

func (s *Sweeper) reclaim(ctx context.Context, id string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("sessionId", id).Msg("panic while reclaiming session")
			ok = false
		}
	}()

	if err := s.store.DeleteSession(ctx, id, model.ReasonExpired); err != nil {
		log.Error().Err(err).Str("sessionId", id).Msg("failed to reclaim session")
		return false
	}
	return true
}
