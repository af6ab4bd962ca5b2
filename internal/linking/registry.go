// Package linking owns the lifecycle of subbot linking sessions. Every
// mutation of a session is serialized on that session's lock and flows
// through the same transition path, whether it comes from a caller, a
// protocol callback, the negotiator or the sweeper.
package linking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/subbot-linker/internal/config"
	apperrors "github.com/openclaw/subbot-linker/internal/errors"
	"github.com/openclaw/subbot-linker/internal/events"
	"github.com/openclaw/subbot-linker/internal/model"
	"github.com/openclaw/subbot-linker/internal/protocol"
	"github.com/openclaw/subbot-linker/internal/repository"
)

// entry is the registry's private record of one session. All fields except
// negotiating are guarded by mu.
type entry struct {
	mu      sync.Mutex
	session *model.Session
	client  protocol.Client
	seq     uint64
	dirty   bool
	closing bool

	customCode      string
	negotiating     atomic.Bool
	stopNegotiation context.CancelFunc
	ctx             context.Context
	cancel          context.CancelFunc
}

type Registry struct {
	repo        repository.SessionRepository
	factory     protocol.Factory
	broadcaster *events.Broadcaster
	opts        Options

	mu             sync.RWMutex
	entries        map[string]*entry
	pendingDeletes map[string]struct{}

	wg sync.WaitGroup
}

func NewRegistry(
	repo repository.SessionRepository,
	factory protocol.Factory,
	broadcaster *events.Broadcaster,
	opts Options,
) *Registry {
	opts.setDefaults()
	return &Registry{
		repo:           repo,
		factory:        factory,
		broadcaster:    broadcaster,
		opts:           opts,
		entries:        make(map[string]*entry),
		pendingDeletes: make(map[string]struct{}),
	}
}

// CreateSession validates the request, persists a pending session and starts
// its protocol client in the background. It never waits on protocol I/O.
func (r *Registry) CreateSession(ctx context.Context, owner string, mode model.LinkMode, opts CreateOptions) (*model.Session, error) {
	req, err := normalize(owner, mode, opts)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := r.opts.Clock.Now()
	session := &model.Session{
		ID:             id,
		OwnerIdentity:  req.Owner,
		LinkMode:       req.Mode,
		State:          model.StatePending,
		DisplayName:    req.DisplayName,
		CreatedAt:      now,
		ExpiresAt:      now.Add(r.opts.TTL),
		LastActivityAt: now,
	}
	if session.DisplayName == "" {
		session.DisplayName = "subbot-" + id[:8]
	}
	if req.TargetNumber != "" {
		session.TargetNumber = &req.TargetNumber
	}

	if err := r.writeWithRetry(ctx, "create", func(ctx context.Context) error {
		return r.repo.Create(ctx, session)
	}); err != nil {
		return nil, apperrors.Persistence(err)
	}

	ectx, cancel := context.WithCancel(context.Background())
	e := &entry{
		session:    session,
		customCode: req.CustomCode,
		ctx:        ectx,
		cancel:     cancel,
	}

	r.mu.Lock()
	r.entries[id] = e
	r.mu.Unlock()
	r.opts.Metrics.SessionCreated(string(mode))

	log.Info().
		Str("sessionId", id).
		Str("owner", req.Owner).
		Str("mode", string(mode)).
		Msg("linking session created")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.start(e)
	}()

	return session.Clone(), nil
}

func (r *Registry) GetSession(ctx context.Context, id string) (*model.Session, error) {
	e := r.lookup(id)
	if e == nil {
		return nil, apperrors.NotFound("session")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing {
		return nil, apperrors.NotFound("session")
	}
	return e.session.Clone(), nil
}

// ListSessions returns snapshots ordered by creation time. An empty owner
// lists every session.
func (r *Registry) ListSessions(ctx context.Context, owner string) ([]*model.Session, error) {
	r.mu.RLock()
	all := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		all = append(all, e)
	}
	r.mu.RUnlock()

	sessions := make([]*model.Session, 0, len(all))
	for _, e := range all {
		e.mu.Lock()
		if !e.closing && (owner == "" || e.session.OwnerIdentity == owner) {
			sessions = append(sessions, e.session.Clone())
		}
		e.mu.Unlock()
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// DeleteSession tears a session down: the protocol client is stopped (and
// logged out if it ever linked), auth material is erased, the row is removed
// and a final event is published. Unknown ids and concurrent calls are
// no-ops. With ReasonExpired the session is only removed if it is still
// expirable, and the expired state is recorded in the store first.
func (r *Registry) DeleteSession(ctx context.Context, id string, reason model.DeleteReason) error {
	e := r.lookup(id)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return nil
	}
	if reason == model.ReasonExpired && !e.session.Expirable(r.opts.Clock.Now()) {
		e.mu.Unlock()
		log.Debug().Str("sessionId", id).Msg("session no longer expirable, skipping")
		return nil
	}
	e.closing = true
	e.cancel()

	if reason == model.ReasonExpired {
		expired := e.session.Clone()
		expired.State = model.StateExpired
		e.session = expired
		r.persistLocked(e)
		r.opts.Metrics.Transition(string(model.StateExpired))
	}
	client := e.client
	linked := e.session.Linked()
	e.mu.Unlock()

	if client != nil {
		if linked {
			if err := client.Logout(ctx); err != nil {
				log.Warn().Err(err).Str("sessionId", id).Msg("failed to log out protocol client")
			}
		} else {
			client.End()
		}
	}

	e.mu.Lock()
	e.session.AuthMaterial = nil
	e.session.PairingCode = nil
	e.session.QRPayload = nil
	if err := r.writeWithRetry(ctx, "delete", func(ctx context.Context) error {
		return r.repo.Delete(ctx, id)
	}); err != nil {
		log.Error().Err(err).Str("sessionId", id).Msg("failed to delete session row, deferring")
		r.mu.Lock()
		r.pendingDeletes[id] = struct{}{}
		r.mu.Unlock()
	}

	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()

	finalType := model.EventDeleted
	if reason == model.ReasonExpired {
		finalType = model.EventExpired
	}
	r.publishLocked(e, finalType, model.ReasonData{Reason: string(reason)})
	e.mu.Unlock()

	r.broadcaster.Release(id)
	r.opts.Metrics.SessionRemoved(string(reason))

	log.Info().
		Str("sessionId", id).
		Str("reason", string(reason)).
		Msg("linking session removed")
	return nil
}

// Restore loads persisted rows after a restart. Sessions that completed a
// link and still hold auth material are resumed as disconnected and
// reconnected; every other row is discarded since its handshake died with
// the previous process.
func (r *Registry) Restore(ctx context.Context) (resumed, discarded int, err error) {
	rows, err := r.repo.FindAll(ctx)
	if err != nil {
		return 0, 0, apperrors.Persistence(err)
	}

	for i := range rows {
		session := rows[i]
		if session.Linked() && len(session.AuthMaterial) > 0 && !session.State.Terminal() {
			r.resume(&session)
			resumed++
			continue
		}

		if err := r.repo.Delete(ctx, session.ID); err != nil {
			log.Error().Err(err).Str("sessionId", session.ID).Msg("failed to discard stale session")
			r.mu.Lock()
			r.pendingDeletes[session.ID] = struct{}{}
			r.mu.Unlock()
		}
		discarded++
		r.opts.Metrics.SessionDiscarded(string(model.ReasonRestart))
	}

	log.Info().
		Int("resumed", resumed).
		Int("discarded", discarded).
		Msg("linking sessions restored")
	return resumed, discarded, nil
}

func (r *Registry) resume(session *model.Session) {
	ectx, cancel := context.WithCancel(context.Background())
	e := &entry{session: session, ctx: ectx, cancel: cancel}

	r.mu.Lock()
	r.entries[session.ID] = e
	r.mu.Unlock()
	r.opts.Metrics.SessionRestored()

	e.mu.Lock()
	if session.State != model.StateDisconnected {
		if err := r.applyLocked(e, change{
			to:    model.StateDisconnected,
			event: model.EventDisconnected,
			data:  model.ReasonData{Reason: string(model.ReasonRestart)},
		}); err != nil {
			log.Warn().Err(err).Str("sessionId", session.ID).Msg("unexpected state on restore")
		}
	}
	e.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.start(e)
	}()
}

// Flush retries deferred store writes: dirty sessions and row deletions that
// failed earlier. It returns how many writes still fail.
func (r *Registry) Flush(ctx context.Context) int {
	r.mu.RLock()
	all := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		all = append(all, e)
	}
	deletes := make([]string, 0, len(r.pendingDeletes))
	for id := range r.pendingDeletes {
		deletes = append(deletes, id)
	}
	r.mu.RUnlock()

	failed := 0
	for _, e := range all {
		e.mu.Lock()
		if e.dirty && !e.closing {
			r.persistLocked(e)
			if e.dirty {
				failed++
			}
		}
		e.mu.Unlock()
	}

	for _, id := range deletes {
		if err := r.repo.Delete(ctx, id); err != nil {
			r.opts.Metrics.PersistenceFailed("delete")
			failed++
			continue
		}
		r.mu.Lock()
		delete(r.pendingDeletes, id)
		r.mu.Unlock()
	}
	return failed
}

// Shutdown stops every protocol client without logging out, so linked
// sessions can be resumed by the next process, and flushes deferred writes.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	all := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		all = append(all, e)
	}
	r.mu.RUnlock()

	for _, e := range all {
		e.mu.Lock()
		if e.dirty {
			r.persistLocked(e)
		}
		e.closing = true
		e.cancel()
		client := e.client
		e.mu.Unlock()
		if client != nil {
			client.End()
		}
	}
	r.Flush(ctx)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// change describes one mutation. An empty to keeps the state; touch then
// refreshes LastActivityAt without extending ExpiresAt.
type change struct {
	to     model.SessionState
	mutate func(s *model.Session)
	touch  bool
	event  model.EventType
	data   any
}

var errClosing = errors.New("session is closing")

// applyLocked validates and applies c, writes it through and publishes its
// event. The caller holds e.mu.
func (r *Registry) applyLocked(e *entry, c change) error {
	if e.closing {
		return errClosing
	}
	from := e.session.State
	if c.to != "" && !model.CanTransition(from, c.to) {
		return apperrors.InvalidTransition(string(from), string(c.to))
	}

	now := r.opts.Clock.Now()
	next := e.session.Clone()
	if c.mutate != nil {
		c.mutate(next)
	}
	if c.to != "" {
		next.State = c.to
		next.LastActivityAt = now
		next.ExpiresAt = now.Add(r.opts.TTL)
	} else if c.touch {
		next.LastActivityAt = now
	}
	e.session = next

	r.persistLocked(e)
	if c.to != "" {
		r.opts.Metrics.Transition(string(c.to))
		log.Debug().
			Str("sessionId", next.ID).
			Str("from", string(from)).
			Str("to", string(c.to)).
			Msg("session transition")
	}
	if c.event != "" {
		r.publishLocked(e, c.event, c.data)
	}
	return nil
}

// persistLocked writes the session, retrying once. On failure the in-memory
// state stays authoritative and the entry is marked dirty for Flush.
func (r *Registry) persistLocked(e *entry) {
	ctx, cancel := context.WithTimeout(context.Background(), config.PersistTimeout)
	defer cancel()

	err := r.writeWithRetry(ctx, "update", func(ctx context.Context) error {
		return r.repo.Update(ctx, e.session)
	})
	if err != nil {
		e.dirty = true
		log.Error().
			Err(err).
			Str("sessionId", e.session.ID).
			Msg("failed to persist session, deferring")
		return
	}
	e.dirty = false
}

// publishLocked queues an event and returns a channel closed once it was
// delivered to every subscriber.
func (r *Registry) publishLocked(e *entry, eventType model.EventType, data any) <-chan struct{} {
	e.seq++
	return r.broadcaster.Publish(events.New(e.session, eventType, e.seq, data, r.opts.Clock.Now()))
}

func (r *Registry) writeWithRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil {
		return nil
	}
	r.opts.Metrics.PersistenceFailed(op)
	log.Warn().Err(err).Str("op", op).Msg("store write failed, retrying once")

	if err = fn(ctx); err != nil {
		r.opts.Metrics.PersistenceFailed(op)
		return err
	}
	return nil
}
