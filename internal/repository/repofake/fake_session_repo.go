package repofake

import (
	"context"
	"sort"
	"sync"

	"github.com/openclaw/subbot-linker/internal/model"
	"github.com/openclaw/subbot-linker/internal/repository"
)

var _ repository.SessionRepository = (*FakeSessionRepo)(nil)

// FakeSessionRepo is an in-memory SessionRepository. FailNext makes the
// next n writes fail with the given error.
type FakeSessionRepo struct {
	sessions map[string]*model.Session
	lock     sync.RWMutex

	failErr   error
	failCount int
	writes    int
}

func NewFakeSessionRepo() *FakeSessionRepo {
	return &FakeSessionRepo{
		sessions: make(map[string]*model.Session),
	}
}

func (r *FakeSessionRepo) FailNext(n int, err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.failCount = n
	r.failErr = err
}

// Writes returns the number of successful Create/Update/Delete calls.
func (r *FakeSessionRepo) Writes() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.writes
}

func (r *FakeSessionRepo) Create(ctx context.Context, session *model.Session) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.injectedErr(); err != nil {
		return err
	}
	r.sessions[session.ID] = session.Clone()
	r.writes++
	return nil
}

func (r *FakeSessionRepo) Update(ctx context.Context, session *model.Session) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.injectedErr(); err != nil {
		return err
	}
	if _, ok := r.sessions[session.ID]; !ok {
		return nil
	}
	r.sessions[session.ID] = session.Clone()
	r.writes++
	return nil
}

func (r *FakeSessionRepo) Delete(ctx context.Context, id string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.injectedErr(); err != nil {
		return err
	}
	delete(r.sessions, id)
	r.writes++
	return nil
}

func (r *FakeSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return session.Clone(), nil
}

func (r *FakeSessionRepo) FindAll(ctx context.Context) ([]model.Session, error) {
	return r.find(func(*model.Session) bool { return true }), nil
}

func (r *FakeSessionRepo) FindByOwner(ctx context.Context, owner string) ([]model.Session, error) {
	return r.find(func(s *model.Session) bool { return s.OwnerIdentity == owner }), nil
}

func (r *FakeSessionRepo) find(match func(*model.Session) bool) []model.Session {
	r.lock.RLock()
	defer r.lock.RUnlock()

	var out []model.Session
	for _, s := range r.sessions {
		if match(s) {
			out = append(out, *s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *FakeSessionRepo) injectedErr() error {
	if r.failCount <= 0 {
		return nil
	}
	r.failCount--
	return r.failErr
}
