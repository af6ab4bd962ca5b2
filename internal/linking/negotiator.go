package linking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/subbot-linker/internal/errors"
	"github.com/openclaw/subbot-linker/internal/model"
	"github.com/openclaw/subbot-linker/internal/protocol"
	"github.com/openclaw/subbot-linker/internal/retry"
	"github.com/openclaw/subbot-linker/internal/util"
)

// negotiate obtains a pairing code for a session in awaiting_code. Only one
// negotiation runs per session; duplicate triggers return immediately.
func (r *Registry) negotiate(e *entry) {
	if !e.negotiating.CompareAndSwap(false, true) {
		return
	}
	defer e.negotiating.Store(false)

	ctx, cancel := context.WithCancel(e.ctx)
	defer cancel()

	e.mu.Lock()
	if e.closing || e.session.State != model.StateAwaitingCode || e.client == nil {
		e.mu.Unlock()
		return
	}
	e.stopNegotiation = cancel
	client := e.client
	id := e.session.ID
	phone := *e.session.TargetNumber
	displayName := e.session.DisplayName
	customCode := e.customCode
	e.mu.Unlock()

	// The deadline covers the keys wait and every attempt.
	policy := r.opts.Retry
	runCtx, stop := ctx, context.CancelFunc(func() {})
	if policy.Deadline > 0 {
		runCtx, stop = context.WithTimeout(ctx, policy.Deadline)
		policy.Deadline = 0
	}
	defer stop()

	r.waitForKeys(runCtx, client)

	var code string
	err := runCtx.Err()
	if err == nil {
		custom := customCode
		err = policy.Do(runCtx, func(ctx context.Context, attempt int) error {
			c, err := client.RequestPairingCode(ctx, phone, custom, displayName)
			if err != nil {
				r.opts.Metrics.PairingAttempt(pairingResult(err))
				log.Warn().
					Err(err).
					Str("sessionId", id).
					Int("attempt", attempt).
					Bool("customCode", custom != "").
					Msg("pairing code request failed")
				if errors.Is(err, protocol.ErrRejected) {
					return &retry.Permanent{Err: err}
				}
				// Later attempts fall back to a generated code.
				custom = ""
				return err
			}
			r.opts.Metrics.PairingAttempt("ok")
			code = c
			return nil
		})
	}

	if ctx.Err() != nil {
		// Deleted or linked while negotiating.
		return
	}
	if err != nil && runCtx.Err() != nil {
		err = fmt.Errorf("%w after %s: %w", retry.ErrDeadline, r.opts.Retry.Deadline, err)
	}
	if err != nil {
		kind := model.FailureLibrary
		switch {
		case errors.Is(err, protocol.ErrRejected):
			kind = model.FailureRejected
		case errors.Is(err, retry.ErrDeadline):
			kind = model.FailureTimeout
		case errors.Is(err, retry.ErrExhausted):
			kind = model.FailureExhausted
		}
		r.fail(e, kind, apperrors.ErrCodeNegotiation, err)
		return
	}

	formatted := util.FormatPairingCode(code)
	e.mu.Lock()
	err = r.applyLocked(e, change{
		to:     model.StateCodeReady,
		mutate: func(s *model.Session) { s.PairingCode = &formatted },
	})
	var delivered <-chan struct{}
	if err == nil {
		delivered = r.publishLocked(e, model.EventPairingCode, model.PairingCodeData{Code: formatted})
	}
	e.mu.Unlock()
	if err != nil {
		r.logRecordFailure(id, err)
		return
	}

	// Stay in code_ready until subscribers have seen the code.
	select {
	case <-delivered:
	case <-ctx.Done():
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.State != model.StateCodeReady {
		return
	}
	r.logRecordFailure(id, r.applyLocked(e, change{to: model.StateAwaitingLink}))
}

func (r *Registry) logRecordFailure(id string, err error) {
	if err != nil && !errors.Is(err, errClosing) {
		log.Warn().Err(err).Str("sessionId", id).Msg("failed to record pairing code")
	}
}

// waitForKeys polls until the client's handshake keys are ready or the wait
// window ends. Negotiation proceeds either way.
func (r *Registry) waitForKeys(ctx context.Context, client protocol.Client) {
	if client.KeysReady() || r.opts.KeysWait <= 0 {
		return
	}
	deadline := time.NewTimer(r.opts.KeysWait)
	defer deadline.Stop()
	ticker := time.NewTicker(r.opts.KeysPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			log.Debug().Msg("keys not ready after wait window, requesting code anyway")
			return
		case <-ticker.C:
			if client.KeysReady() {
				return
			}
		}
	}
}

func pairingResult(err error) string {
	if errors.Is(err, protocol.ErrRejected) {
		return "rejected"
	}
	return "error"
}
