package linking

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/subbot-linker/internal/errors"
	"github.com/openclaw/subbot-linker/internal/events"
	"github.com/openclaw/subbot-linker/internal/model"
	"github.com/openclaw/subbot-linker/internal/protocol"
)

// start creates the protocol client and connects it. Pairing sessions then
// run the negotiator on this goroutine.
func (r *Registry) start(e *entry) {
	e.mu.Lock()
	auth := e.session.AuthMaterial
	id := e.session.ID
	mode := e.session.LinkMode
	resuming := e.session.Linked()
	e.mu.Unlock()

	client, err := r.factory.NewClient(e.ctx, auth, func(u protocol.Update) {
		r.handleUpdate(e, u)
	})
	if err != nil {
		r.fail(e, failureKind(err), apperrors.ErrCodeProtocol, err)
		return
	}

	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		client.End()
		return
	}
	e.client = client
	if mode == model.LinkModePairingCode && !resuming {
		if err := r.applyLocked(e, change{to: model.StateAwaitingCode}); err != nil {
			log.Warn().Err(err).Str("sessionId", id).Msg("failed to enter awaiting_code")
		}
	}
	e.mu.Unlock()

	if err := client.Connect(e.ctx); err != nil {
		if e.ctx.Err() != nil {
			return
		}
		r.fail(e, failureKind(err), apperrors.ErrCodeProtocol, err)
		return
	}

	if mode == model.LinkModePairingCode && !resuming {
		r.negotiate(e)
	}
}

// handleUpdate routes one protocol notification. The client never calls it
// concurrently for the same session.
func (r *Registry) handleUpdate(e *entry, u protocol.Update) {
	switch {
	case u.LinkedIdentity != "":
		r.onLinked(e, u.LinkedIdentity)
	case u.QR != "":
		r.onQR(e, u.QR)
	case u.Connection == protocol.ConnectionOpen:
		r.onOpen(e)
	case u.Connection == protocol.ConnectionClose:
		r.onClose(e, u)
	case u.Err != nil:
		r.onError(e, u.Err)
	}
}

func (r *Registry) onQR(e *entry, qr string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.session
	if e.closing || s.LinkMode != model.LinkModeQRCode {
		return
	}

	setQR := func(s *model.Session) { s.QRPayload = &qr }
	var err error
	switch {
	case s.State == model.StatePending:
		err = r.applyLocked(e, change{
			to:     model.StateQRReady,
			mutate: setQR,
			event:  model.EventQRReady,
			data:   events.QRReady(qr),
		})
		if err == nil {
			err = r.applyLocked(e, change{to: model.StateAwaitingScan})
		}
	case s.State == model.StateQRReady, s.State == model.StateAwaitingScan,
		s.State == model.StateDisconnected && !s.Linked():
		err = r.applyLocked(e, change{
			mutate: setQR,
			touch:  true,
			event:  model.EventQRReady,
			data:   events.QRReady(qr),
		})
	default:
		log.Debug().Str("sessionId", s.ID).Str("state", string(s.State)).Msg("ignoring qr update")
	}
	if err != nil {
		log.Warn().Err(err).Str("sessionId", s.ID).Msg("failed to apply qr update")
	}
}

func (r *Registry) onLinked(e *entry, identity string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing || e.session.State == model.StateConnected {
		return
	}

	var auth []byte
	if e.client != nil {
		auth = e.client.AuthMaterial()
	}
	err := r.applyLocked(e, change{
		to: model.StateConnected,
		mutate: func(s *model.Session) {
			s.LinkedIdentity = &identity
			s.PairingCode = nil
			s.QRPayload = nil
			if auth != nil {
				s.AuthMaterial = auth
			}
		},
		event: model.EventConnected,
		data:  model.ConnectedData{LinkedIdentity: identity},
	})
	if err != nil {
		log.Warn().Err(err).Str("sessionId", e.session.ID).Msg("link reported in unexpected state")
		return
	}
	// A link makes any running negotiation moot.
	if e.stopNegotiation != nil {
		e.stopNegotiation()
	}

	log.Info().Str("sessionId", e.session.ID).Msg("subbot linked")
}

func (r *Registry) onOpen(e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.session
	if e.closing || !s.Linked() || s.State != model.StateDisconnected {
		return
	}

	var auth []byte
	if e.client != nil {
		auth = e.client.AuthMaterial()
	}
	if err := r.applyLocked(e, change{
		to: model.StateConnected,
		mutate: func(s *model.Session) {
			if auth != nil {
				s.AuthMaterial = auth
			}
		},
		event: model.EventConnected,
		data:  model.ConnectedData{LinkedIdentity: *s.LinkedIdentity},
	}); err != nil {
		log.Warn().Err(err).Str("sessionId", s.ID).Msg("failed to apply reconnect")
	}
}

func (r *Registry) onClose(e *entry, u protocol.Update) {
	if u.LoggedOut {
		err := u.Err
		if err == nil {
			err = protocol.ErrRejected
		}
		r.fail(e, model.FailureRejected, apperrors.ErrCodeProtocol, err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.session
	if e.closing || s.State.Terminal() {
		return
	}

	switch s.State {
	case model.StatePending, model.StateAwaitingCode, model.StateDisconnected:
		// Before any payload the library reconnects on its own.
		log.Debug().Str("sessionId", s.ID).Str("state", string(s.State)).Msg("ignoring connection close")
		return
	}

	data := model.ReasonData{Reason: "connection_lost"}
	if u.Err != nil {
		data.Message = u.Err.Error()
	}
	if err := r.applyLocked(e, change{
		to:    model.StateDisconnected,
		event: model.EventDisconnected,
		data:  data,
	}); err != nil {
		log.Warn().Err(err).Str("sessionId", s.ID).Msg("failed to apply connection close")
	}
}

func (r *Registry) onError(e *entry, err error) {
	e.mu.Lock()
	linked := e.session.Linked()
	id := e.session.ID
	e.mu.Unlock()
	if linked {
		log.Warn().Err(err).Str("sessionId", id).Msg("protocol error on linked session")
		return
	}
	r.fail(e, failureKind(err), apperrors.ErrCodeProtocol, err)
}

// fail moves the session to error, publishes the failure and schedules its
// removal.
func (r *Registry) fail(e *entry, kind model.FailureReason, code apperrors.ErrorCode, cause error) {
	e.mu.Lock()
	if e.closing || e.session.State.Terminal() {
		e.mu.Unlock()
		return
	}
	info := model.ErrorInfo{Code: string(code), Reason: kind, Message: cause.Error()}
	err := r.applyLocked(e, change{
		to:     model.StateError,
		mutate: func(s *model.Session) { s.SetError(info) },
		event:  model.EventError,
		data: model.ReasonData{
			Reason:  string(kind),
			Kind:    kind,
			Code:    info.Code,
			Message: info.Message,
		},
	})
	id := e.session.ID
	e.mu.Unlock()
	if err != nil {
		log.Warn().Err(err).Str("sessionId", id).Msg("failed to record session failure")
		return
	}

	log.Warn().
		Err(cause).
		Str("sessionId", id).
		Str("reason", string(kind)).
		Msg("linking session failed")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.DeleteSession(context.Background(), id, model.ReasonFailed); err != nil {
			log.Error().Err(err).Str("sessionId", id).Msg("failed to remove failed session")
		}
	}()
}

func failureKind(err error) model.FailureReason {
	if errors.Is(err, protocol.ErrRejected) {
		return model.FailureRejected
	}
	return model.FailureLibrary
}
