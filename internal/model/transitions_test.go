package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var allStates = []SessionState{
	StatePending, StateAwaitingCode, StateCodeReady, StateQRReady, StateAwaitingScan,
	StateAwaitingLink, StateConnected, StateDisconnected, StateExpired, StateError,
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to SessionState
		want     bool
	}{
		{StatePending, StateQRReady, true},
		{StatePending, StateAwaitingCode, true},
		{StatePending, StateConnected, false},
		{StateAwaitingCode, StateCodeReady, true},
		{StateAwaitingCode, StateDisconnected, false},
		{StateCodeReady, StateAwaitingLink, true},
		{StateQRReady, StateAwaitingScan, true},
		{StateAwaitingScan, StateConnected, true},
		{StateConnected, StateDisconnected, true},
		{StateConnected, StateExpired, false},
		{StateDisconnected, StateConnected, true},
		{StateDisconnected, StatePending, false},
		{StateAwaitingScan, StateQRReady, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCanTransition_TerminalStatesAreFinal(t *testing.T) {
	for _, from := range []SessionState{StateExpired, StateError} {
		assert.True(t, from.Terminal())
		for _, to := range allStates {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCanTransition_NoSelfLoops(t *testing.T) {
	for _, s := range allStates {
		assert.False(t, CanTransition(s, s), string(s))
	}
}

func TestSession_Expirable(t *testing.T) {
	now := time.Now()
	identity := "15550001111@s.whatsapp.net"
	past := now.Add(-time.Second)

	tests := []struct {
		name    string
		session Session
		want    bool
	}{
		{"pending past ttl", Session{State: StatePending, ExpiresAt: past}, true},
		{"pending within ttl", Session{State: StatePending, ExpiresAt: now.Add(time.Second)}, false},
		{"exactly at ttl", Session{State: StateAwaitingScan, ExpiresAt: now}, false},
		{"connected", Session{State: StateConnected, ExpiresAt: past}, false},
		{"disconnected before link", Session{State: StateDisconnected, ExpiresAt: past}, true},
		{"disconnected after link", Session{State: StateDisconnected, LinkedIdentity: &identity, ExpiresAt: past}, false},
		{"already expired", Session{State: StateExpired, ExpiresAt: past}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.session.Expirable(now))
		})
	}
}

func TestSession_CloneIsDeep(t *testing.T) {
	code := "ABCD-1234"
	s := &Session{ID: "s1", PairingCode: &code, AuthMaterial: []byte("auth")}

	c := s.Clone()
	*c.PairingCode = "changed"
	c.AuthMaterial[0] = 'X'

	assert.Equal(t, "ABCD-1234", *s.PairingCode)
	assert.Equal(t, []byte("auth"), s.AuthMaterial)
}

func TestSession_View(t *testing.T) {
	number := "15551234567"
	code := "ABCD-1234"
	s := &Session{ID: "s1", TargetNumber: &number, PairingCode: &code}
	s.SetError(ErrorInfo{Code: "NEGOTIATION_ERROR", Reason: FailureTimeout, Message: "deadline"})

	masked := s.View(false)
	assert.Equal(t, "1555*****67", masked.TargetNumber)
	assert.Empty(t, masked.PairingCode)
	assert.Equal(t, FailureTimeout, masked.Error.Reason)

	full := s.View(true)
	assert.Equal(t, "ABCD-1234", full.PairingCode)
}
