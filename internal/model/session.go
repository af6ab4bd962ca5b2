package model

import (
	"time"

	"github.com/openclaw/subbot-linker/internal/util"
)

type ErrorInfo struct {
	Code    string        `json:"code"`
	Reason  FailureReason `json:"reason"`
	Message string        `json:"message"`
}

// Session is one linking attempt. AuthMaterial is exclusively owned by the
// session and never leaves the process in JSON form.
type Session struct {
	ID             string       `db:"id" json:"id"`
	OwnerIdentity  string       `db:"owner_identity" json:"ownerIdentity"`
	LinkMode       LinkMode     `db:"link_mode" json:"linkMode"`
	State          SessionState `db:"state" json:"state"`
	TargetNumber   *string      `db:"target_number" json:"targetNumber,omitempty"`
	DisplayName    string       `db:"display_name" json:"displayName"`
	PairingCode    *string      `db:"pairing_code" json:"pairingCode,omitempty"`
	QRPayload      *string      `db:"qr_payload" json:"qrPayload,omitempty"`
	LinkedIdentity *string      `db:"linked_identity" json:"linkedIdentity,omitempty"`
	ErrorCode      *string      `db:"error_code" json:"-"`
	ErrorReason    *string      `db:"error_reason" json:"-"`
	ErrorMessage   *string      `db:"error_message" json:"-"`
	AuthMaterial   []byte       `db:"auth_material" json:"-"`
	CreatedAt      time.Time    `db:"created_at" json:"createdAt"`
	ExpiresAt      time.Time    `db:"expires_at" json:"expiresAt"`
	LastActivityAt time.Time    `db:"last_activity_at" json:"lastActivityAt"`
}

// Clone returns a deep copy safe to hand out of the registry.
func (s *Session) Clone() *Session {
	c := *s
	c.TargetNumber = cloneString(s.TargetNumber)
	c.PairingCode = cloneString(s.PairingCode)
	c.QRPayload = cloneString(s.QRPayload)
	c.LinkedIdentity = cloneString(s.LinkedIdentity)
	c.ErrorCode = cloneString(s.ErrorCode)
	c.ErrorReason = cloneString(s.ErrorReason)
	c.ErrorMessage = cloneString(s.ErrorMessage)
	if s.AuthMaterial != nil {
		c.AuthMaterial = append([]byte(nil), s.AuthMaterial...)
	}
	return &c
}

func (s *Session) Error() *ErrorInfo {
	if s.ErrorCode == nil {
		return nil
	}
	info := &ErrorInfo{Code: *s.ErrorCode}
	if s.ErrorReason != nil {
		info.Reason = FailureReason(*s.ErrorReason)
	}
	if s.ErrorMessage != nil {
		info.Message = *s.ErrorMessage
	}
	return info
}

func (s *Session) SetError(info ErrorInfo) {
	reason := string(info.Reason)
	s.ErrorCode = &info.Code
	s.ErrorReason = &reason
	s.ErrorMessage = &info.Message
}

// Linked reports whether the session has ever completed a link.
func (s *Session) Linked() bool {
	return s.LinkedIdentity != nil && *s.LinkedIdentity != ""
}

// SessionView is the consumer-facing snapshot.
type SessionView struct {
	ID             string       `json:"id"`
	OwnerIdentity  string       `json:"ownerIdentity"`
	LinkMode       LinkMode     `json:"linkMode"`
	State          SessionState `json:"state"`
	TargetNumber   string       `json:"targetNumber,omitempty"`
	DisplayName    string       `json:"displayName"`
	PairingCode    string       `json:"pairingCode,omitempty"`
	QRPayload      string       `json:"qrPayload,omitempty"`
	LinkedIdentity string       `json:"linkedIdentity,omitempty"`
	Error          *ErrorInfo   `json:"error,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	ExpiresAt      time.Time    `json:"expiresAt"`
	LastActivityAt time.Time    `json:"lastActivityAt"`
}

// View masks phone numbers. Pairing code and QR payload are only included
// when withSecrets is set (single-session reads by the owner).
func (s *Session) View(withSecrets bool) SessionView {
	v := SessionView{
		ID:             s.ID,
		OwnerIdentity:  s.OwnerIdentity,
		LinkMode:       s.LinkMode,
		State:          s.State,
		DisplayName:    s.DisplayName,
		Error:          s.Error(),
		CreatedAt:      s.CreatedAt,
		ExpiresAt:      s.ExpiresAt,
		LastActivityAt: s.LastActivityAt,
	}
	if s.TargetNumber != nil {
		v.TargetNumber = util.MaskNumber(*s.TargetNumber)
	}
	if s.LinkedIdentity != nil {
		v.LinkedIdentity = util.MaskNumber(*s.LinkedIdentity)
	}
	if withSecrets {
		if s.PairingCode != nil {
			v.PairingCode = *s.PairingCode
		}
		if s.QRPayload != nil {
			v.QRPayload = *s.QRPayload
		}
	}
	return v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Expirable reports whether the sweeper may reclaim the session at now.
// Live links are never swept, including dropped links that may reconnect.
func (s *Session) Expirable(now time.Time) bool {
	if s.State.Terminal() || s.State == StateConnected {
		return false
	}
	if s.State == StateDisconnected && s.Linked() {
		return false
	}
	return now.After(s.ExpiresAt)
}
