package model

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventQRReady      EventType = "qr_ready"
	EventPairingCode  EventType = "pairing_code"
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventError        EventType = "error"
	EventExpired      EventType = "expired"
	EventDeleted      EventType = "deleted"
)

// Event is one lifecycle notification. Seq increases monotonically per
// session in the order transitions were accepted.
type Event struct {
	SessionID string          `json:"sessionId"`
	Type      EventType       `json:"type"`
	State     SessionState    `json:"state"`
	Seq       uint64          `json:"seq"`
	Data      json.RawMessage `json:"data,omitempty"`
	At        time.Time       `json:"at"`
}

type QRReadyData struct {
	QR       string `json:"qr"`
	ImageURI string `json:"imageUri,omitempty"`
}

type PairingCodeData struct {
	Code string `json:"code"`
}

type ConnectedData struct {
	LinkedIdentity string `json:"linkedIdentity"`
}

type ReasonData struct {
	Reason  string        `json:"reason"`
	Kind    FailureReason `json:"kind,omitempty"`
	Code    string        `json:"code,omitempty"`
	Message string        `json:"message,omitempty"`
}
