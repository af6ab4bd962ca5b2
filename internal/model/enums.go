package model

type LinkMode string

const (
	LinkModePairingCode LinkMode = "pairing_code"
	LinkModeQRCode      LinkMode = "qr_code"
)

func (m LinkMode) Valid() bool {
	return m == LinkModePairingCode || m == LinkModeQRCode
}

type SessionState string

const (
	StatePending      SessionState = "pending"
	StateAwaitingCode SessionState = "awaiting_code"
	StateCodeReady    SessionState = "code_ready"
	StateQRReady      SessionState = "qr_ready"
	StateAwaitingScan SessionState = "awaiting_scan"
	StateAwaitingLink SessionState = "awaiting_link"
	StateConnected    SessionState = "connected"
	StateDisconnected SessionState = "disconnected"
	StateExpired      SessionState = "expired"
	StateError        SessionState = "error"
)

// Terminal reports whether no further lifecycle progress is possible.
func (s SessionState) Terminal() bool {
	return s == StateExpired || s == StateError
}

// FailureReason tells a consumer whether a failed link is worth retrying now.
type FailureReason string

const (
	FailureTimeout   FailureReason = "timeout"
	FailureRejected  FailureReason = "rejected"
	FailureExhausted FailureReason = "exhausted"
	FailureLibrary   FailureReason = "library"
)

// DeleteReason is recorded on the final event of a removed session.
type DeleteReason string

const (
	ReasonRequested DeleteReason = "requested"
	ReasonExpired   DeleteReason = "expired"
	ReasonFailed    DeleteReason = "failed"
	ReasonRestart   DeleteReason = "restart"
)
