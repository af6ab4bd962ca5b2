package model

var transitions = map[SessionState][]SessionState{
	StatePending:      {StateQRReady, StateAwaitingCode, StateError, StateExpired},
	StateAwaitingCode: {StateCodeReady, StateError, StateExpired},
	StateCodeReady:    {StateAwaitingLink, StateConnected, StateDisconnected, StateError, StateExpired},
	StateAwaitingLink: {StateConnected, StateDisconnected, StateError, StateExpired},
	StateQRReady:      {StateAwaitingScan, StateDisconnected, StateError, StateExpired},
	StateAwaitingScan: {StateConnected, StateDisconnected, StateError, StateExpired},
	StateConnected:    {StateDisconnected, StateError},
	StateDisconnected: {StateConnected, StateError, StateExpired},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to SessionState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
