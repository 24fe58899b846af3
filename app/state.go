// Package app is the application-facing state machine (§4.10): it owns
// exactly one ll.Engine, l2cap.Mux, att.Client, and gatt.Client, and
// sequences scan → connect → send → disconnect through an explicit state
// enum driven by external commands, LL callbacks, and timeouts.
package app

// State is the application lifecycle (§4.10).
type State int

const (
	StateInit State = iota
	StateIdle
	StateScanning
	StateConnecting
	StateConnected
	StateSending
	StateDisconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateIdle:
		return "Idle"
	case StateScanning:
		return "Scanning"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateSending:
		return "Sending"
	case StateDisconnecting:
		return "Disconnecting"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}
