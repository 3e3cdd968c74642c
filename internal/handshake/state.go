package handshake

import "fmt"

// State is a step of the handshake state machine:
//
//	Idle -> SynSent -> SynAckWait -> SynAckMatched -> AckSent -> Done
//	                              \-> TimedOut
//
// Failed is entered from any step on a transmit error or cancellation.
type State uint8

const (
	Idle State = iota
	SynSent
	SynAckWait
	SynAckMatched
	TimedOut
	AckSent
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case SynSent:
		return "SYN_SENT"
	case SynAckWait:
		return "SYNACK_WAIT"
	case SynAckMatched:
		return "SYNACK_MATCHED"
	case TimedOut:
		return "TIMED_OUT"
	case AckSent:
		return "ACK_SENT"
	case Done:
		return "DONE"
	case Failed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Done || s == TimedOut || s == Failed
}
