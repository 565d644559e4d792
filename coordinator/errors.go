package coordinator

import "fmt"

// Kind enumerates the coordinator's error taxonomy. These are kinds,
// not Go types: callers switch on Error.Kind, never on a type assertion
// per error variant.
type Kind int

const (
	KindConnectionLost Kind = iota
	KindTimeout
	KindSyntaxError
	KindConstraintViolation
	KindQueueFull
	KindReplicationTimeout
	KindInsufficientReplicasAcked
	KindNoSuchReplica
	KindReplicaNotReady
	KindDrainTimeout
	KindUnrecoverableGap
	KindShuttingDown
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindConnectionLost:
		return "ConnectionLost"
	case KindTimeout:
		return "Timeout"
	case KindSyntaxError:
		return "SyntaxError"
	case KindConstraintViolation:
		return "ConstraintViolation"
	case KindQueueFull:
		return "QueueFull"
	case KindReplicationTimeout:
		return "ReplicationTimeout"
	case KindInsufficientReplicasAcked:
		return "InsufficientReplicasAcked"
	case KindNoSuchReplica:
		return "NoSuchReplica"
	case KindReplicaNotReady:
		return "ReplicaNotReady"
	case KindDrainTimeout:
		return "DrainTimeout"
	case KindUnrecoverableGap:
		return "UnrecoverableGap"
	case KindShuttingDown:
		return "ShuttingDown"
	default:
		return "Other"
	}
}

// Error is the coordinator-level error surfaced to callers of Execute
// and Promote, and of FetchOneFromReplica for an unknown replica name;
// FetchOne/FetchAll return the primary adapter's own error unchanged.
// Replica-side problems never produce one of these; they only change
// Status().
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("coordinator: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("coordinator: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ErrorCodes is an advisory code→message-template table used only for
// human-readable logging and operator-facing alerts, never for control
// flow.
var ErrorCodes = map[string]string{
	"ERR10001": "Replica %s unreachable, worker entering reconnect backoff",
	"ERR10002": "Replica %s queue full, event %d dropped and replica marked degraded",
	"ERR10003": "Acknowledgement timeout waiting on replica %s for event %d",
	"ERR10004": "Semi-sync mode requires %d replicas to ack, only %d remain healthy",
	"ERR10005": "Promotion target %s not found in replica set",
	"ERR10006": "Promotion target %s did not drain within %s",
	"ERR10007": "Replica %s requested events older than the retained log, unrecoverable gap at id %d",
	"ERR10008": "Primary write failed, no event produced: %v",
	"ERR10009": "Coordinator is shutting down, write rejected",
	"WARN10010": "Replica %s lag %.3fs exceeds max_lag_seconds %d",
}
