// Package uwerrors defines the error kinds the client replication engine
// produces. Most callers only need errors.As/errors.Is against these types;
// they are never meant to be compared by string value.
package uwerrors

import (
	"errors"
	"fmt"
)

// IndexOutOfRangeError is returned by NodesProxy.GetByIndex when the requested
// integer index is at or past the proxy's current length.
type IndexOutOfRangeError struct {
	Index  int
	Length int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("uwerrors: index %d out of range (length %d)", e.Index, e.Length)
}

// UnknownKeyError is returned when a node or mesh id is not known to the
// server, or when TimelineProxy.Get is asked for a situation id that is
// not in its local replica.
type UnknownKeyError struct {
	Key string
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("uwerrors: unknown key %q", e.Key)
}

// InconsistentState indicates extend-by-one found no pending updates after
// the grace wait: propagation is pathologically late, or the transport/
// server has a bug. The proxy remains usable after this is returned.
var InconsistentState = errors.New("uwerrors: inconsistent state: no pending node updates after grace wait")

// TransportFailure wraps an RPC deadline expiry or channel error. The
// background task logs and retries on the next tick; callers of a direct
// request see this error returned.
type TransportFailure struct {
	Op  string
	Err error
}

func (e *TransportFailure) Error() string {
	return fmt.Sprintf("uwerrors: transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportFailure) Unwrap() error { return e.Err }

// ProtocolViolation indicates an invalidation batch carried an action code
// outside the closed set the protocol defines. It is fatal for the
// background task that observed it: that task stops rather than guess at
// recovery.
type ProtocolViolation struct {
	Action string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("uwerrors: protocol violation: unexpected invalidation action %q", e.Action)
}
