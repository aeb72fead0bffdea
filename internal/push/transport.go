// Package push delivers encrypted payloads to device endpoints.
package push

import (
	"context"
	"errors"
	"fmt"
)

// ErrGone marks an endpoint the push service will never accept again.
var ErrGone = errors.New("push endpoint gone")

type Kind int

const (
	Delivered Kind = iota
	Gone
	Transient
)

func (k Kind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case Gone:
		return "gone"
	case Transient:
		return "transient"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Target is the transport-facing view of one subscription. Keys are passed
// through unchanged.
type Target struct {
	Endpoint string
	Auth     string
	P256DH   string
}

// Outcome is the classified result of one Send. Err carries the detail for
// Gone and Transient outcomes; StatusCode is zero when no response arrived.
type Outcome struct {
	Kind       Kind
	StatusCode int
	Err        error
}

// Transport sends one payload to one device. Implementations must be safe
// for concurrent use and must not return Delivered on any error.
type Transport interface {
	Send(ctx context.Context, target Target, payload []byte) Outcome
}
