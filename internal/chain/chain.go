// Package chain defines the processing-chain collaborators the relay talks
// to, plus the pieces every backend shares: the import buffer pool, the
// command codec, the export switch and the registry of constructed chains.
package chain

import (
	"encoding/json"
	"errors"

	"github.com/bryanchriswhite/FrameFilter/internal/config"
	"github.com/bryanchriswhite/FrameFilter/internal/frame"
)

var (
	// ErrNoBuffer is returned by LeaseBuffer when every import buffer is in use
	ErrNoBuffer = errors.New("no import buffer available")

	// ErrNotLeased is returned when releasing or pushing a buffer the pool did not lease out
	ErrNotLeased = errors.New("buffer is not leased")

	// ErrUnknownElement is returned when a chain has no element with the given name
	ErrUnknownElement = errors.New("unknown element")

	// ErrSubscribed is returned when an exporter already has a callback
	ErrSubscribed = errors.New("export callback already registered")

	// ErrClosed is returned by operations on a closed chain
	ErrClosed = errors.New("chain closed")
)

// ExportFunc receives one frame from an exporter. data is only valid for
// the duration of the call.
type ExportFunc func(data []byte, meta frame.Metadata)

// ErrorFunc is told about asynchronous element failures
type ErrorFunc func(element string, code int)

// ResultFunc receives the result payload of a command
type ResultFunc func(result string)

// Subscription is the handle returned when an export callback is
// registered. Once Cancel returns the callback is not running and will not
// be invoked again.
type Subscription interface {
	Cancel()
}

// Chain is one constructed processing chain
type Chain interface {
	// ID returns the chain id from the pipeline file
	ID() string

	// Importers lists the import element names
	Importers() []string

	// Exporters lists the export element names
	Exporters() []string

	// LeaseBuffer hands out a free import buffer without waiting.
	// It returns ErrNoBuffer when none is free.
	LeaseBuffer(element string) (*frame.Buffer, error)

	// ReleaseBuffer returns an unused buffer to its pool
	ReleaseBuffer(element string, buf *frame.Buffer) error

	// PushBuffer transfers ownership of buf back to the chain for output.
	// On error the caller still holds buf and must release it.
	PushBuffer(element string, buf *frame.Buffer, meta frame.Metadata) error

	// SetExportCallback registers fn to receive frames from an exporter
	SetExportCallback(element string, fn ExportFunc) (Subscription, error)

	// Execute runs a JSON command. result, if set, is called exactly once
	// when the command has been applied.
	Execute(command []byte, result ResultFunc) error

	// Close stops the chain and releases its resources
	Close() error
}

// Backend builds chains of one kind
type Backend interface {
	// Name is the value of a chain's "kind" field that selects this backend
	Name() string

	// Init is called once, before the first chain of this kind is built
	Init(global json.RawMessage) error

	// NewChain constructs a chain from its definition
	NewChain(def config.ChainConfig, onError ErrorFunc) (Chain, error)

	// Deinit is called once during finalization
	Deinit() error
}

// HasElement reports whether name is one of names
func HasElement(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
