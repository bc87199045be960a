// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package strophe

import (
	"errors"
	"fmt"

	"mellium.im/strophe/internal/engine"
)

// Errors returned by the engine.
var (
	ErrInvalidOperation = engine.ErrInvalidOperation
	ErrMemory           = engine.ErrMemory
	ErrInternal         = engine.ErrInternal
)

// Errors wrapped by the panics that report misuse of a handle.
var (
	ErrShutdown   = errors.New("strophe: library used after Shutdown")
	ErrMoved      = errors.New("strophe: use of a moved or released value")
	ErrBorrowed   = errors.New("strophe: value is borrowed")
	ErrOutOfScope = errors.New("strophe: value used after the callback that received it returned")
	ErrReadOnly   = errors.New("strophe: value is read only")
)

func misuse(op string, err error) error {
	return fmt.Errorf("strophe: %s: %w", op, err)
}

// ConfigError is returned when a connection is configured with values the
// engine rejects, such as a missing or malformed JID.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return "strophe: " + e.Op + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ConnectError is returned when a connection cannot be started, such as when
// the CA or client certificate files cannot be read or an explicitly given
// host does not resolve.
// Failures that happen later, such as SRV lookups or TLS handshakes, are
// reported to the connection handler instead.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return "strophe: connect: " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ErrorType is a stream error condition.
type ErrorType int

// A list of stream error conditions defined in RFC 6120 §4.9.3.
const (
	BadFormat ErrorType = iota // Bad format
	BadNSPrefix                // Bad namespace prefix
	Conflict                   // Conflict
	ConnTimeout                // Connection timeout
	HostGone                   // Gone
	HostUnknown                // Host unknown
	ImproperAddr               // Improper address
	InternalServerError        // Internal server error
	InvalidFrom                // Invalid from
	InvalidID                  // Invalid id
	InvalidNS                  // Invalid namespace
	InvalidXML                 // Invalid XML
	NotAuthorized              // Not authorized
	PolicyViolation            // Policy violation
	RemoteConnFailed           // Connection failed
	ResourceConstraint         // Resource constraint
	RestrictedXML              // Restricted XML
	SeeOtherHost               // See other host
	SystemShutdown             // System shutdown
	UndefinedCondition         // Undefined condition
	UnsupportedEncoding        // Unsupported encoding
	UnsupportedStanzaType      // Unsupported stanza type
	UnsupportedVersion         // Unsupported version
	XMLNotWellFormed           // XML is not well formed
)

var errorConditions = [...]string{
	BadFormat:             "bad-format",
	BadNSPrefix:           "bad-namespace-prefix",
	Conflict:              "conflict",
	ConnTimeout:           "connection-timeout",
	HostGone:              "host-gone",
	HostUnknown:           "host-unknown",
	ImproperAddr:          "improper-addressing",
	InternalServerError:   "internal-server-error",
	InvalidFrom:           "invalid-from",
	InvalidID:             "invalid-id",
	InvalidNS:             "invalid-namespace",
	InvalidXML:            "invalid-xml",
	NotAuthorized:         "not-authorized",
	PolicyViolation:       "policy-violation",
	RemoteConnFailed:      "remote-connection-failed",
	ResourceConstraint:    "resource-constraint",
	RestrictedXML:         "restricted-xml",
	SeeOtherHost:          "see-other-host",
	SystemShutdown:        "system-shutdown",
	UndefinedCondition:    "undefined-condition",
	UnsupportedEncoding:   "unsupported-encoding",
	UnsupportedStanzaType: "unsupported-stanza-type",
	UnsupportedVersion:    "unsupported-version",
	XMLNotWellFormed:      "not-well-formed",
}

// Condition returns the name of the element used for the condition on the
// wire.
func (t ErrorType) Condition() string {
	if t < 0 || int(t) >= len(errorConditions) {
		return errorConditions[UndefinedCondition]
	}
	return errorConditions[t]
}

func errorTypeOf(cond string) ErrorType {
	for i, c := range errorConditions {
		if c == cond {
			return ErrorType(i)
		}
	}
	return UndefinedCondition
}

// StreamError is a stream error received from the server.
// It is only valid during the connection handler call that received it; use
// Owned to keep it.
type StreamError struct {
	scope *scope
	f     *engine.StreamFault
}

func (e *StreamError) check(op string) *engine.StreamFault {
	e.scope.check(op)
	return e.f
}

// Type returns the error condition.
func (e *StreamError) Type() ErrorType {
	return errorTypeOf(e.check("StreamError.Type").Cond)
}

// Text returns the optional human readable text sent with the error.
func (e *StreamError) Text() string {
	return e.check("StreamError.Text").Text
}

// Stanza returns the <stream:error/> element as a read only view.
func (e *StreamError) Stanza() *Stanza {
	f := e.check("StreamError.Stanza")
	if f.Node == nil {
		return nil
	}
	return viewStanza(f.Node, e.scope, true)
}

func (e *StreamError) Error() string {
	f := e.check("StreamError.Error")
	return streamErrorString(errorTypeOf(f.Cond), f.Text)
}

// Owned returns a copy of the error that outlives the callback.
func (e *StreamError) Owned() *OwnedStreamError {
	f := e.check("StreamError.Owned")
	o := &OwnedStreamError{
		Type: errorTypeOf(f.Cond),
		Text: f.Text,
	}
	if f.Node != nil {
		o.Stanza = ownStanza(f.Node.Copy())
	}
	return o
}

func streamErrorString(t ErrorType, text string) string {
	if text == "" {
		return t.String()
	}
	return t.String() + ": " + text
}

// OwnedStreamError is a copy of a StreamError that can be kept.
// Stanza is owned by the error and should be released when no longer needed.
type OwnedStreamError struct {
	Type   ErrorType
	Text   string
	Stanza *Stanza
}

func (e *OwnedStreamError) Error() string {
	return streamErrorString(e.Type, e.Text)
}

// ConnectionError describes why a connection failed or was lost.
// Like StreamError it is only valid during the call that received it.
type ConnectionError struct {
	scope  *scope
	f      *engine.Fault
	stream *StreamError
}

func newConnectionError(f *engine.Fault, s *scope) *ConnectionError {
	e := &ConnectionError{scope: s, f: f}
	if f.Stream != nil {
		e.stream = &StreamError{scope: s, f: f.Stream}
	}
	return e
}

func (e *ConnectionError) Error() string {
	e.scope.check("ConnectionError.Error")
	if e.stream != nil {
		return e.stream.Error()
	}
	return e.f.Error()
}

// Unwrap returns the underlying transport or negotiation error, if any.
func (e *ConnectionError) Unwrap() error {
	e.scope.check("ConnectionError.Unwrap")
	return e.f.Err
}

// StreamError returns the stream error sent by the server or nil if the
// connection failed for another reason.
func (e *ConnectionError) StreamError() *StreamError {
	e.scope.check("ConnectionError.StreamError")
	return e.stream
}

// Owned returns a copy of the error that outlives the callback.
func (e *ConnectionError) Owned() *OwnedConnectionError {
	e.scope.check("ConnectionError.Owned")
	o := &OwnedConnectionError{Err: e.f.Err}
	if e.stream != nil {
		o.Stream = e.stream.Owned()
	}
	return o
}

// OwnedConnectionError is a copy of a ConnectionError that can be kept.
type OwnedConnectionError struct {
	Err    error
	Stream *OwnedStreamError
}

func (e *OwnedConnectionError) Error() string {
	switch {
	case e.Stream != nil:
		return e.Stream.Error()
	case e.Err != nil:
		return e.Err.Error()
	}
	return "connection lost"
}

func (e *OwnedConnectionError) Unwrap() error {
	return e.Err
}
