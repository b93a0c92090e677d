package discovery

import (
	"errors"
	"fmt"
)

// Code classifies a cluster fault.
type Code string

const (
	// CodeTransport is a failure to send or receive over the group.
	CodeTransport Code = "transport"
	// CodeMultipleImplementations is raised by a responder that resolved
	// more than one local implementation for a query.
	CodeMultipleImplementations Code = "multiple_implementations"
	// CodeStartup is a failure while connecting to the group.
	CodeStartup Code = "startup"
	// CodeShutdown is a failure while leaving the group.
	CodeShutdown Code = "shutdown"
	// CodeAggregation is a failure while waiting for or reading round replies.
	CodeAggregation Code = "aggregation"
)

// ClusterError is a clustering fault with a code and optional cause.
type ClusterError struct {
	Code    Code
	Message string
	Cause   error
}

// NewClusterError creates a ClusterError.
func NewClusterError(code Code, message string, cause error) *ClusterError {
	return &ClusterError{Code: code, Message: message, Cause: cause}
}

func (e *ClusterError) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ClusterError) Unwrap() error { return e.Cause }

// Is matches any ClusterError with the same code, so the sentinels below
// work with errors.Is.
func (e *ClusterError) Is(target error) bool {
	var t *ClusterError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is checks by code.
var (
	ErrAmbiguous   = &ClusterError{Code: CodeMultipleImplementations}
	ErrStartup     = &ClusterError{Code: CodeStartup}
	ErrShutdown    = &ClusterError{Code: CodeShutdown}
	ErrAggregation = &ClusterError{Code: CodeAggregation}
	ErrTransport   = &ClusterError{Code: CodeTransport}
)

// CodeOf returns the code of the first ClusterError in err's chain.
func CodeOf(err error) (Code, bool) {
	var ce *ClusterError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return "", false
}
