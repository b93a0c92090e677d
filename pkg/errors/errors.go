// Package errors provides shared sentinel errors used across arc-cluster.
package errors

import stderrors "errors"

var (
	// ErrNotFound indicates the requested resource was not found.
	ErrNotFound = stderrors.New("not found")

	// ErrClosed indicates the resource has been closed.
	ErrClosed = stderrors.New("closed")

	// ErrInvalidInput indicates the input is invalid.
	ErrInvalidInput = stderrors.New("invalid input")

	// ErrAlreadyExists indicates the resource already exists.
	ErrAlreadyExists = stderrors.New("already exists")

	// ErrNotConnected indicates the node has not joined its group.
	ErrNotConnected = stderrors.New("not connected")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = stderrors.New("timeout")

	// ErrInvalidState indicates a lifecycle transition that is not allowed.
	ErrInvalidState = stderrors.New("invalid state")
)
