// Package neterr defines the error taxonomy shared by the registry,
// dispatcher and control surface. Callers compare with errors.Is;
// transports translate these into their own status codes.
package neterr

import "errors"

var (
	// NotFound: unknown chip/device id.
	NotFound = errors.New("not found")
	// DuplicateChip: (kind, name) already present on device.
	DuplicateChip = errors.New("duplicate chip")
	// InvalidArgument: malformed patch or unsupported chip kind at this transport.
	InvalidArgument = errors.New("invalid argument")
	// FailedPrecondition: the requested state is already current.
	FailedPrecondition = errors.New("failed precondition")
	// BackendFailure: the underlying radio backend refused add/patch/remove.
	BackendFailure = errors.New("backend failure")
	// IoError: transport read/write failure.
	IoError = errors.New("io error")
	// FrameError: malformed H4/UCI framing.
	FrameError = errors.New("frame error")
)
