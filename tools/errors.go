package tools

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrConfig is returned for malformed or conflicting server configuration.
	ErrConfig = errors.New("invalid configuration")

	// ErrUnknownCapability is returned when no Ready server exposes the
	// requested capability.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrConnectionUnavailable is returned when the owning server is not in
	// the Ready state.
	ErrConnectionUnavailable = errors.New("connection unavailable")

	// ErrRemoteTool is returned when the server executed the tool and
	// reported a failure.
	ErrRemoteTool = errors.New("remote tool failed")

	// ErrTimeout is returned when a tool invocation exceeds its deadline.
	ErrTimeout = errors.New("tool invocation timed out")

	// ErrValidation is returned when arguments do not satisfy the
	// capability's input schema.
	ErrValidation = errors.New("invalid arguments")
)
