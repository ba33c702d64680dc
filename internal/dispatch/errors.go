package dispatch

import (
	"errors"
	"fmt"

	"guildbot/internal/permission"
)

// Outcome errors of one dispatch. The bot layer maps these onto user-facing
// replies; anything not in this taxonomy is an internal failure and is only
// logged.
var (
	// ErrUnknownCommand means no root command matched the first token.
	// Silence toward the user is the intended handling.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrInvalidArguments covers malformed input: unterminated quotes,
	// a command group invoked without a subcommand, or an executor
	// rejecting its residual tokens.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// PermissionDeniedError reports the first required node the author lacked.
type PermissionDeniedError struct {
	Node permission.Identifier
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: missing %s", e.Node)
}

// ExecutionError wraps a handler failure or panic. The wrapped error is for
// the log; users only see that the named command failed.
type ExecutionError struct {
	Command string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("command %q failed: %v", e.Command, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
