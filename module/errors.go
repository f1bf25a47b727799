package module

import "errors"

var (
	// ErrScriptConflict indicates a script engine request incompatible with the
	// instance that already exists in this process.
	ErrScriptConflict = errors.New("script engine already instantiated with a different configuration")

	// ErrScriptInUse indicates the script engine is already attached to a module.
	ErrScriptInUse = errors.New("script engine already attached")

	// ErrScriptClosed indicates use of a released script handle.
	ErrScriptClosed = errors.New("script handle closed")

	// ErrNoProcessFunction indicates a script without a global process function.
	ErrNoProcessFunction = errors.New("script defines no process function")

	// ErrNoRunner indicates a RunnerFactory that returned neither a runner nor an error.
	ErrNoRunner = errors.New("runner factory returned no runner")

	// ErrUnsupportedPlatform indicates the shared-memory transport is unavailable.
	ErrUnsupportedPlatform = errors.New("shared memory attachment is not supported on this platform")
)
