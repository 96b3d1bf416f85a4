package sim

import "errors"

// ErrExecutionHalted is returned to a script call made while the engine is
// stopped or in the error state. The script may catch it and continue.
var ErrExecutionHalted = errors.New("execution halted")

// ErrRunCancelled is delivered to every suspended script call during a
// cancellation sweep (stop, reset, or fatal error). A call completed with
// this error must unwind the script rather than return a value.
var ErrRunCancelled = errors.New("run cancelled")
