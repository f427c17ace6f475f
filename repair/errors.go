package repair

import (
	"errors"
	"fmt"
)

const (
	EXIT_OK    = 0
	EXIT_FATAL = 1
	EXIT_LOG   = 2
)

type Stage string

const (
	StageConfig  Stage = "config"
	StageLog     Stage = "zero log"
	StageScan    Stage = "scan"
	StageRoot    Stage = "root inode chunk"
	StageUpgrade Stage = "upgrade"
)

var (
	ErrExternalLogNoDevice = errors.New("filesystem has an external log; specify the log device with -l")
	ErrLogScan             = errors.New("cannot find log head/tail")
	ErrLogPending          = errors.New("log holds metadata changes that need replay")
	ErrLogClearFailed      = errors.New("failed to clear log")
	ErrReservedInodes      = errors.New("reserved inode numbers do not follow the root inode")
	ErrRootOutsideFS       = errors.New("root inode is not in any allocation group")
)

// FatalError ends the run. Code is the process exit status.
type FatalError struct {
	Stage Stage
	Code  int
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func fatal(stage Stage, code int, err error) *FatalError {
	return &FatalError{Stage: stage, Code: code, Err: err}
}

// NoopError ends the run successfully: the operator asked for something
// that is already true or cannot apply to this filesystem.
type NoopError struct {
	Msg string
}

func (e *NoopError) Error() string {
	return e.Msg
}

// ExitCode maps the result of a run to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return EXIT_OK
	}
	var noop *NoopError
	if errors.As(err, &noop) {
		return EXIT_OK
	}
	var f *FatalError
	if errors.As(err, &f) {
		return f.Code
	}
	return EXIT_FATAL
}
