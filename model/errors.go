package model

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Recovered conditions. None of them abort a pipeline session on their own.
var (
	ErrDispatchFull    = errors.New("dispatch queue full")
	ErrLateResult      = errors.New("late result")
	ErrDuplicateResult = errors.New("duplicate result")
	ErrStalled         = errors.New("frame source stalled")
	ErrDisconnected    = errors.New("frame source disconnected")
	ErrForcedSkip      = errors.New("forced skip")
	ErrStateRegression = errors.New("annotation state cannot regress")
)

type CustomError struct {
	Processor  string                 `json:"processor"`
	Inner      error                  `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func (e CustomError) Error() string {
	if e.Inner == nil {
		return fmt.Sprintf("%s: %s", e.Processor, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Processor, e.Message, e.Inner)
}

func (e CustomError) Unwrap() error {
	return e.Inner
}

func GenError(proc string, err error, misc map[string]interface{}, messagef string, args ...interface{}) CustomError {
	return CustomError{
		Processor:  proc,
		Inner:      err,
		Message:    fmt.Sprintf(messagef, args...),
		StackTrace: string(debug.Stack()),
		Misc:       misc,
	}
}
