package domain

import (
	"errors"
	"fmt"
)

// StageError couples a pipeline failure with the stage that produced it.
type StageError struct {
	Stage   Stage
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Reason renders the failure without the stage prefix, for storing on a
// document record whose failed_stage field already names the stage.
func (e *StageError) Reason() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// NewStageError creates a new stage error
func NewStageError(stage Stage, message string, err error) *StageError {
	return &StageError{
		Stage:   stage,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func DiscoveryError(message string, err error) *StageError {
	return NewStageError(StageDiscover, message, err)
}

func ConversionError(message string, err error) *StageError {
	return NewStageError(StageNormalize, message, err)
}

func RasterizationError(message string, err error) *StageError {
	return NewStageError(StageRasterize, message, err)
}

func SummarizationError(message string, err error) *StageError {
	return NewStageError(StageSummarize, message, err)
}

func PersistenceError(message string, err error) *StageError {
	return NewStageError(StagePersist, message, err)
}

func ConfigError(message string, err error) *StageError {
	return NewStageError(StageConfig, message, err)
}

// RunFatal reports whether the error must abort the whole run. Per-document
// failures are contained; only persistence and configuration errors are fatal.
func RunFatal(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage == StagePersist || se.Stage == StageConfig
	}
	return false
}

// FailureReason extracts the record-facing reason from an error, dropping
// the stage prefix when the error is a StageError.
func FailureReason(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Reason()
	}
	return err.Error()
}
