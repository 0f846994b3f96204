package domain

import (
	"errors"
	"fmt"
)

// FailureType categorizes why a pipeline stage failed.
type FailureType string

const (
	// FailureTimeout indicates the upstream call exceeded its deadline.
	FailureTimeout FailureType = "timeout"

	// FailureRateLimit indicates the provider rejected the call for rate.
	FailureRateLimit FailureType = "rate_limit"

	// FailureMalformed indicates the model returned output that could
	// not be decoded into the stage's result type.
	FailureMalformed FailureType = "malformed_response"

	// FailureProvider indicates a generic upstream provider error.
	FailureProvider FailureType = "provider"

	// FailureAlignment indicates a strategy failed the psychology
	// alignment gate even after refinement.
	FailureAlignment FailureType = "alignment"

	// FailureDispatch indicates the orchestrator could not dispatch a
	// batch and fell back to the single-message path.
	FailureDispatch FailureType = "dispatch"
)

// Stage names a pipeline stage for error attribution.
type Stage string

const (
	StagePsychology   Stage = "psychology"
	StageIntelligence Stage = "intelligence"
	StageStrategy     Stage = "strategy"
	StageContent      Stage = "content"
	StageSynthesis    Stage = "synthesis"
	StageSynthesizer  Stage = "synthesizer"
	StageOrchestrator Stage = "orchestrator"
	StageDelivery     Stage = "delivery"
)

// StageError is the canonical failure type produced by pipeline stages
// and the LLM gateway. The pipeline controller recovers from it by
// substituting the stage's static fallback result.
type StageError struct {
	Stage   Stage
	Type    FailureType
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Stage, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Type)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError creates a StageError wrapping err.
func NewStageError(stage Stage, ft FailureType, err error) *StageError {
	se := &StageError{Stage: stage, Type: ft, Err: err}
	if err != nil {
		se.Message = err.Error()
	}
	return se
}

// FailureTypeOf extracts the failure type from err, or FailureProvider
// when err is not a StageError.
func FailureTypeOf(err error) FailureType {
	var se *StageError
	if errors.As(err, &se) {
		return se.Type
	}
	return FailureProvider
}

// IsTimeout reports whether err is a deadline failure.
func IsTimeout(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Type == FailureTimeout
}

// IsRateLimit reports whether err is a provider rate-limit failure.
func IsRateLimit(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Type == FailureRateLimit
}

// IsMalformed reports whether err is a structured-output decode failure.
func IsMalformed(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Type == FailureMalformed
}
