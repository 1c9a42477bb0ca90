package types

import (
	"context"
	"errors"
)

var (
	// ErrUnreadableVideo means the clip could not be opened or decoded.
	ErrUnreadableVideo = errors.New("unreadable video")
	// ErrNonThermalFootage means the validator rejected the clip.
	ErrNonThermalFootage = errors.New("non-thermal footage")
	// ErrNoFramesProcessed means energy-image synthesis got zero frames.
	ErrNoFramesProcessed = errors.New("no frames processed")
	// ErrModelInference covers model load and forward-pass failures.
	ErrModelInference = errors.New("model inference failed")
	// ErrNotificationDelivery is logged and never fails a job.
	ErrNotificationDelivery = errors.New("notification delivery failed")

	ErrAlreadyProcessing = errors.New("video is already being processed")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrJobNotFound       = errors.New("job not found")
	ErrTimeout           = errors.New("analysis timed out")
)

// FailureKind classifies a persisted failure.
type FailureKind string

const (
	FailureUnreadableVideo FailureKind = "unreadable_video"
	FailureNonThermal      FailureKind = "non_thermal_footage"
	FailureNoFrames        FailureKind = "no_frames_processed"
	FailureModelInference  FailureKind = "model_inference"
	FailureTimeout         FailureKind = "timeout"
	FailureCanceled        FailureKind = "canceled"
	FailureInternal        FailureKind = "internal"
)

// Failure is the structured reason stored on a failed job.
type Failure struct {
	Kind        FailureKind `json:"kind"`
	Message     string      `json:"error"`
	UserMessage string      `json:"user_message"`
}

// UserMessage is what an operator-facing UI shows for each kind.
// Rejected footage is an input problem and reads differently from a system fault.
func (k FailureKind) UserMessage() string {
	switch k {
	case FailureNonThermal:
		return "This recording does not look like thermal footage. Please upload a clip from a thermal camera."
	case FailureUnreadableVideo:
		return "The video file could not be read. Please re-export it and upload again."
	case FailureNoFrames:
		return "No usable frames could be extracted from the video."
	case FailureModelInference:
		return "The analysis model failed. Operators have been alerted."
	case FailureTimeout:
		return "Analysis took too long and was stopped. You can retry the analysis."
	case FailureCanceled:
		return "Analysis was canceled before it finished."
	default:
		return "Analysis failed due to an internal error."
	}
}

// FailureFrom maps an error returned by the pipeline to its persisted form.
// The error text is captured verbatim.
func FailureFrom(err error) *Failure {
	if err == nil {
		return nil
	}
	kind := FailureInternal
	switch {
	case errors.Is(err, ErrNonThermalFootage):
		kind = FailureNonThermal
	case errors.Is(err, ErrUnreadableVideo):
		kind = FailureUnreadableVideo
	case errors.Is(err, ErrNoFramesProcessed):
		kind = FailureNoFrames
	case errors.Is(err, ErrModelInference):
		kind = FailureModelInference
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		kind = FailureTimeout
	case errors.Is(err, context.Canceled):
		kind = FailureCanceled
	}
	return &Failure{Kind: kind, Message: err.Error(), UserMessage: kind.UserMessage()}
}
