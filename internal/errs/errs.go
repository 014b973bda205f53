// Package errs defines the failure taxonomy shared by the report pipeline.
package errs

import (
	"errors"
	"fmt"
	"strconv"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindUpstream   Kind = "upstream"
	KindAuth       Kind = "auth"
	KindInternal   Kind = "internal"
)

// ValidationError is a bad or ambiguous configuration, detected before any
// network call when possible. Fixing the config is the only remedy.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// UpstreamError carries the status and message of a failed external call.
type UpstreamError struct {
	Service string
	Status  int
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s upstream error (status %d): %s", e.Service, e.Status, msg)
	}
	return fmt.Sprintf("%s upstream error: %s", e.Service, msg)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// AuthError means no usable access token could be obtained.
type AuthError struct {
	IntegrationID string
	Err           error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: integration %q: %v", e.IntegrationID, e.Err)
	}
	return fmt.Sprintf("auth: integration %q: no valid access token, reconnect it", e.IntegrationID)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Pipeline stages reported in PipelineError.Stage.
const (
	StagePeriod = "period"
	StageMerge  = "merge"
	StageExport = "export"
)

func FetchStage(sourceID string) string { return "fetch:" + sourceID }

func TransformStage(index int) string { return "transform:" + strconv.Itoa(index) }

func SourceTransformStage(sourceID string, index int) string {
	return "transform:" + sourceID + ":" + strconv.Itoa(index)
}

// PipelineError wraps the first failing stage of a run.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }

func (e *PipelineError) Unwrap() error { return e.Err }

func AtStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return err
	}
	return &PipelineError{Stage: stage, Err: err}
}

// KindOf classifies err by the first taxonomy type found in its chain.
func KindOf(err error) Kind {
	var (
		ve *ValidationError
		ue *UpstreamError
		ae *AuthError
	)
	switch {
	case errors.As(err, &ae):
		return KindAuth
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ue):
		return KindUpstream
	}
	return KindInternal
}

// StageOf returns the failing stage, or "" when err is not a PipelineError.
func StageOf(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}
