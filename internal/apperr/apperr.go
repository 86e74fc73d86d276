// Package apperr defines the closed set of failure kinds the service reports.
// Transport layers map a Kind to a response code exactly once.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindAlreadyCompleted
	KindInvalidInput
	KindUnavailable
	KindModelError
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindAlreadyCompleted:
		return "already_completed"
	case KindInvalidInput:
		return "invalid_input"
	case KindUnavailable:
		return "unavailable"
	case KindModelError:
		return "model_error"
	}
	return "internal"
}

// Stable error codes.
const (
	CodeJobNotFound                 = "JOB_NOT_FOUND"
	CodeJobAlreadyCompleted         = "JOB_ALREADY_COMPLETED"
	CodeJobNotRunnable              = "JOB_NOT_RUNNABLE"
	CodeConcurrentModification      = "CONCURRENT_MODIFICATION"
	CodeInvalidRequest              = "INVALID_REQUEST"
	CodeInvalidBlueprintFormat      = "INVALID_BLUEPRINT_FORMAT"
	CodeOCRResultsNotFound          = "OCR_RESULTS_NOT_FOUND"
	CodeIntermediateResultsNotFound = "INTERMEDIATE_RESULTS_NOT_FOUND"
	CodeOCRAnalysisFailed           = "OCR_ANALYSIS_FAILED"
	CodeInferenceModelError         = "INFERENCE_MODEL_ERROR"
	CodeInferenceFailed             = "INFERENCE_FAILED"
	CodePreviewCacheStoreFailed     = "PREVIEW_CACHE_STORE_FAILED"
	CodePreviewNotFound             = "PREVIEW_NOT_FOUND"
	CodeServiceUnavailable          = "SERVICE_UNAVAILABLE"
	CodePipelineFailed              = "PIPELINE_FAILED"
	CodeInternal                    = "INTERNAL_ERROR"
	CodeRateLimitExceeded           = "RATE_LIMIT_EXCEEDED"
	CodeInvalidFeedback             = "INVALID_FEEDBACK"
)

// Error is a classified failure with a stable code and structured details.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind and code, so a bare &Error{Kind, Code}
// can be used as a target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return t.Kind == e.Kind
}

// With returns a copy of e with key set in its details.
func (e *Error) With(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(err error, kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

func InvalidInput(code, message string) *Error {
	return New(KindInvalidInput, code, message)
}

func Unavailable(service string, err error) *Error {
	return Wrap(err, KindUnavailable, CodeServiceUnavailable, service+" unavailable").With("service", service)
}

func ModelError(message string, err error) *Error {
	return Wrap(err, KindModelError, CodeInferenceModelError, message)
}

// AlreadyCompleted reports that a job reached a terminal status first.
func AlreadyCompleted(jobID, status string) *Error {
	return New(KindAlreadyCompleted, CodeJobAlreadyCompleted, "job is already "+status).
		With("job_id", jobID).
		With("current_status", status)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
