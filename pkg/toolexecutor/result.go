package toolexecutor

import (
	"github.com/harun/tradegate/pkg/apperr"
)

// FailureKind classifies a failed dispatch
type FailureKind string

const (
	FailureNotFound       FailureKind = "not_found"
	FailureValidation     FailureKind = "validation"
	FailureWriteDisabled  FailureKind = "write_disabled"
	FailureInvalidRequest FailureKind = "invalid_request"
	FailureAuth           FailureKind = "auth"
	FailureRemote         FailureKind = "remote"
	FailureStore          FailureKind = "store"
	FailureExecution      FailureKind = "execution"
)

// Result is the outcome of a dispatch: either Success or Failure
type Result interface {
	isResult()
}

// Success carries the handler output
type Success struct {
	Output interface{}
}

// Failure carries a sanitized message, never the internal error
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	Status  int         `json:"status,omitempty"` // broker HTTP status for remote failures
}

func (Success) isResult() {}
func (Failure) isResult() {}

func (f Failure) Error() string {
	return f.Message
}

func failureKind(kind apperr.Kind) FailureKind {
	switch kind {
	case apperr.KindInvalidRequest:
		return FailureInvalidRequest
	case apperr.KindAuth:
		return FailureAuth
	case apperr.KindRemote:
		return FailureRemote
	case apperr.KindStore:
		return FailureStore
	case apperr.KindWriteDisabled:
		return FailureWriteDisabled
	}
	return FailureExecution
}
