package errors

import (
	stdErrors "errors"
	"fmt"
)

type Code string

const (
	CodeTransient  Code = "TRANSIENT_REMOTE"
	CodeAuth       Code = "AUTH_REQUIRED"
	CodeForbidden  Code = "FORBIDDEN"
	CodeSchema     Code = "SCHEMA_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
	CodeValidation Code = "VALIDATION_ERROR"
	CodeDurability Code = "LOCAL_DURABILITY"
	CodeInternal   Code = "INTERNAL_ERROR"
)

// Metadata describes how callers should react to a code.
type Metadata struct {
	Retryable     bool
	RequiresLogin bool
	PublicMessage string
}

var metadataByCode = map[Code]Metadata{
	CodeTransient: {
		Retryable:     true,
		PublicMessage: "remote service unavailable",
	},
	CodeAuth: {
		RequiresLogin: true,
		PublicMessage: "authentication required",
	},
	CodeForbidden: {
		RequiresLogin: true,
		PublicMessage: "access denied",
	},
	CodeSchema: {
		PublicMessage: "remote table layout is not usable",
	},
	CodeNotFound: {
		PublicMessage: "record not found remotely",
	},
	CodeValidation: {
		PublicMessage: "validation failed",
	},
	CodeDurability: {
		PublicMessage: "local queue unavailable",
	},
	CodeInternal: {
		Retryable:     true,
		PublicMessage: "internal error",
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code of the outermost typed error, or CodeInternal for
// untyped errors.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

// IsRetryable reports whether a later attempt of the same operation may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return MetadataFor(CodeOf(err)).Retryable
}

// RequiresLogin reports whether err must be resolved by re-authenticating.
func RequiresLogin(err error) bool {
	if err == nil {
		return false
	}
	return MetadataFor(CodeOf(err)).RequiresLogin
}
