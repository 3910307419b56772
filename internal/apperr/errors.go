package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that render it to a user.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindStateConflict Kind = "state_conflict"
	KindEligibility   Kind = "eligibility"
	KindIntegrity     Kind = "integrity"
	KindNotFound      Kind = "not_found"
	KindInternal      Kind = "internal"
)

// ValidationError is bad input, rejected before any mutation.
type ValidationError struct {
	Field string
	Msg   string
	Err   error
}

func (e ValidationError) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Field != "" && msg != "":
		return fmt.Sprintf("%s: %s", e.Field, msg)
	case msg != "":
		return msg
	case e.Field != "":
		return fmt.Sprintf("invalid %s", e.Field)
	default:
		return "validation error"
	}
}

func (e ValidationError) Unwrap() error { return e.Err }

// StateConflictError means the action was already done or raced with another writer.
type StateConflictError struct {
	Entity string
	ID     string
	Msg    string
	Err    error
}

func (e StateConflictError) Error() string {
	return describe(e.Entity, e.ID, e.Msg, e.Err, "state conflict")
}

func (e StateConflictError) Unwrap() error { return e.Err }

// EligibilityError means the action is not possible yet; waiting may resolve it.
type EligibilityError struct {
	Entity string
	ID     string
	Msg    string
	Err    error
}

func (e EligibilityError) Error() string {
	return describe(e.Entity, e.ID, e.Msg, e.Err, "not eligible")
}

func (e EligibilityError) Unwrap() error { return e.Err }

// IntegrityError signals a data or configuration defect.
type IntegrityError struct {
	Entity string
	ID     string
	Msg    string
	Err    error
}

func (e IntegrityError) Error() string {
	return describe(e.Entity, e.ID, e.Msg, e.Err, "integrity violation")
}

func (e IntegrityError) Unwrap() error { return e.Err }

type NotFoundError struct {
	Resource string
	ID       string
	Err      error
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	if e.ID != "" {
		return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e NotFoundError) Unwrap() error { return e.Err }

func describe(entity, id, msg string, err error, fallback string) string {
	if msg == "" && err != nil {
		msg = err.Error()
	}
	if msg == "" {
		msg = fallback
	}
	switch {
	case entity != "" && id != "":
		return fmt.Sprintf("%s %s: %s", entity, id, msg)
	case entity != "":
		return fmt.Sprintf("%s: %s", entity, msg)
	default:
		return msg
	}
}

func Validation(field string, err error) error {
	return ValidationError{Field: field, Err: err}
}

func Conflict(entity string, id any, err error) error {
	return StateConflictError{Entity: entity, ID: idString(id), Err: err}
}

func Ineligible(entity string, id any, err error) error {
	return EligibilityError{Entity: entity, ID: idString(id), Err: err}
}

func Integrity(entity string, id any, err error) error {
	return IntegrityError{Entity: entity, ID: idString(id), Err: err}
}

func NotFound(resource string, id any, err error) error {
	return NotFoundError{Resource: resource, ID: idString(id), Err: err}
}

func idString(id any) string {
	if id == nil {
		return ""
	}
	return fmt.Sprint(id)
}

func IsValidation(err error) bool {
	var target ValidationError
	return errors.As(err, &target)
}

func IsStateConflict(err error) bool {
	var target StateConflictError
	return errors.As(err, &target)
}

func IsEligibility(err error) bool {
	var target EligibilityError
	return errors.As(err, &target)
}

func IsIntegrity(err error) bool {
	var target IntegrityError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// KindOf returns the outermost classification found in the chain.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return KindValidation
	case IsStateConflict(err):
		return KindStateConflict
	case IsEligibility(err):
		return KindEligibility
	case IsIntegrity(err):
		return KindIntegrity
	case IsNotFound(err):
		return KindNotFound
	default:
		return KindInternal
	}
}

// Details exposes the offending field or entity for error payloads.
func Details(err error) map[string]string {
	out := map[string]string{"kind": string(KindOf(err))}
	var v ValidationError
	var c StateConflictError
	var el EligibilityError
	var in IntegrityError
	var nf NotFoundError
	switch {
	case errors.As(err, &v):
		out["field"] = v.Field
	case errors.As(err, &c):
		out["entity"], out["id"] = c.Entity, c.ID
	case errors.As(err, &el):
		out["entity"], out["id"] = el.Entity, el.ID
	case errors.As(err, &in):
		out["entity"], out["id"] = in.Entity, in.ID
	case errors.As(err, &nf):
		out["entity"], out["id"] = nf.Resource, nf.ID
	}
	return out
}
