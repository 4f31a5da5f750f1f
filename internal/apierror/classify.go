// Package apierror is the single error boundary of the edge: it classifies
// caught failures into envelopes and writes them with the right status.
package apierror

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/tjfontaine/envelope-gateway/internal/domain"
)

// Result is the outcome of classifying a failure.
type Result struct {
	// Status is the outgoing HTTP status.
	Status int
	// Envelope is the body to write.
	Envelope *domain.Envelope
	// Expected marks business and validation failures, whose status is
	// forced to 200.
	Expected bool
}

// Classify maps err, caught while the response status was status, onto an
// envelope. The first matching rule wins:
//
//  1. a BusinessError contributes a copy of its own envelope;
//  2. validation failures become PARAM_ERROR with a ParamError list;
//  3. anything else becomes CLIENT_ERROR for a 4xx status, SERVER_ERROR
//     otherwise, and keeps status.
//
// Expected results always carry status 200. Classify has no side effects.
func Classify(err error, status int) Result {
	if status < 100 || status > 599 {
		status = http.StatusInternalServerError
	}

	var be *domain.BusinessError
	if errors.As(err, &be) && be.Envelope != nil {
		// Writers stamp trace ids and debug content on the result, so the
		// error's own envelope stays untouched for reuse.
		env := *be.Envelope
		return Result{Status: http.StatusOK, Envelope: &env, Expected: true}
	}

	if params, ok := paramErrors(err); ok {
		return Result{
			Status:   http.StatusOK,
			Envelope: domain.FailWith(domain.CodeParamError, params),
			Expected: true,
		}
	}

	rc := domain.CodeServerError
	if status >= 400 && status < 500 {
		rc = domain.CodeClientError
	}
	return Result{Status: status, Envelope: rc.Envelope()}
}

// paramErrors extracts the (name, message) pairs of a validation failure.
// Discrete violations come from a set and keep no order; bound-object field
// errors keep the order they were reported in.
func paramErrors(err error) ([]domain.ParamError, bool) {
	var (
		cv *domain.ConstraintViolationError
		bd *domain.BindError
		ve validator.ValidationErrors
	)
	switch {
	case errors.As(err, &cv):
		params := make([]domain.ParamError, 0, len(cv.Violations))
		for v := range cv.Violations {
			params = append(params, domain.ParamError{Name: v.LeafName(), Message: v.MessageTemplate})
		}
		return params, true
	case errors.As(err, &bd):
		params := make([]domain.ParamError, 0, len(bd.FieldErrors))
		for _, fe := range bd.FieldErrors {
			params = append(params, domain.ParamError{Name: fe.Field, Message: fe.Message})
		}
		return params, true
	case errors.As(err, &ve):
		return FromValidationErrors(ve), true
	default:
		return nil, false
	}
}

// needsStackLog reports whether err is a framework-level failure whose
// stack would otherwise be lost when its status is suppressed.
func needsStackLog(err error) bool {
	var (
		te *domain.TransportError
		bd *domain.BindError
		ve validator.ValidationErrors
	)
	return errors.As(err, &te) || errors.As(err, &bd) || errors.As(err, &ve)
}

// KindOf is domain.KindOf extended with validator field errors.
func KindOf(err error) domain.Kind {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return domain.KindValidation
	}
	return domain.KindOf(err)
}
