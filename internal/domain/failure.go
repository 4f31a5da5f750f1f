package domain

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Kind tags a failure for the error boundary.
type Kind int

const (
	// KindUnknown is anything the boundary has no structured knowledge of.
	KindUnknown Kind = iota
	// KindBusiness failures carry a ready-made envelope.
	KindBusiness
	// KindValidation failures carry parameter or field violations.
	KindValidation
	// KindTransport failures come from the HTTP framework itself
	// (malformed bodies, unreadable streams, missing routes).
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindBusiness:
		return "business"
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// KindOf classifies err by walking its wrap chain.
func KindOf(err error) Kind {
	var (
		be *BusinessError
		cv *ConstraintViolationError
		bd *BindError
		te *TransportError
	)
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &be):
		return KindBusiness
	case errors.As(err, &cv), errors.As(err, &bd):
		return KindValidation
	case errors.As(err, &te):
		return KindTransport
	default:
		return KindUnknown
	}
}

// ParamError describes one invalid parameter.
type ParamError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// callerStack records where a failure was created so %+v can render it.
type callerStack struct {
	st pkgerrors.StackTrace
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

func captureStack() callerStack {
	// pkg/errors starts the trace at this function; drop it and the
	// constructor that called us.
	st := pkgerrors.New("").(stackTracer).StackTrace()
	if len(st) > 2 {
		st = st[2:]
	}
	return callerStack{st: st}
}

// StackTrace satisfies the pkg/errors stackTracer convention.
func (c callerStack) StackTrace() pkgerrors.StackTrace {
	return c.st
}

func (c callerStack) format(s fmt.State, verb rune, msg string) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = io.WriteString(s, msg)
			c.st.Format(s, verb)
			return
		}
		_, _ = io.WriteString(s, msg)
	case 's':
		_, _ = io.WriteString(s, msg)
	case 'q':
		fmt.Fprintf(s, "%q", msg)
	}
}

// =============================================================================
// Business
// =============================================================================

// BusinessError is an expected failure that already knows its envelope.
type BusinessError struct {
	Envelope *Envelope
	callerStack
}

// NewBusinessError wraps env as an error.
func NewBusinessError(env *Envelope) *BusinessError {
	return &BusinessError{Envelope: env, callerStack: captureStack()}
}

// Business builds a BusinessError from a catalog entry.
func Business(rc ReturnCode) *BusinessError {
	return &BusinessError{Envelope: FailWith(rc, nil), callerStack: captureStack()}
}

// Businessf builds a BusinessError whose message extends the catalog message.
func Businessf(rc ReturnCode, format string, args ...any) *BusinessError {
	env := Fail(rc.Code, rc.Message+": "+fmt.Sprintf(format, args...), nil)
	return &BusinessError{Envelope: env, callerStack: captureStack()}
}

// NewParamValidatedError reports parameter errors found by hand-written
// checks rather than a validator.
func NewParamValidatedError(params ...ParamError) *BusinessError {
	return &BusinessError{Envelope: FailWith(CodeParamError, params), callerStack: captureStack()}
}

// ErrUnknown is a business failure with the generic server-error code.
func ErrUnknown() *BusinessError {
	return &BusinessError{Envelope: CodeServerError.Envelope(), callerStack: captureStack()}
}

func (e *BusinessError) Error() string {
	return e.Envelope.DetailMessage()
}

// Format renders the creation stack for %+v.
func (e *BusinessError) Format(s fmt.State, verb rune) {
	e.format(s, verb, e.Error())
}

// =============================================================================
// Validation
// =============================================================================

// ConstraintViolation is one failed constraint on a discrete parameter.
// PropertyPath is dotted, e.g. "register.arg0.age".
type ConstraintViolation struct {
	PropertyPath    string
	MessageTemplate string
}

// LeafName returns the last node of the property path.
func (v ConstraintViolation) LeafName() string {
	if i := strings.LastIndexByte(v.PropertyPath, '.'); i >= 0 {
		return v.PropertyPath[i+1:]
	}
	return v.PropertyPath
}

// ConstraintViolationError holds violations on discrete parameters. The
// violations form a set: iteration order is unspecified.
type ConstraintViolationError struct {
	Violations map[ConstraintViolation]struct{}
	callerStack
}

// NewConstraintViolationError collects violations into a set.
func NewConstraintViolationError(violations ...ConstraintViolation) *ConstraintViolationError {
	set := make(map[ConstraintViolation]struct{}, len(violations))
	for _, v := range violations {
		set[v] = struct{}{}
	}
	return &ConstraintViolationError{Violations: set, callerStack: captureStack()}
}

func (e *ConstraintViolationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for v := range e.Violations {
		parts = append(parts, v.PropertyPath+": "+v.MessageTemplate)
	}
	sort.Strings(parts)
	return "constraint violations: " + strings.Join(parts, ", ")
}

func (e *ConstraintViolationError) Format(s fmt.State, verb rune) {
	e.format(s, verb, e.Error())
}

// FieldError is one failed field of a bound object.
type FieldError struct {
	Field   string
	Message string
}

// BindError reports field errors found while binding a request onto an
// object. FieldErrors keeps the order the validator reported.
type BindError struct {
	Object      string
	FieldErrors []FieldError
	callerStack
}

// NewBindError builds a BindError for object.
func NewBindError(object string, fieldErrors ...FieldError) *BindError {
	return &BindError{Object: object, FieldErrors: fieldErrors, callerStack: captureStack()}
}

func (e *BindError) Error() string {
	return fmt.Sprintf("binding %q failed with %d field error(s)", e.Object, len(e.FieldErrors))
}

func (e *BindError) Format(s fmt.State, verb rune) {
	e.format(s, verb, e.Error())
}

// =============================================================================
// Transport
// =============================================================================

// TransportError is a framework-level failure such as an unreadable body or a
// malformed multipart stream.
type TransportError struct {
	Op  string
	Err error
	callerStack
}

// NewTransportError wraps err as a transport failure of op.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err, callerStack: captureStack()}
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Format(s fmt.State, verb rune) {
	e.format(s, verb, e.Error())
}
