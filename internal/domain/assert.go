package domain

import "reflect"

// Ensure returns a BusinessError for rc unless cond holds.
func Ensure(cond bool, rc ReturnCode) error {
	if cond {
		return nil
	}
	return &BusinessError{Envelope: FailWith(rc, nil), callerStack: captureStack()}
}

// EnsureEnvelope returns a BusinessError carrying env unless cond holds.
func EnsureEnvelope(cond bool, env *Envelope) error {
	if cond {
		return nil
	}
	return &BusinessError{Envelope: env, callerStack: captureStack()}
}

// NotNil returns a BusinessError for rc when v is nil, including typed nils.
func NotNil(v any, rc ReturnCode) error {
	return Ensure(!isNil(v), rc)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
