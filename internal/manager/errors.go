package manager

import "errors"

// Kind is the machine-readable class of a manager failure.
type Kind string

const (
	KindUnknownDevice   Kind = "unknown_device"
	KindUnknownQuant    Kind = "unknown_quant"
	KindLoadFailed      Kind = "load_failed"
	KindStrictViolation Kind = "nf4_strict_violation"
	KindNotLoaded       Kind = "not_loaded"
	KindOutOfMemory     Kind = "accelerator_oom"
	KindInferFailed     Kind = "infer_failed"
)

// Error is returned by every fallible manager operation.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or "" if it is not a manager error.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return ""
}

// IsNotLoaded reports whether err means no model is resident.
func IsNotLoaded(err error) bool { return KindOf(err) == KindNotLoaded }

// IsOutOfMemory reports whether err is an accelerator OOM during inference.
func IsOutOfMemory(err error) bool { return KindOf(err) == KindOutOfMemory }

// IsStrictViolation reports whether quantization leaked into the vision path.
func IsStrictViolation(err error) bool { return KindOf(err) == KindStrictViolation }

// IsBadConfig reports whether err rejects the requested device or quant.
func IsBadConfig(err error) bool {
	k := KindOf(err)
	return k == KindUnknownDevice || k == KindUnknownQuant
}

// IsLoadError reports whether err came from making a configuration
// resident rather than from generation.
func IsLoadError(err error) bool {
	switch KindOf(err) {
	case KindUnknownDevice, KindUnknownQuant, KindLoadFailed, KindStrictViolation:
		return true
	}
	return false
}
