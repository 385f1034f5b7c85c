// File: internal/recovery/errors.go
package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/xkilldash9x/autofill-cli/api/schemas"
)

// Kind is the closed set of failure classes.
type Kind int

const (
	// KindUnknown marks an error that carries no kind of its own.
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindRecoverable
	KindCritical
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindValidation:
		return "validation"
	case KindRecoverable:
		return "recoverable"
	case KindCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ErrorKind maps a Kind onto the reported result kind.
func (k Kind) ErrorKind() schemas.ErrorKind {
	switch k {
	case KindNotFound:
		return schemas.ErrorNotFound
	case KindValidation:
		return schemas.ErrorValidation
	case KindRecoverable:
		return schemas.ErrorRecoverable
	default:
		return schemas.ErrorCritical
	}
}

// Context tags name the operation an untyped failure came from.
const (
	TagFieldDetection = "field-detection"
	TagPopulation     = "population"
	TagValidation     = "validation"
	TagNavigation     = "navigation"
)

// Error is a failure tagged with its kind and the key it concerns.
type Error struct {
	Kind Kind
	Key  schemas.FieldKey
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Key != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound reports that no strategy located key.
func NotFound(key schemas.FieldKey) *Error {
	return &Error{Kind: KindNotFound, Key: key, Op: TagFieldDetection, Err: errors.New("no element matched")}
}

// Validation reports error markers attributed to key after population.
func Validation(key schemas.FieldKey, messages []string) *Error {
	return &Error{Kind: KindValidation, Key: key, Op: TagValidation, Err: fmt.Errorf("%v", messages)}
}

// Recoverable wraps a soft failure.
func Recoverable(key schemas.FieldKey, op string, err error) *Error {
	return &Error{Kind: KindRecoverable, Key: key, Op: op, Err: err}
}

// KindOf returns the kind recorded on a typed error, or KindUnknown.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// Critical wraps a failure that must never be retried.
func Critical(key schemas.FieldKey, op string, err error) *Error {
	return &Error{Kind: KindCritical, Key: key, Op: op, Err: err}
}

// Classify resolves the kind of err. A typed Error decides first; otherwise
// the context tag does: detection and population failures are recoverable,
// anything else is critical. Cancellation is critical; a per-action deadline
// falls through to the tag.
func Classify(err error, tag string) Kind {
	if err == nil {
		return KindUnknown
	}
	var re *Error
	if errors.As(err, &re) && re.Kind != KindUnknown {
		return re.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCritical
	}
	switch tag {
	case TagPopulation, TagFieldDetection:
		return KindRecoverable
	default:
		return KindCritical
	}
}
