package librealtime

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrorClass tells a Subscription whether retrying a failure can help.
type ErrorClass int

const (
	ErrorTransient ErrorClass = iota
	ErrorFatal
)

func (c ErrorClass) String() string {
	if c == ErrorFatal {
		return "fatal"
	}
	return "transient"
}

// Classifier decides the class of a channel failure. Backends other than the default
// one can plug their own misconfiguration signatures through WithClassifier.
type Classifier func(err error) ErrorClass

// bindingMismatchSignature is the text of ErrBindingMismatch. Errors from other
// backends that only carry the message are matched on it.
const bindingMismatchSignature = "mismatch between server and client bindings"

// DefaultClassifier treats the binding mismatch misconfiguration as fatal and
// everything else as transient.
func DefaultClassifier(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	if errors.Is(err, ErrBindingMismatch) || IsBindingMismatch(err) {
		return ErrorFatal
	}
	return ErrorTransient
}

// IsBindingMismatch reports whether err carries the binding mismatch signature.
func IsBindingMismatch(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), bindingMismatchSignature)
}

const bindingMismatchHelp = `realtime bindings for %s do not match the server.
This is a server side misconfiguration and retrying will not fix it.
Make sure the table is part of the realtime publication and that its replica
identity is left at DEFAULT:

    alter publication supabase_realtime add table %s.%s;
    alter table %s.%s replica identity default;

then remount the subscription.`
