package internaltypes

import (
	"github.com/cockroachdb/errors"
)

// Error kinds. Concrete errors are tagged with one of these via Mark so that
// errors.Is(err, ErrX) holds while the original message and chain survive.
var (
	ErrNotFound = errors.New("not found")

	// ErrTransientNetwork covers timeouts, transport failures and 5xx responses.
	ErrTransientNetwork = errors.New("transient network error")
	// ErrAuthentication means no usable session could be established.
	ErrAuthentication = errors.New("authentication failed")
	// ErrRemoteRejection is the expected outcome under contention: no
	// reservation id, a non-200 confirm.
	ErrRemoteRejection = errors.New("remote rejection")
	ErrPersistence     = errors.New("persistence failed")
	ErrConfiguration   = errors.New("configuration error")
)

var kinds = []struct {
	err   error
	label string
}{
	{ErrAuthentication, "authentication"},
	{ErrConfiguration, "configuration"},
	{ErrPersistence, "persistence"},
	{ErrRemoteRejection, "remote_rejection"},
	{ErrTransientNetwork, "transient_network"},
	{ErrNotFound, "not_found"},
}

// Mark tags err with kind. A nil err yields nil.
func Mark(err error, kind error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, kind)
}

// Markf builds a new error from format and tags it with kind.
func Markf(kind error, format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), kind)
}

// Kind returns a short label for the first kind err is marked with, or
// "unknown".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.label
		}
	}
	return "unknown"
}
