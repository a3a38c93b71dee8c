package worker

import (
	"errors"
	"fmt"

	"github.com/roach88/hydroplante/internal/model"
)

// FailureCode categorises failures the worker recovered from.
type FailureCode string

const (
	// CodeNetworkUnreachable means a live fetch produced no response.
	CodeNetworkUnreachable FailureCode = "NETWORK_UNREACHABLE"

	// CodeStoreUnavailable means a cache store operation failed.
	CodeStoreUnavailable FailureCode = "STORE_UNAVAILABLE"

	// CodeEntryMissing means a manifest entry could not be cached.
	CodeEntryMissing FailureCode = "ENTRY_MISSING"

	// CodeUnknownMessage means a message had an unrecognised type.
	CodeUnknownMessage FailureCode = "UNKNOWN_MESSAGE"
)

// Failure is a recovered error with the operation and request it concerns.
type Failure struct {
	Code FailureCode
	Op   string
	Key  model.RequestKey
	Err  error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Key.URL != "" {
		return fmt.Sprintf("%s: %s %s: %v", f.Code, f.Op, f.Key, f.Err)
	}
	return fmt.Sprintf("%s: %s: %v", f.Code, f.Op, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// IsNetworkFailure reports whether err is a recovered network failure.
// Uses errors.As to handle wrapped errors.
func IsNetworkFailure(err error) bool {
	return hasCode(err, CodeNetworkUnreachable)
}

// IsStoreFailure reports whether err is a recovered store failure.
func IsStoreFailure(err error) bool {
	return hasCode(err, CodeStoreUnavailable)
}

func hasCode(err error, code FailureCode) bool {
	var f *Failure
	if errors.As(err, &f) {
		return f.Code == code
	}
	return false
}

// errNoResponse stands in for a transport that returned neither a response
// nor an error.
var errNoResponse = errors.New("transport returned no response")
