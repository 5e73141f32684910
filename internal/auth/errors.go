package auth

type ErrorKind string

const (
	KindMissing ErrorKind = "missing_credential"
	KindInvalid ErrorKind = "invalid_credential"
)

// AuthError rejects a single request. It never affects the process.
type AuthError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

func missing(reason string) *AuthError {
	return &AuthError{Kind: KindMissing, Reason: reason}
}

func invalid(reason string, err error) *AuthError {
	return &AuthError{Kind: KindInvalid, Reason: reason, Err: err}
}
