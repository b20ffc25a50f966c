package vault

// RedactedToken wraps a sensitive value to prevent accidental logging.
//
// The type implements fmt.Stringer and the marshaling interfaces to return
// "[REDACTED]" instead of the wrapped value, so a credential that ends up
// in a log line, error string or serialized payload leaks nothing.
type RedactedToken struct {
	value string
}

// NewRedactedToken wraps the given value.
func NewRedactedToken(value string) RedactedToken {
	return RedactedToken{value: value}
}

// Value returns the actual secret. Use it only to place the credential in
// an outbound request; never log the result.
func (t RedactedToken) Value() string {
	return t.value
}

// IsEmpty reports whether the wrapped value is empty.
func (t RedactedToken) IsEmpty() bool {
	return t.value == ""
}

// String implements fmt.Stringer.
func (t RedactedToken) String() string {
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer for %#v formatting.
func (t RedactedToken) GoString() string {
	return "vault.RedactedToken{[REDACTED]}"
}

// MarshalText implements encoding.TextMarshaler.
func (t RedactedToken) MarshalText() ([]byte, error) {
	return []byte("[REDACTED]"), nil
}

// MarshalJSON implements json.Marshaler.
func (t RedactedToken) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}
