package types

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a credential (gateway API key, auth token, database URL)
// and renders as a redacted placeholder through fmt and encoding/json.
// Unmask returns the raw value for the few call sites that must send it.
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// GoString keeps %#v from printing the raw value.
func (s SecretString) GoString() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value of the secret.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsEmpty reports whether no secret value is set.
func (s SecretString) IsEmpty() bool {
	return s == ""
}
