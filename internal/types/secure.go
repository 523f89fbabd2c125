package types

// redacted is the placeholder substituted for secret values in logs and
// serialized output.
const redacted = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString is a string type that prevents accidental logging or
// serialization of sensitive values (API keys, database URLs, webhook
// secrets). It overrides String() and MarshalJSON() so fmt functions and
// JSON encoding always emit a redacted placeholder.
//
// Call Unmask() only where the plaintext is genuinely required, e.g. when
// building an Authorization header or a connection string.
type SecretString string

// String returns the redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redacted
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value of the secret.
func (s SecretString) Unmask() string {
	return string(s)
}
