package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

const testSecret = "li-client-secret-98765"

func TestSecretString_String(t *testing.T) {
	s := SecretString(testSecret)

	if s.String() != redacted {
		t.Errorf("String() = %q, want %q", s.String(), redacted)
	}
	if strings.Contains(s.String(), testSecret) {
		t.Errorf("String() leaked the raw secret value")
	}
}

func TestSecretString_Sprintf(t *testing.T) {
	s := SecretString(testSecret)

	for _, verb := range []string{"%s", "%v", "%+v"} {
		result := fmt.Sprintf("key="+verb, s)
		if strings.Contains(result, testSecret) {
			t.Errorf("fmt.Sprintf(%s) leaked the raw secret: %s", verb, result)
		}
	}
}

func TestSecretString_MarshalJSON(t *testing.T) {
	type emailConfig struct {
		APIKey SecretString `json:"api_key"`
		From   string       `json:"from"`
	}

	data, err := json.Marshal(emailConfig{
		APIKey: SecretString(testSecret),
		From:   "billing@linkedai.app",
	})
	if err != nil {
		t.Fatalf("json.Marshal returned error: %v", err)
	}

	result := string(data)
	if strings.Contains(result, testSecret) {
		t.Errorf("json.Marshal leaked the raw secret: %s", result)
	}
	if !strings.Contains(result, redacted) {
		t.Errorf("json.Marshal did not contain redacted placeholder: %s", result)
	}
}

func TestSecretString_Unmask(t *testing.T) {
	s := SecretString(testSecret)

	if s.Unmask() != testSecret {
		t.Errorf("Unmask() = %q, want %q", s.Unmask(), testSecret)
	}

	empty := SecretString("")
	if empty.Unmask() != "" {
		t.Errorf("Unmask() on empty SecretString = %q, want empty string", empty.Unmask())
	}
	if empty.String() != redacted {
		t.Errorf("String() on empty SecretString = %q, want %q", empty.String(), redacted)
	}
}
