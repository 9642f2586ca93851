package siwa_test

import (
	"testing"
	"time"

	"github.com/agentrep/siwa-core/pkg/siwa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMessage() siwa.Message {
	return siwa.Message{
		Domain:         "api.example.com",
		Address:        "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		URI:            "https://api.example.com/siwa",
		AgentID:        42,
		AgentRegistry:  "eip155:8453:0x8004a169fb4a3325136eb29fa0ceb6d2e539a432",
		ChainID:        8453,
		Nonce:          "0123456789abcdef0123456789abcdef",
		IssuedAt:       time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		ExpirationTime: time.Date(2025, 1, 2, 3, 9, 5, 0, time.UTC),
	}
}

func TestMessage_StringWithoutStatement(t *testing.T) {
	expected := "api.example.com wants you to sign in with your Agent account:\n" +
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed\n" +
		"\n" +
		"URI: https://api.example.com/siwa\n" +
		"Version: 1\n" +
		"Agent ID: 42\n" +
		"Agent Registry: eip155:8453:0x8004a169fb4a3325136eb29fa0ceb6d2e539a432\n" +
		"Chain ID: 8453\n" +
		"Nonce: 0123456789abcdef0123456789abcdef\n" +
		"Issued At: 2025-01-02T03:04:05Z\n" +
		"Expiration Time: 2025-01-02T03:09:05Z"
	assert.Equal(t, expected, sampleMessage().String())
}

func TestMessage_TimesRenderedInUTC(t *testing.T) {
	m := sampleMessage()
	m.IssuedAt = m.IssuedAt.In(time.FixedZone("CET", 3600))
	assert.Contains(t, m.String(), "Issued At: 2025-01-02T03:04:05Z\n")
}

func TestParseMessage(t *testing.T) {
	for _, statement := range []string{"", "Sign in to the example API."} {
		m := sampleMessage()
		m.Statement = statement

		parsed, err := siwa.ParseMessage(m.String())
		require.NoError(t, err)
		assert.Equal(t, m.Domain, parsed.Domain)
		assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", parsed.Address)
		assert.Equal(t, statement, parsed.Statement)
		assert.Equal(t, m.URI, parsed.URI)
		assert.Equal(t, siwa.MessageVersion, parsed.Version)
		assert.Equal(t, m.AgentID, parsed.AgentID)
		assert.Equal(t, m.AgentRegistry, parsed.AgentRegistry)
		assert.Equal(t, m.ChainID, parsed.ChainID)
		assert.Equal(t, m.Nonce, parsed.Nonce)
		assert.True(t, m.IssuedAt.Equal(parsed.IssuedAt))
		assert.True(t, m.ExpirationTime.Equal(parsed.ExpirationTime))

		assert.Equal(t, m.String(), parsed.String())
	}
}

func TestParseMessage_Invalid(t *testing.T) {
	valid := sampleMessage().String()

	tests := []struct {
		name    string
		message string
	}{
		{"empty", ""},
		{"no header", "hello\nworld\n\nURI: x"},
		{"missing blank line", "a wants you to sign in with your Agent account:\n0xabc\nURI: x\n"},
		{"missing field", valid[:len(valid)-len("\nExpiration Time: 2025-01-02T03:09:05Z")]},
		{"bad agent id", replaceOnce(valid, "Agent ID: 42", "Agent ID: forty-two")},
		{"bad time", replaceOnce(valid, "Issued At: 2025-01-02T03:04:05Z", "Issued At: yesterday")},
		{"reordered", replaceOnce(replaceOnce(valid, "Version: 1", "TMP"), "URI: https://api.example.com/siwa", "Version: 1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := siwa.ParseMessage(tt.message)
			assert.Error(t, err)
		})
	}
}

func replaceOnce(s, old, new string) string {
	for i := 0; i+len(old) <= len(s); i++ {
		if s[i:i+len(old)] == old {
			return s[:i] + new + s[i+len(old):]
		}
	}
	return s
}
