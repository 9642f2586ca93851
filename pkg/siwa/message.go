package siwa

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agentrep/siwa-core/pkg/identity"
)

// MessageVersion is the only message version this package produces.
const MessageVersion = "1"

const messageHeaderSuffix = " wants you to sign in with your Agent account:"

// Message field labels, in canonical order.
const (
	labelURI            = "URI"
	labelVersion        = "Version"
	labelAgentID        = "Agent ID"
	labelAgentRegistry  = "Agent Registry"
	labelChainID        = "Chain ID"
	labelNonce          = "Nonce"
	labelIssuedAt       = "Issued At"
	labelExpirationTime = "Expiration Time"
)

var messageLabels = []string{
	labelURI, labelVersion, labelAgentID, labelAgentRegistry,
	labelChainID, labelNonce, labelIssuedAt, labelExpirationTime,
}

var errMalformedMessage = errors.New("malformed sign-in message")

// Message is the human-readable text an agent signs to authenticate.
type Message struct {
	Domain         string
	Address        string
	Statement      string
	URI            string
	Version        string
	AgentID        uint64
	AgentRegistry  string
	ChainID        uint64
	Nonce          string
	IssuedAt       time.Time
	ExpirationTime time.Time
}

// String renders the canonical form of the message. The address is rendered
// with its EIP-55 checksum and timestamps in RFC 3339 UTC.
func (m Message) String() string {
	var b strings.Builder
	b.WriteString(m.Domain)
	b.WriteString(messageHeaderSuffix)
	b.WriteString("\n")
	b.WriteString(identity.ChecksumAddress(m.Address))
	b.WriteString("\n\n")
	if m.Statement != "" {
		b.WriteString(m.Statement)
		b.WriteString("\n\n")
	}

	version := m.Version
	if version == "" {
		version = MessageVersion
	}

	fields := []string{
		m.URI,
		version,
		strconv.FormatUint(m.AgentID, 10),
		m.AgentRegistry,
		strconv.FormatUint(m.ChainID, 10),
		m.Nonce,
		formatTime(m.IssuedAt),
		formatTime(m.ExpirationTime),
	}
	for i, label := range messageLabels {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(fields[i])
	}
	return b.String()
}

// ParseMessage parses a message in canonical layout. It is used to explain
// why a presented message differs from the expected one, never to decide
// whether a message is acceptable.
func ParseMessage(s string) (*Message, error) {
	lines := strings.Split(s, "\n")
	if len(lines) < 4 {
		return nil, fmt.Errorf("%w: too few lines", errMalformedMessage)
	}

	domain, ok := strings.CutSuffix(lines[0], messageHeaderSuffix)
	if !ok || domain == "" {
		return nil, fmt.Errorf("%w: missing header", errMalformedMessage)
	}
	m := &Message{Domain: domain, Address: lines[1]}

	if lines[2] != "" {
		return nil, fmt.Errorf("%w: expected blank line after address", errMalformedMessage)
	}
	rest := lines[3:]
	if !strings.HasPrefix(rest[0], labelURI+": ") {
		m.Statement = rest[0]
		if len(rest) < 2 || rest[1] != "" {
			return nil, fmt.Errorf("%w: expected blank line after statement", errMalformedMessage)
		}
		rest = rest[2:]
	}

	if len(rest) != len(messageLabels) {
		return nil, fmt.Errorf("%w: expected %d fields, got %d", errMalformedMessage, len(messageLabels), len(rest))
	}

	values := make(map[string]string, len(messageLabels))
	for i, label := range messageLabels {
		v, ok := strings.CutPrefix(rest[i], label+": ")
		if !ok {
			return nil, fmt.Errorf("%w: expected %q field", errMalformedMessage, label)
		}
		values[label] = v
	}

	var err error
	m.URI = values[labelURI]
	m.Version = values[labelVersion]
	m.AgentRegistry = values[labelAgentRegistry]
	m.Nonce = values[labelNonce]
	if m.AgentID, err = strconv.ParseUint(values[labelAgentID], 10, 64); err != nil {
		return nil, fmt.Errorf("%w: agent id: %v", errMalformedMessage, err)
	}
	if m.ChainID, err = strconv.ParseUint(values[labelChainID], 10, 64); err != nil {
		return nil, fmt.Errorf("%w: chain id: %v", errMalformedMessage, err)
	}
	if m.IssuedAt, err = time.Parse(time.RFC3339, values[labelIssuedAt]); err != nil {
		return nil, fmt.Errorf("%w: issued at: %v", errMalformedMessage, err)
	}
	if m.ExpirationTime, err = time.Parse(time.RFC3339, values[labelExpirationTime]); err != nil {
		return nil, fmt.Errorf("%w: expiration time: %v", errMalformedMessage, err)
	}
	return m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
