package transport

import (
	"time"

	"github.com/google/uuid"
)

// maxSystemFieldLen is the longest a message-id, correlation-id, or
// lock-token may be.
const maxSystemFieldLen = 128

// Message is a value object shipped to, or received from, the broker.
// Its body is treated as immutable once constructed.
type Message struct {
	body []byte

	MessageID            string
	CorrelationID        string
	UserID               string
	To                   string
	OutputName           string
	InputName            string
	ConnectionDeviceID   string
	LockToken            string

	// ExpiryMs is an absolute wall-clock instant in unix milliseconds.
	// Zero means "never expires".
	ExpiryMs int64

	properties     map[string]string
	propertyOrder  []string
}

// NewMessage builds a Message around body. A nil body is rejected. When
// msgID is empty a URN-safe UUID is generated.
func NewMessage(body []byte, msgID string) (*Message, error) {
	if body == nil {
		return nil, &InvalidArgument{Field: "body"}
	}
	if msgID == "" {
		msgID = uuid.New().String()
	}
	if err := validateSystemField("message_id", msgID); err != nil {
		return nil, err
	}
	return &Message{
		body:       body,
		MessageID:  msgID,
		properties: make(map[string]string),
	}, nil
}

// validateSystemField enforces the message-id/correlation-id/lock-token
// invariant shared by the three system fields: each must be URN-safe ASCII
// (letters, digits, and the unreserved URN punctuation "-_.~") no longer
// than maxSystemFieldLen.
func validateSystemField(field, value string) error {
	if len(value) > maxSystemFieldLen {
		return &InvalidArgument{Field: field + " exceeds 128 characters"}
	}
	if !isURNSafeASCII(value) {
		return &InvalidArgument{Field: field + " is not URN-safe ASCII"}
	}
	return nil
}

func isURNSafeASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == '~':
		default:
			return false
		}
	}
	return true
}

// SetCorrelationID validates and assigns a correlation-id carried in from
// the wire or set by the application -- the same URN-safe-ASCII,
// ≤128-character invariant NewMessage enforces on MessageID.
func (m *Message) SetCorrelationID(v string) error {
	if err := validateSystemField("correlation_id", v); err != nil {
		return err
	}
	m.CorrelationID = v
	return nil
}

// SetLockToken validates and assigns a lock-token carried in from the wire.
func (m *Message) SetLockToken(v string) error {
	if err := validateSystemField("lock_token", v); err != nil {
		return err
	}
	m.LockToken = v
	return nil
}

// Body returns the message payload. Callers must not mutate the returned
// slice.
func (m *Message) Body() []byte { return m.body }

// SetProperty attaches a user property, preserving insertion order for
// SetProperty calls on distinct names.
func (m *Message) SetProperty(name, value string) {
	if m.properties == nil {
		m.properties = make(map[string]string)
	}
	if _, exists := m.properties[name]; !exists {
		m.propertyOrder = append(m.propertyOrder, name)
	}
	m.properties[name] = value
}

// Property returns a previously set user property.
func (m *Message) Property(name string) (string, bool) {
	v, ok := m.properties[name]
	return v, ok
}

// Properties returns the user properties in insertion order.
func (m *Message) Properties() []struct{ Name, Value string } {
	out := make([]struct{ Name, Value string }, 0, len(m.propertyOrder))
	for _, name := range m.propertyOrder {
		out = append(out, struct{ Name, Value string }{Name: name, Value: m.properties[name]})
	}
	return out
}

// IsExpired reports whether the message has passed its expiry, relative to
// the supplied wall-clock time. ExpiryMs == 0 never expires.
func (m *Message) IsExpired(now time.Time) bool {
	if m.ExpiryMs == 0 {
		return false
	}
	return now.UnixMilli() > m.ExpiryMs
}

// AckNeeded reports whether the given protocol expects a wire-level
// acknowledgement before the message is considered delivered. Only the
// request/response protocol fires-and-forgets; the others correlate a
// publish with a PUBACK/disposition before the packet leaves in-flight.
func (m *Message) AckNeeded(p Protocol) bool {
	return p != ReqResp
}
