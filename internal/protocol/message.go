// Package protocol implements the chat relay wire format: pipe-delimited,
// newline-terminated frames with an escape alphabet, plus the message
// builders and classification predicates used by the dispatch layer.
package protocol

import "strings"

// Message type tags. A frame whose type field is not one of these is
// rejected by the parser.
const (
	TypeLogin     = "LOGIN"
	TypeLogout    = "LOGOUT"
	TypeMsg       = "MSG"
	TypeBroadcast = "BROADCAST"
	TypeGroup     = "GROUP"
	TypeHistory   = "HISTORY"
	TypeStatus    = "STATUS"
	TypeError     = "ERROR"
	TypeOK        = "OK"
)

// Reserved receiver tokens.
const (
	ReceiverBroadcast   = "*"
	ReceiverGroupPrefix = "group:"
	ReceiverAllGroups   = "group:all"
)

// Response codes carried in the CODE|MESSAGE content of OK/ERROR frames.
const (
	CodeSuccess      = 0
	CodeAuthFailed   = 1001
	CodeUserNotFound = 1002
	CodeUserOffline  = 1003
	CodeGroupFull    = 1004
	CodeServerError  = 5000
)

// Message is one decoded protocol frame. Instances are values passed down
// the pipeline; only the Delivered flag is mutated after creation, by the
// router on successful delivery.
type Message struct {
	Type      string
	Sender    string
	Receiver  string
	Timestamp string
	Content   string
	ID        int64
	Delivered bool
}

// ValidType reports whether t is one of the fixed message type tags.
func ValidType(t string) bool {
	switch t {
	case TypeLogin, TypeLogout, TypeMsg, TypeBroadcast, TypeGroup,
		TypeHistory, TypeStatus, TypeError, TypeOK:
		return true
	}
	return false
}

// ValidUsername reports whether name is 1-31 characters of letters, digits,
// and underscores.
func ValidUsername(name string) bool {
	if len(name) < 1 || len(name) > 31 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_':
		default:
			return false
		}
	}
	return true
}

// IsLogin reports whether m is a login request.
func (m *Message) IsLogin() bool { return m != nil && m.Type == TypeLogin }

// IsLogout reports whether m is a logout request.
func (m *Message) IsLogout() bool { return m != nil && m.Type == TypeLogout }

// IsPrivate reports whether m is a direct user-to-user message: the generic
// MSG type with a receiver that is neither the broadcast sentinel nor a
// group token.
func (m *Message) IsPrivate() bool {
	return m != nil && m.Type == TypeMsg &&
		m.Receiver != ReceiverBroadcast &&
		!strings.HasPrefix(m.Receiver, ReceiverGroupPrefix)
}

// IsBroadcast reports whether m targets every authenticated user.
func (m *Message) IsBroadcast() bool { return m != nil && m.Type == TypeBroadcast }

// IsGroup reports whether m is a group message.
func (m *Message) IsGroup() bool { return m != nil && m.Type == TypeGroup }

// IsHistoryRequest reports whether m asks for message history.
func (m *Message) IsHistoryRequest() bool { return m != nil && m.Type == TypeHistory }

// IsStatusRequest reports whether m asks for a server status snapshot.
func (m *Message) IsStatusRequest() bool { return m != nil && m.Type == TypeStatus }

// IsResponse reports whether m is an OK or ERROR acknowledgement rather
// than a command.
func (m *Message) IsResponse() bool {
	return m != nil && (m.Type == TypeOK || m.Type == TypeError)
}
