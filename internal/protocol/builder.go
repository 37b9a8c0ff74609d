package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Literal sender/receiver identities used by the response envelope.
const (
	ServerIdentity = "server"
	ClientIdentity = "client"
)

// ErrInvalidUsername is returned by builders that require a well-formed
// username.
var ErrInvalidUsername = errors.New("protocol: invalid username")

func now() string {
	return time.Now().Format(TimestampLayout)
}

// BuildLogin builds a LOGIN frame. The password travels in the content
// field; the receiver is the server identity.
func BuildLogin(username, password string) ([]byte, error) {
	if !ValidUsername(username) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	return Serialize(&Message{
		Type:      TypeLogin,
		Sender:    username,
		Receiver:  ServerIdentity,
		Timestamp: now(),
		Content:   password,
	})
}

// BuildLogout builds a LOGOUT frame with an empty content field.
func BuildLogout(username string) ([]byte, error) {
	if !ValidUsername(username) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	return Serialize(&Message{
		Type:      TypeLogout,
		Sender:    username,
		Receiver:  ServerIdentity,
		Timestamp: now(),
	})
}

// BuildText builds a private MSG frame from sender to receiver.
func BuildText(sender, receiver, content string) ([]byte, error) {
	if !ValidUsername(sender) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUsername, sender)
	}
	return Serialize(&Message{
		Type:      TypeMsg,
		Sender:    sender,
		Receiver:  receiver,
		Timestamp: now(),
		Content:   content,
	})
}

// BuildBroadcast builds a BROADCAST frame addressed to the broadcast
// sentinel.
func BuildBroadcast(sender, content string) ([]byte, error) {
	if !ValidUsername(sender) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUsername, sender)
	}
	return Serialize(&Message{
		Type:      TypeBroadcast,
		Sender:    sender,
		Receiver:  ReceiverBroadcast,
		Timestamp: now(),
		Content:   content,
	})
}

// BuildGroup builds a GROUP frame addressed to group:<name>.
func BuildGroup(sender, group, content string) ([]byte, error) {
	if !ValidUsername(sender) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUsername, sender)
	}
	return Serialize(&Message{
		Type:      TypeGroup,
		Sender:    sender,
		Receiver:  ReceiverGroupPrefix + group,
		Timestamp: now(),
		Content:   content,
	})
}

// BuildHistoryRequest builds a HISTORY frame. The content carries
// TARGET|START|END with empty strings for absent bounds; the inner pipes
// are deliberately left unescaped, matching the convention the server
// splits on.
func BuildHistoryRequest(username, target, start, end string) ([]byte, error) {
	if !ValidUsername(username) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	frame := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s\n",
		TypeHistory, username, ServerIdentity, now(), target, start, end)
	return []byte(frame), nil
}

// BuildStatusRequest builds a STATUS frame with an empty content field.
func BuildStatusRequest(username string) ([]byte, error) {
	if !ValidUsername(username) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	return Serialize(&Message{
		Type:      TypeStatus,
		Sender:    username,
		Receiver:  ServerIdentity,
		Timestamp: now(),
	})
}

// BuildResponse builds an OK or ERROR envelope from the server to a client.
// The content subfields CODE|MESSAGE keep their separator pipe unescaped;
// the parser folds it back into the content field on the receiving side.
// The message text itself is escaped so multi-line responses stay inside
// one frame.
func BuildResponse(code int, typ, message string) ([]byte, error) {
	if typ != TypeOK && typ != TypeError {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	frame := fmt.Sprintf("%s|%s|%s|%s|%d|%s\n",
		typ, ServerIdentity, ClientIdentity, now(), code, Escape(message))
	return []byte(frame), nil
}

// BuildSuccess builds an OK envelope with the success code. An empty
// message defaults to "Success".
func BuildSuccess(message string) ([]byte, error) {
	if message == "" {
		message = "Success"
	}
	return BuildResponse(CodeSuccess, TypeOK, message)
}

// BuildError builds an ERROR envelope. An empty message is replaced by the
// default text for the code.
func BuildError(code int, message string) ([]byte, error) {
	if message == "" {
		message = defaultErrorText(code)
	}
	return BuildResponse(code, TypeError, message)
}

func defaultErrorText(code int) string {
	switch code {
	case CodeAuthFailed:
		return "Authentication failed"
	case CodeUserNotFound:
		return "User not found"
	case CodeUserOffline:
		return "User is offline"
	case CodeGroupFull:
		return "Group is full"
	case CodeServerError:
		return "Server internal error"
	default:
		return "Unknown error"
	}
}

// BuildUserOnline builds the presence broadcast announcing that username
// has come online.
func BuildUserOnline(username string) ([]byte, error) {
	return buildPresence(username, "online")
}

// BuildUserOffline builds the presence broadcast announcing that username
// has gone offline.
func BuildUserOffline(username string) ([]byte, error) {
	return buildPresence(username, "offline")
}

func buildPresence(username, state string) ([]byte, error) {
	if !ValidUsername(username) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	return Serialize(PresenceMessage(username, state == "online"))
}

// PresenceMessage returns the server-originated broadcast announcing a
// presence change, ready for routing.
func PresenceMessage(username string, online bool) *Message {
	state := "offline"
	if online {
		state = "online"
	}
	return &Message{
		Type:      TypeBroadcast,
		Sender:    ServerIdentity,
		Receiver:  ReceiverBroadcast,
		Timestamp: now(),
		Content:   fmt.Sprintf("%s is now %s", username, state),
	}
}

// BuildSystemNotification builds a server-originated broadcast carrying
// arbitrary content.
func BuildSystemNotification(content string) ([]byte, error) {
	return Serialize(&Message{
		Type:      TypeBroadcast,
		Sender:    ServerIdentity,
		Receiver:  ReceiverBroadcast,
		Timestamp: now(),
		Content:   content,
	})
}
