package chat

import (
	"encoding/json"

	"github.com/nfrund/orgchat/internal/domain"
)

// Request frame types sent by clients.
const (
	TypeAuthenticate = "authenticate"
	TypeJoinGroup    = "join_group"
	TypeLeaveGroup   = "leave_group"
	TypeSendMessage  = "send_message"
	TypeTypingStart  = "typing_start"
	TypeTypingStop   = "typing_stop"
)

// Frame types sent by the server.
const (
	TypeReady = "ready"
	TypeAck   = "ack"
	TypeError = "error"

	EventMemberJoined      = "member-joined"
	EventOnlineUsers       = "online-users"
	EventMemberLeft        = "member-left"
	EventMessageReceived   = "message-received"
	EventUserTyping        = "user-typing"
	EventUserStoppedTyping = "user-stopped-typing"
	EventRemovedFromGroup  = "removed-from-group"
	EventGroupDeleted      = "group-deleted"
)

// Request is an inbound client frame.
type Request struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// GroupRequest is the payload of join, leave and typing requests.
type GroupRequest struct {
	GroupID string `json:"groupId"`
}

// SendRequest is the payload of send_message.
type SendRequest struct {
	GroupID string `json:"groupId"`
	Content string `json:"content"`
}

// AuthenticateRequest is the payload of the authenticate frame.
type AuthenticateRequest struct {
	Token string `json:"token"`
}

// ErrorBody is the wire form of a domain error.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorBody converts err to its client-safe form.
func NewErrorBody(err error) *ErrorBody {
	return &ErrorBody{Code: domain.Code(err), Message: domain.PublicMessage(err)}
}

// Ack answers a request frame that carried an id.
type Ack struct {
	Type    string     `json:"type"`
	ID      string     `json:"id,omitempty"`
	OK      bool       `json:"ok"`
	Payload any        `json:"payload,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// Event is a server-pushed frame. Type is the event name.
type Event struct {
	Type    string     `json:"type"`
	Payload any        `json:"payload,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// MemberPayload is carried by member and typing events.
type MemberPayload struct {
	UserID  string `json:"userId"`
	Email   string `json:"email"`
	GroupID string `json:"groupId"`
}

// OnlineUsersPayload lists who is online in a room.
type OnlineUsersPayload struct {
	GroupID string   `json:"groupId"`
	UserIDs []string `json:"userIds"`
}

// MessagePayload wraps a stored message.
type MessagePayload struct {
	Message domain.Message `json:"message"`
}

// GroupPayload identifies a group in join acks and eviction events.
type GroupPayload struct {
	GroupID string `json:"groupId"`
}

func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Every frame type above is plain data.
		panic("chat: encode frame: " + err.Error())
	}
	return b
}

func eventFrame(name string, payload any) []byte {
	return encode(Event{Type: name, Payload: payload})
}

// AckFrame answers request id with payload, or with err when it is non-nil.
func AckFrame(id string, payload any, err error) []byte {
	if err != nil {
		return encode(Ack{Type: TypeAck, ID: id, Error: NewErrorBody(err)})
	}
	return encode(Ack{Type: TypeAck, ID: id, OK: true, Payload: payload})
}

// ErrorFrame builds a standalone error frame.
func ErrorFrame(err error) []byte {
	return encode(Event{Type: TypeError, Error: NewErrorBody(err)})
}

func memberPayload(id domain.Identity, groupID string) MemberPayload {
	return MemberPayload{UserID: id.UserID, Email: id.Email, GroupID: groupID}
}
