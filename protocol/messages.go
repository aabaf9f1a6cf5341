package protocol

// Message type identifiers. The set is closed: every frame on the wire
// carries exactly one of these ids in its header.
const (
	TypePing            uint32 = 0
	TypeHere            uint32 = 1
	TypeCreateAccount   uint32 = 2
	TypeAway            uint32 = 3
	TypeSendChat        uint32 = 4
	TypeRequestUserList uint32 = 5
	TypeDeleteAccount   uint32 = 6
	TypeShowUndelivered uint32 = 7
	TypePong            uint32 = 9
	TypeDeliver         uint32 = 10
	TypeUserList        uint32 = 11
	TypeError           uint32 = 12
)

// ChatMessage is one routed chat entry: who sent it and what they said.
type ChatMessage struct {
	Sender string
	Body   string
}

// Message is a decoded protocol frame. The interface is sealed by the
// unexported payload method, so the variants in this file are the complete
// catalog and dispatch sites can switch over them exhaustively.
type Message interface {
	Type() uint32

	// appendPayload serializes the type-specific payload onto buf.
	appendPayload(buf []byte) []byte
}

// PingMessage is a liveness probe; either peer may send it.
type PingMessage struct{}

func (*PingMessage) Type() uint32 { return TypePing }
func (*PingMessage) appendPayload(buf []byte) []byte { return buf }

// PongMessage is the reply to a ping.
type PongMessage struct{}

func (*PongMessage) Type() uint32 { return TypePong }
func (*PongMessage) appendPayload(buf []byte) []byte { return buf }

// HereMessage announces that the named user is now at this connection.
type HereMessage struct {
	Username string
}

func (*HereMessage) Type() uint32 { return TypeHere }
func (m *HereMessage) appendPayload(buf []byte) []byte {
	return appendString(buf, m.Username)
}

// CreateAccountMessage asks the server to register a new username and log
// it in at this connection.
type CreateAccountMessage struct {
	Username string
}

func (*CreateAccountMessage) Type() uint32 { return TypeCreateAccount }
func (m *CreateAccountMessage) appendPayload(buf []byte) []byte {
	return appendString(buf, m.Username)
}

// AwayMessage marks the bound user as no longer present. The connection
// stays open and returns to the unauthenticated state.
type AwayMessage struct{}

func (*AwayMessage) Type() uint32 { return TypeAway }
func (*AwayMessage) appendPayload(buf []byte) []byte { return buf }

// SendChatMessage routes one chat body to a recipient.
type SendChatMessage struct {
	Recipient string
	Body      string
}

func (*SendChatMessage) Type() uint32 { return TypeSendChat }
func (m *SendChatMessage) appendPayload(buf []byte) []byte {
	buf = appendString(buf, m.Recipient)
	return appendString(buf, m.Body)
}

// RequestUserListMessage asks for a snapshot of all known usernames.
type RequestUserListMessage struct{}

func (*RequestUserListMessage) Type() uint32 { return TypeRequestUserList }
func (*RequestUserListMessage) appendPayload(buf []byte) []byte { return buf }

// DeleteAccountMessage removes the bound user's account entirely.
type DeleteAccountMessage struct{}

func (*DeleteAccountMessage) Type() uint32 { return TypeDeleteAccount }
func (*DeleteAccountMessage) appendPayload(buf []byte) []byte { return buf }

// ShowUndeliveredMessage requests everything queued for the bound user
// while they were away.
type ShowUndeliveredMessage struct{}

func (*ShowUndeliveredMessage) Type() uint32 { return TypeShowUndelivered }
func (*ShowUndeliveredMessage) appendPayload(buf []byte) []byte { return buf }

// DeliverMessage pushes a batch of chat messages to the client.
type DeliverMessage struct {
	Messages []ChatMessage
}

func (*DeliverMessage) Type() uint32 { return TypeDeliver }
func (m *DeliverMessage) appendPayload(buf []byte) []byte {
	buf = appendUint32(buf, uint32(len(m.Messages)))
	for _, cm := range m.Messages {
		buf = appendString(buf, cm.Sender)
		buf = appendString(buf, cm.Body)
	}
	return buf
}

// UserListMessage is the reply to RequestUserList.
type UserListMessage struct {
	Users []string
}

func (*UserListMessage) Type() uint32 { return TypeUserList }
func (m *UserListMessage) appendPayload(buf []byte) []byte {
	buf = appendUint32(buf, uint32(len(m.Users)))
	for _, u := range m.Users {
		buf = appendString(buf, u)
	}
	return buf
}

// ErrorMessage reports a recoverable request failure to the client.
type ErrorMessage struct {
	Reason string
}

func (*ErrorMessage) Type() uint32 { return TypeError }
func (m *ErrorMessage) appendPayload(buf []byte) []byte {
	return appendString(buf, m.Reason)
}
