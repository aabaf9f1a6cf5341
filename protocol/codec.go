package protocol

import (
	"encoding/binary"
	"errors"
)

const (
	// Version is the protocol version carried in every frame header.
	Version uint32 = 1

	// HeaderSize is the fixed length of the frame header:
	// [version:u32][type:u32][payload_len:u32], big-endian.
	HeaderSize = 12

	// MaxPayloadSize bounds the declared payload length of a single frame.
	MaxPayloadSize = 1 << 20
)

var (
	ErrBadVersion       = errors.New("unsupported protocol version")
	ErrUnknownType      = errors.New("unknown message type")
	ErrTruncatedPayload = errors.New("frame shorter than declared payload length")
	ErrMalformedPayload = errors.New("payload does not match message type")
	ErrFrameTooLarge    = errors.New("declared payload length exceeds frame limit")
)

// Encode serializes a message into a complete wire frame: the 12-byte
// header followed by the type-specific payload. Integers are big-endian
// u32, strings are u32-length-prefixed UTF-8, lists are a u32 count
// followed by their elements.
func Encode(m Message) []byte {
	payload := m.appendPayload(nil)

	buf := make([]byte, 0, HeaderSize+len(payload))
	buf = appendUint32(buf, Version)
	buf = appendUint32(buf, m.Type())
	buf = appendUint32(buf, uint32(len(payload)))
	return append(buf, payload...)
}

// ExtractFrameLength returns the declared payload length from a header
// prefix, so an incremental reader knows how many more bytes to collect
// before calling Decode. It needs only the first HeaderSize bytes.
func ExtractFrameLength(header []byte) (int, error) {
	if len(header) < HeaderSize {
		return 0, ErrTruncatedPayload
	}
	return int(binary.BigEndian.Uint32(header[8:12])), nil
}

// Decode parses one complete frame. It either returns a fully populated
// message or one of the framing errors; it never returns a partial result.
func Decode(frame []byte) (Message, error) {
	if len(frame) < HeaderSize {
		return nil, ErrTruncatedPayload
	}

	version := binary.BigEndian.Uint32(frame[0:4])
	if version != Version {
		return nil, ErrBadVersion
	}

	id := binary.BigEndian.Uint32(frame[4:8])
	if !knownType(id) {
		return nil, ErrUnknownType
	}

	length := binary.BigEndian.Uint32(frame[8:12])
	if length > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}
	if len(frame) < HeaderSize+int(length) {
		return nil, ErrTruncatedPayload
	}

	r := payloadReader{buf: frame[HeaderSize : HeaderSize+int(length)]}
	m, err := decodePayload(id, &r)
	if err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, ErrMalformedPayload
	}
	return m, nil
}

func knownType(id uint32) bool {
	switch id {
	case TypePing, TypeHere, TypeCreateAccount, TypeAway, TypeSendChat,
		TypeRequestUserList, TypeDeleteAccount, TypeShowUndelivered,
		TypePong, TypeDeliver, TypeUserList, TypeError:
		return true
	}
	return false
}

func decodePayload(id uint32, r *payloadReader) (Message, error) {
	switch id {
	case TypePing:
		return &PingMessage{}, nil
	case TypePong:
		return &PongMessage{}, nil
	case TypeAway:
		return &AwayMessage{}, nil
	case TypeRequestUserList:
		return &RequestUserListMessage{}, nil
	case TypeDeleteAccount:
		return &DeleteAccountMessage{}, nil
	case TypeShowUndelivered:
		return &ShowUndeliveredMessage{}, nil

	case TypeHere:
		username, err := r.readString()
		if err != nil {
			return nil, err
		}
		return &HereMessage{Username: username}, nil

	case TypeCreateAccount:
		username, err := r.readString()
		if err != nil {
			return nil, err
		}
		return &CreateAccountMessage{Username: username}, nil

	case TypeSendChat:
		recipient, err := r.readString()
		if err != nil {
			return nil, err
		}
		body, err := r.readString()
		if err != nil {
			return nil, err
		}
		return &SendChatMessage{Recipient: recipient, Body: body}, nil

	case TypeDeliver:
		count, err := r.readCount(8)
		if err != nil {
			return nil, err
		}
		var msgs []ChatMessage
		for i := 0; i < count; i++ {
			sender, err := r.readString()
			if err != nil {
				return nil, err
			}
			body, err := r.readString()
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, ChatMessage{Sender: sender, Body: body})
		}
		return &DeliverMessage{Messages: msgs}, nil

	case TypeUserList:
		count, err := r.readCount(4)
		if err != nil {
			return nil, err
		}
		var users []string
		for i := 0; i < count; i++ {
			u, err := r.readString()
			if err != nil {
				return nil, err
			}
			users = append(users, u)
		}
		return &UserListMessage{Users: users}, nil

	case TypeError:
		reason, err := r.readString()
		if err != nil {
			return nil, err
		}
		return &ErrorMessage{Reason: reason}, nil
	}

	return nil, ErrUnknownType
}

// payloadReader walks a payload slice, failing with ErrMalformedPayload as
// soon as a field would read past the end.
type payloadReader struct {
	buf []byte
	off int
}

func (r *payloadReader) readUint32() (uint32, error) {
	if r.off+4 > len(r.buf) {
		return 0, ErrMalformedPayload
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *payloadReader) readString() (string, error) {
	n, err := r.readUint32()
	if err != nil {
		return "", err
	}
	if r.off+int(n) > len(r.buf) {
		return "", ErrMalformedPayload
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

// readCount reads a list count and rejects counts that could not possibly
// fit in the remaining payload, given a minimum encoded element size.
func (r *payloadReader) readCount(minElemSize int) (int, error) {
	n, err := r.readUint32()
	if err != nil {
		return 0, err
	}
	if int(n)*minElemSize > r.remaining() {
		return 0, ErrMalformedPayload
	}
	return int(n), nil
}

func (r *payloadReader) remaining() int {
	return len(r.buf) - r.off
}

func appendUint32(buf []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(buf, v)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}
