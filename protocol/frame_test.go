package protocol

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameReaderChunked(t *testing.T) {
	msgs := []Message{
		&HereMessage{Username: "alice"},
		&SendChatMessage{Recipient: "bob", Body: "split me across chunks"},
		&PingMessage{},
		&DeliverMessage{Messages: []ChatMessage{{Sender: "bob", Body: "re: split"}}},
	}

	var stream []byte
	for _, m := range msgs {
		stream = append(stream, Encode(m)...)
	}

	for _, chunkSize := range []int{1, 2, 3, 5, 7, 11, len(stream)} {
		t.Run(fmt.Sprintf("chunk size %d", chunkSize), func(t *testing.T) {
			fr := &FrameReader{}
			var got []Message

			for off := 0; off < len(stream); off += chunkSize {
				end := off + chunkSize
				if end > len(stream) {
					end = len(stream)
				}
				fr.Feed(stream[off:end])

				for {
					m, err := fr.Next()
					require.NoError(t, err)
					if m == nil {
						break
					}
					got = append(got, m)
				}
			}

			require.Equal(t, msgs, got)
			assert.Zero(t, fr.Buffered())
		})
	}
}

func TestFrameReaderSurfacesFramingErrors(t *testing.T) {
	frame := Encode(&PingMessage{})
	binary.BigEndian.PutUint32(frame[0:4], Version+8)

	fr := &FrameReader{}
	fr.Feed(frame)
	_, err := fr.Next()
	require.ErrorIs(t, err, ErrBadVersion)
}

func TestFrameReaderRejectsOversizedDeclaredLength(t *testing.T) {
	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(header[0:4], Version)
	binary.BigEndian.PutUint32(header[4:8], TypePing)
	binary.BigEndian.PutUint32(header[8:12], MaxPayloadSize+1)

	fr := &FrameReader{}
	fr.Feed(header)
	_, err := fr.Next()
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFrameReaderWaitsForFullFrame(t *testing.T) {
	frame := Encode(&HereMessage{Username: "alice"})

	fr := &FrameReader{}
	fr.Feed(frame[:HeaderSize+2])
	m, err := fr.Next()
	require.NoError(t, err)
	assert.Nil(t, m)

	fr.Feed(frame[HeaderSize+2:])
	m, err = fr.Next()
	require.NoError(t, err)
	assert.Equal(t, &HereMessage{Username: "alice"}, m)
}
