package protocol

// FrameReader reassembles wire frames from an arbitrarily chunked byte
// stream. Callers feed it whatever the transport hands them and pull out
// complete messages as they become available; chunk boundaries never
// affect the decoded result.
type FrameReader struct {
	buf []byte
}

// Feed appends raw bytes read from the transport.
func (r *FrameReader) Feed(p []byte) {
	r.buf = append(r.buf, p...)
}

// Next returns the next complete message, or (nil, nil) if more bytes are
// needed. A framing error means the stream can no longer be trusted to be
// frame-aligned and the connection should be torn down.
func (r *FrameReader) Next() (Message, error) {
	if len(r.buf) < HeaderSize {
		return nil, nil
	}

	length, err := ExtractFrameLength(r.buf[:HeaderSize])
	if err != nil {
		return nil, err
	}
	if length > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}

	total := HeaderSize + length
	if len(r.buf) < total {
		return nil, nil
	}

	m, err := Decode(r.buf[:total])
	if err != nil {
		return nil, err
	}
	r.buf = r.buf[total:]
	return m, nil
}

// Buffered reports how many undecoded bytes are pending.
func (r *FrameReader) Buffered() int {
	return len(r.buf)
}
