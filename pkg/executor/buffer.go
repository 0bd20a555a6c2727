package executor

import "bytes"

const truncatedNote = "\n[output truncated]"

// limitedBuffer keeps the first limit bytes written to it and drops the rest
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newLimitedBuffer(limit int) *limitedBuffer {
	return &limitedBuffer{limit: limit}
}

// Write always reports success so the child process never sees EPIPE
func (b *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if b.limit > 0 {
		room := b.limit - b.buf.Len()
		if room <= 0 {
			b.truncated = b.truncated || n > 0
			return n, nil
		}
		if len(p) > room {
			p = p[:room]
			b.truncated = true
		}
	}
	b.buf.Write(p)
	return n, nil
}

func (b *limitedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + truncatedNote
	}
	return b.buf.String()
}
