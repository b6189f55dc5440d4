// Package sse provides incremental server-sent-event decoding and encoding
// shared by the streaming transform pipeline.
package sse

import "bytes"

// Frame is one decoded SSE event.
type Frame struct {
	Event string
	Data  []byte
	// Done marks the "[DONE]" sentinel. The sentinel is preserved on the
	// downstream wire but excluded from body accumulation and usage parsing.
	Done bool
}

// Decoder is a chunk-fed SSE parser. Feed may be called with arbitrary byte
// chunking; complete frames are returned as soon as their terminating blank
// line arrives. Comments and fields other than event/data are ignored.
type Decoder struct {
	buf []byte
}

// Feed appends a chunk and returns any frames completed by it.
func (d *Decoder) Feed(chunk []byte) []Frame {
	d.buf = append(d.buf, chunk...)
	var frames []Frame
	for {
		i := frameEnd(d.buf)
		if i < 0 {
			return frames
		}
		block := d.buf[:i]
		d.buf = d.buf[frameAdvance(d.buf, i):]
		if f, ok := parseBlock(block); ok {
			frames = append(frames, f)
		}
	}
}

// Flush parses whatever remains in the buffer as a final, unterminated frame.
// Call once at end of stream.
func (d *Decoder) Flush() []Frame {
	if len(d.buf) == 0 {
		return nil
	}
	block := d.buf
	d.buf = nil
	if f, ok := parseBlock(block); ok {
		return []Frame{f}
	}
	return nil
}

// frameEnd returns the index of the first blank-line frame terminator, or -1.
func frameEnd(b []byte) int {
	lf := bytes.Index(b, []byte("\n\n"))
	crlf := bytes.Index(b, []byte("\r\n\r\n"))
	switch {
	case lf < 0:
		return crlf
	case crlf < 0:
		return lf
	case crlf < lf:
		return crlf
	}
	return lf
}

// frameAdvance returns the buffer offset just past the terminator at i.
func frameAdvance(b []byte, i int) int {
	if bytes.HasPrefix(b[i:], []byte("\r\n\r\n")) {
		return i + 4
	}
	return i + 2
}

var doneSentinel = []byte("[DONE]")

// parseBlock parses one frame block (lines without the trailing blank line).
// Multiple data lines are joined with a newline per the SSE spec.
func parseBlock(block []byte) (Frame, bool) {
	var f Frame
	seen := false
	for line := range bytes.Lines(block) {
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		key, value, found := bytes.Cut(line, []byte(":"))
		if !found {
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		switch string(key) {
		case "event":
			f.Event = string(value)
			seen = true
		case "data":
			if f.Data != nil {
				f.Data = append(f.Data, '\n')
			}
			f.Data = append(f.Data, value...)
			seen = true
		}
	}
	if !seen {
		return Frame{}, false
	}
	f.Done = bytes.Equal(f.Data, doneSentinel)
	return f, true
}

// Pre-allocated byte slices for SSE encoding. These avoid heap allocations
// on every write in the streaming hot path.
var (
	eventPrefix = []byte("event: ")
	dataPrefix  = []byte("data: ")
	newline     = []byte("\n")
	terminator  = []byte("\n\n")

	// DoneFrame is the wire form of the stream termination sentinel.
	DoneFrame = []byte("data: [DONE]\n\n")
)

// AppendData appends "data: <data>\n\n" to dst and returns it.
func AppendData(dst, data []byte) []byte {
	dst = append(dst, dataPrefix...)
	dst = append(dst, data...)
	return append(dst, terminator...)
}

// AppendEvent appends "event: <event>\ndata: <data>\n\n" to dst and returns it.
func AppendEvent(dst []byte, event string, data []byte) []byte {
	dst = append(dst, eventPrefix...)
	dst = append(dst, event...)
	dst = append(dst, newline...)
	return AppendData(dst, data)
}

// Encode returns the wire form of a frame. The termination sentinel encodes
// to the shared DoneFrame slice; callers must not mutate the result.
func Encode(f Frame) []byte {
	if f.Done && f.Event == "" {
		return DoneFrame
	}
	if f.Event != "" {
		return AppendEvent(nil, f.Event, f.Data)
	}
	return AppendData(nil, f.Data)
}
