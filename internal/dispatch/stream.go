package dispatch

import (
	"io"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/protocol/sse"
	"github.com/eugener/bifrost/internal/transform"
)

// frameBuffer bounds the decoded frames in flight between the upstream
// reader and the downstream writer.
const frameBuffer = 256

// StreamSpec wires one streaming response through the pipeline.
type StreamSpec struct {
	Upstream io.ReadCloser
	// Machine translates upstream frames into downstream-dialect frames.
	// Nil streams the upstream bytes through unchanged.
	Machine   transform.Stream
	UpUsage   *UsageAccumulator
	DownUsage *UsageAccumulator
	// OnFinish runs once after the last byte, with each direction's
	// accumulated usage and concatenated frame payloads. It must not block.
	OnFinish func(up, down StreamRecord)
}

// StreamRecord is the per-direction outcome of a finished stream: the
// accumulated usage plus the newline-joined data payloads of its frames.
// Comments and the [DONE] sentinel are excluded from the body.
type StreamRecord struct {
	Usage gateway.TrafficUsage
	Body  []byte
}

func appendFrameBody(dst []byte, f sse.Frame) []byte {
	if f.Done || len(f.Data) == 0 {
		return dst
	}
	dst = append(dst, f.Data...)
	return append(dst, '\n')
}

// OpenStream starts the pipeline and returns the downstream byte stream.
// Closing the returned reader tears the pipeline down and releases the
// upstream connection.
func OpenStream(s StreamSpec) io.ReadCloser {
	pr, pw := io.Pipe()
	if s.Machine == nil {
		go s.passthrough(pw)
	} else {
		go s.translate(pw)
	}
	return pr
}

// passthrough copies upstream bytes verbatim while side-decoding frames for
// usage. Up and down speak the same dialect here, so one decode feeds both.
func (s StreamSpec) passthrough(pw *io.PipeWriter) {
	defer s.Upstream.Close()

	var dec sse.Decoder
	var body []byte
	feed := func(frames []sse.Frame) {
		for _, f := range frames {
			s.UpUsage.Feed(f)
			s.DownUsage.Feed(f)
			body = appendFrameBody(body, f)
		}
	}

	buf := make([]byte, 4096)
	for {
		n, err := s.Upstream.Read(buf)
		if n > 0 {
			feed(dec.Feed(buf[:n]))
			if _, werr := pw.Write(buf[:n]); werr != nil {
				s.finish(pw, body, body, nil)
				return
			}
		}
		if err != nil {
			feed(dec.Flush())
			if err == io.EOF {
				err = nil
			}
			s.finish(pw, body, body, err)
			return
		}
	}
}

// translate decodes upstream frames, runs them through the state machine,
// and encodes the emitted downstream frames. Decoding and writing run on
// separate goroutines joined by a bounded channel so a slow client does not
// stall the upstream read beyond the buffer.
func (s StreamSpec) translate(pw *io.PipeWriter) {
	frames := make(chan sse.Frame, frameBuffer)
	readErr := make(chan error, 1)

	go func() {
		defer close(frames)
		defer s.Upstream.Close()
		var dec sse.Decoder
		buf := make([]byte, 4096)
		for {
			n, err := s.Upstream.Read(buf)
			for _, f := range dec.Feed(buf[:n]) {
				frames <- f
			}
			if err != nil {
				for _, f := range dec.Flush() {
					frames <- f
				}
				if err == io.EOF {
					err = nil
				}
				readErr <- err
				return
			}
		}
	}()

	var upBody, downBody []byte
	emit := func(out []sse.Frame) bool {
		for _, f := range out {
			s.DownUsage.Feed(f)
			downBody = appendFrameBody(downBody, f)
			if _, err := pw.Write(sse.Encode(f)); err != nil {
				return false
			}
		}
		return true
	}

	for f := range frames {
		s.UpUsage.Feed(f)
		upBody = appendFrameBody(upBody, f)
		if !emit(s.Machine.Push(f)) {
			// Client is gone; drain so the reader goroutine can exit.
			for range frames {
			}
			s.finish(pw, upBody, downBody, nil)
			return
		}
	}
	emit(s.Machine.Finalize())
	s.finish(pw, upBody, downBody, <-readErr)
}

func (s StreamSpec) finish(pw *io.PipeWriter, upBody, downBody []byte, err error) {
	if s.OnFinish != nil {
		s.OnFinish(
			StreamRecord{Usage: s.UpUsage.Usage(), Body: upBody},
			StreamRecord{Usage: s.DownUsage.Usage(), Body: downBody},
		)
	}
	if err != nil {
		pw.CloseWithError(err)
		return
	}
	pw.Close()
}
