package dispatch

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/protocol/sse"
)

// echoMachine tags every frame so translate-path output is distinguishable
// from passthrough.
type echoMachine struct {
	finalized bool
}

func (m *echoMachine) Push(f sse.Frame) []sse.Frame {
	if f.Done {
		return nil
	}
	f.Event = "echo"
	return []sse.Frame{f}
}

func (m *echoMachine) Finalize() []sse.Frame {
	m.finalized = true
	return []sse.Frame{{Event: "final", Data: []byte(`{}`)}}
}

func TestOpenStreamPassthroughByteFidelity(t *testing.T) {
	t.Parallel()

	// Passthrough must preserve the upstream bytes exactly, including
	// comments, CRLF terminators, and the [DONE] sentinel.
	upstream := "event: message_start\ndata: {\"message\":{\"usage\":{\"input_tokens\":5}}}\n\n" +
		": keepalive\n\n" +
		"data: {\"usage\":{\"output_tokens\":9}}\r\n\r\n" +
		"data: [DONE]\n\n"

	done := make(chan struct{})
	var up, down StreamRecord
	rc := OpenStream(StreamSpec{
		Upstream:  io.NopCloser(strings.NewReader(upstream)),
		UpUsage:   NewUsageAccumulator(gateway.UsageClaude),
		DownUsage: NewUsageAccumulator(gateway.UsageClaude),
		OnFinish: func(u, d StreamRecord) {
			up, down = u, d
			close(done)
		},
	})

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte(upstream)) {
		t.Errorf("passthrough altered bytes:\ngot  %q\nwant %q", got, upstream)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnFinish never ran")
	}
	if up.Usage.ClaudeInputTokens == nil || *up.Usage.ClaudeInputTokens != 5 {
		t.Errorf("upstream usage = %+v", up.Usage)
	}
	if down.Usage.ClaudeOutputTokens == nil || *down.Usage.ClaudeOutputTokens != 9 {
		t.Errorf("downstream usage = %+v", down.Usage)
	}

	// Both records carry the concatenated data payloads; comments and the
	// [DONE] sentinel are excluded.
	wantBody := "{\"message\":{\"usage\":{\"input_tokens\":5}}}\n" +
		"{\"usage\":{\"output_tokens\":9}}\n"
	if string(up.Body) != wantBody {
		t.Errorf("upstream body:\ngot  %q\nwant %q", up.Body, wantBody)
	}
	if string(down.Body) != wantBody {
		t.Errorf("downstream body:\ngot  %q\nwant %q", down.Body, wantBody)
	}
}

func TestOpenStreamTranslate(t *testing.T) {
	t.Parallel()

	upstream := "data: {\"a\":1}\n\ndata: {\"b\":2}\n\n"
	m := &echoMachine{}
	done := make(chan struct{})
	var up, down StreamRecord
	rc := OpenStream(StreamSpec{
		Upstream:  io.NopCloser(strings.NewReader(upstream)),
		Machine:   m,
		UpUsage:   NewUsageAccumulator(gateway.UsageNone),
		DownUsage: NewUsageAccumulator(gateway.UsageNone),
		OnFinish: func(u, d StreamRecord) {
			up, down = u, d
			close(done)
		},
	})

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "event: echo\ndata: {\"a\":1}\n\n" +
		"event: echo\ndata: {\"b\":2}\n\n" +
		"event: final\ndata: {}\n\n"
	if string(got) != want {
		t.Errorf("translated stream:\ngot  %q\nwant %q", got, want)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnFinish never ran")
	}
	if !m.finalized {
		t.Error("machine never finalized")
	}

	// Upstream body holds the source frames; downstream body holds what the
	// machine emitted, including its Finalize output.
	if string(up.Body) != "{\"a\":1}\n{\"b\":2}\n" {
		t.Errorf("upstream body = %q", up.Body)
	}
	if string(down.Body) != "{\"a\":1}\n{\"b\":2}\n{}\n" {
		t.Errorf("downstream body = %q", down.Body)
	}
}

func TestOpenStreamClientGone(t *testing.T) {
	t.Parallel()

	// A closed downstream reader must still tear down the pipeline and run
	// OnFinish rather than leak the goroutines.
	pr, pw := io.Pipe()
	go func() {
		for i := 0; i < 100; i++ {
			if _, err := pw.Write([]byte("data: {\"n\":1}\n\n")); err != nil {
				return
			}
		}
		pw.Close()
	}()

	done := make(chan struct{})
	rc := OpenStream(StreamSpec{
		Upstream:  pr,
		Machine:   &echoMachine{},
		UpUsage:   NewUsageAccumulator(gateway.UsageNone),
		DownUsage: NewUsageAccumulator(gateway.UsageNone),
		OnFinish:  func(StreamRecord, StreamRecord) { close(done) },
	})

	buf := make([]byte, 16)
	if _, err := rc.Read(buf); err != nil {
		t.Fatalf("first read: %v", err)
	}
	rc.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not finish after client close")
	}
}

func TestOpenStreamPropagatesUpstreamError(t *testing.T) {
	t.Parallel()

	rc := OpenStream(StreamSpec{
		Upstream:  io.NopCloser(&failReader{data: []byte("data: {\"n\":1}\n\n")}),
		UpUsage:   NewUsageAccumulator(gateway.UsageNone),
		DownUsage: NewUsageAccumulator(gateway.UsageNone),
	})
	_, err := io.ReadAll(rc)
	if err == nil {
		t.Fatal("upstream read error swallowed")
	}
}

// failReader yields its data then fails.
type failReader struct {
	data []byte
	off  int
}

func (r *failReader) Read(p []byte) (int, error) {
	if r.off < len(r.data) {
		n := copy(p, r.data[r.off:])
		r.off += n
		return n, nil
	}
	return 0, io.ErrUnexpectedEOF
}
