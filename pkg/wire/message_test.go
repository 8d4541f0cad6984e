package wire

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	msg := FaultEventMessage("f1", "tile_0", "overheat", "major", 1700000000, map[string]interface{}{"temp_c": 55.0})
	if err := w.WriteMessage(msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := NewReader(&buf)
	got, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type() != MsgFaultEvent {
		t.Fatalf("expected msg_type fault_event, got %s", got.Type())
	}
	if got.String("node_id") != "tile_0" {
		t.Fatalf("expected node_id tile_0, got %s", got.String("node_id"))
	}
}

func TestReadMalformedLineThenContinues(t *testing.T) {
	input := "not json\n" + `{"msg_type":"status_request"}` + "\n"
	r := NewReader(strings.NewReader(input))

	_, err := r.ReadMessage()
	if err == nil {
		t.Fatalf("expected error on malformed first line")
	}
	var malformed *ErrMalformed
	if !isMalformed(err, &malformed) {
		t.Fatalf("expected *ErrMalformed, got %T", err)
	}

	msg, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("expected second line to parse: %v", err)
	}
	if msg.Type() != MsgStatusRequest {
		t.Fatalf("expected status_request, got %s", msg.Type())
	}
}

func TestReadEOF(t *testing.T) {
	r := NewReader(strings.NewReader(""))
	_, err := r.ReadMessage()
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func isMalformed(err error, target **ErrMalformed) bool {
	if e, ok := err.(*ErrMalformed); ok {
		*target = e
		return true
	}
	return false
}
