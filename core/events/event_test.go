package events

import "testing"

type testEvent string

func (e testEvent) EventType() string { return string(e) }

func TestBufferFlushesInOrder(t *testing.T) {
	var buf Buffer
	buf.Emit(testEvent("a"))
	buf.Emit(nil)
	buf.Emit(testEvent("b"))

	rec := &Recorder{}
	buf.Flush(Fanout{rec, NoopEmitter{}, nil})

	got := rec.Events()
	if len(got) != 2 || got[0].EventType() != "a" || got[1].EventType() != "b" {
		t.Fatalf("unexpected events: %v", got)
	}
	if len(buf.Events()) != 0 {
		t.Fatalf("buffer not emptied after flush")
	}
}

func TestBufferReset(t *testing.T) {
	var buf Buffer
	buf.Emit(testEvent("a"))
	buf.Reset()
	rec := &Recorder{}
	buf.Flush(rec)
	if len(rec.Events()) != 0 {
		t.Fatalf("reset buffer still delivered events")
	}
}
