package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/beacon/beacon/internal/model"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Forward(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	p := NewKafkaPublisher(w)

	ev := validEvent()
	ev.EventType = model.EventClick
	ev.CustomData = model.Data{"elementTag": model.String("button")}

	if err := p.Forward(context.Background(), ev); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(w.msgs))
	}

	msg := w.msgs[0]
	if string(msg.Key) != ev.TrackingID {
		t.Errorf("key = %q, want %q", msg.Key, ev.TrackingID)
	}
	if !msg.Time.Equal(ev.ReceivedAt) {
		t.Errorf("time = %v, want %v", msg.Time, ev.ReceivedAt)
	}
	if len(msg.Headers) != 1 || msg.Headers[0].Key != "event_type" || string(msg.Headers[0].Value) != model.EventClick {
		t.Errorf("headers = %+v", msg.Headers)
	}

	var decoded model.Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("unmarshal value: %v", err)
	}
	if decoded.VisitorID != ev.VisitorID || !decoded.CustomData.Equal(ev.CustomData) {
		t.Errorf("decoded = %+v, want %+v", decoded, ev)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("Close() = %v, closed = %v", err, w.closed)
	}
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	t.Parallel()

	boom := errors.New("broker down")
	p := NewKafkaPublisher(&fakeWriter{err: boom})

	if err := p.Forward(context.Background(), validEvent()); !errors.Is(err, boom) {
		t.Fatalf("Forward() error = %v, want wrapped %v", err, boom)
	}
}
