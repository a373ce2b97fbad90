package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{gate: make(chan struct{})}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func TestAuditDisabledReturnsNilDispatcher(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, &countingSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}

	// Nil dispatcher must be safe to use.
	d.Emit(context.Background(), AuditEvent{EventType: "test"})
	if got := d.Dropped(); got != 0 {
		t.Fatalf("expected 0 dropped, got %d", got)
	}
	d.Close()
}

func TestAuditDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := &countingSink{}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 16}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: "test"})
	}
	d.Close()

	if got := sink.Count(); got != 5 {
		t.Fatalf("expected 5 delivered events, got %d", got)
	}
	if got := d.Dropped(); got != 0 {
		t.Fatalf("expected 0 dropped, got %d", got)
	}
}

func TestAuditDispatcherDropsWhenFull(t *testing.T) {
	sink := newGateSink()
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// The worker blocks on the first event; the buffer absorbs one more and
	// the rest must be counted as dropped, not block the caller.
	for i := 0; i < 6; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: "test"})
	}

	deadline := time.Now().Add(2 * time.Second)
	for d.Dropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := d.Dropped(); got == 0 {
		t.Fatal("expected dropped events under backpressure")
	}

	close(sink.gate)
	d.Close()
}

func TestAuditDispatcherCloseIdempotent(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1}, &countingSink{})
	d.Close()
	d.Close()

	// Emit after close is a no-op, not a panic.
	d.Emit(context.Background(), AuditEvent{EventType: "test"})
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{EventType: "first", Success: true})
	sink.Emit(context.Background(), AuditEvent{EventType: "second", Error: "boom"})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var event AuditEvent
	if err := json.Unmarshal(lines[1], &event); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if event.EventType != "second" || event.Error != "boom" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestEngineEmitsAuditOnFailedVerification(t *testing.T) {
	mr, rdb := newTestRedis(t)
	t.Cleanup(mr.Close)

	cfg := testConfig()
	cfg.Audit = AuditConfig{Enabled: true, BufferSize: 16}

	sink := NewChannelSink(16)
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithProvider(newMemProvider()).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	ctx := WithClientIP(context.Background(), "203.0.113.9")
	if _, err := engine.VerifyPassword(ctx, "nobody@example.com", "whatever"); err == nil {
		t.Fatal("expected verification failure")
	}

	select {
	case event := <-sink.Events():
		if event.EventType != "password.verify" {
			t.Fatalf("unexpected event type %q", event.EventType)
		}
		if event.Success {
			t.Fatal("expected failure event")
		}
		if event.IP != "203.0.113.9" {
			t.Fatalf("expected client IP on event, got %q", event.IP)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no audit event delivered")
	}
}
