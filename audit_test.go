package walletauth

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	events  []AuditEvent
}

func (s *blockingSink) Emit(_ context.Context, ev AuditEvent) {
	<-s.release
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

type panicSink struct {
	calls int
	mu    sync.Mutex
}

func (s *panicSink) Emit(context.Context, AuditEvent) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	panic("sink exploded")
}

func TestAuditDispatcherDisabledIsNil(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, NoOpSink{}, nil)
	if d != nil {
		t.Fatal("disabled dispatcher should be nil")
	}
	d.Emit(context.Background(), AuditEvent{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher drops nothing")
	}
}

func TestAuditDispatcherDropsWhenFull(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sink := &blockingSink{release: make(chan struct{})}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink, zap.New(core))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Emit(context.Background(), AuditEvent{EventType: "e"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked with DropIfFull")
	}

	if d.Dropped() == 0 {
		t.Fatal("expected dropped events")
	}
	if logs.FilterMessage("audit buffer full, dropping events").Len() == 0 {
		t.Fatal("expected a drop warning")
	}

	close(sink.release)
	d.Close()
}

func TestAuditDispatcherDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(16)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 8}, sink, nil)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: "e"})
	}
	d.Close()
	d.Close()

	if got := len(sink.Events()); got != 5 {
		t.Fatalf("expected 5 delivered events, got %d", got)
	}

	d.Emit(context.Background(), AuditEvent{EventType: "late"})
	if got := len(sink.Events()); got != 5 {
		t.Fatal("emit after close must be ignored")
	}
}

func TestAuditDispatcherSurvivesPanickingSink(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	sink := &panicSink{}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 4}, sink, zap.New(core))

	d.Emit(context.Background(), AuditEvent{EventType: "a"})
	d.Emit(context.Background(), AuditEvent{EventType: "b"})
	d.Close()

	sink.mu.Lock()
	calls := sink.calls
	sink.mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected both events delivered, got %d", calls)
	}
	if logs.FilterMessage("audit sink panicked").Len() != 2 {
		t.Fatal("expected panic to be logged")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{EventType: "otp_requested", Subject: "a@b.co", Success: true})

	var decoded AuditEvent
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("invalid json line %q: %v", buf.String(), err)
	}
	if decoded.EventType != "otp_requested" || decoded.Subject != "a@b.co" {
		t.Fatalf("unexpected event %+v", decoded)
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	a, b := NewChannelSink(1), NewChannelSink(1)
	MultiSink{a, nil, b}.Emit(context.Background(), AuditEvent{EventType: "wallet_unlinked"})

	for i, s := range []*ChannelSink{a, b} {
		select {
		case e := <-s.Events():
			if e.EventType != "wallet_unlinked" {
				t.Fatalf("sink %d got %q", i, e.EventType)
			}
		default:
			t.Fatalf("sink %d received nothing", i)
		}
	}
}

func TestZapAuditSinkLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewZapAuditSink(zap.New(core))

	sink.Emit(context.Background(), AuditEvent{EventType: "wallet_verify_success", Success: true, UserID: "u1", Metadata: map[string]string{"new_user": "true"}})
	sink.Emit(context.Background(), AuditEvent{EventType: "otp_verify_failure", Error: "invalid_otp", Subject: "a@b.co"})

	all := logs.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}
	if all[0].Level != zapcore.InfoLevel || all[0].LoggerName != "audit" {
		t.Fatalf("unexpected success entry %+v", all[0].Entry)
	}
	if all[0].ContextMap()["meta.new_user"] != "true" {
		t.Fatalf("expected metadata field, got %v", all[0].ContextMap())
	}
	if all[1].Level != zapcore.WarnLevel || all[1].ContextMap()["error"] != "invalid_otp" {
		t.Fatalf("unexpected failure entry %+v", all[1])
	}
}

func TestEngineEmitsAuditTrail(t *testing.T) {
	sink := NewChannelSink(64)
	cfg := testConfig()
	cfg.Audit.Enabled = true
	env := newTestEnv(t, cfg, withAuditSink(sink))

	ctx := WithClientIP(context.Background(), "203.0.113.9")
	if _, err := env.engine.RequestEmailOTP(ctx, "hank@example.com"); err != nil {
		t.Fatalf("RequestEmailOTP failed: %v", err)
	}
	wrong := []byte(env.mailer.lastCode(t, "hank@example.com"))
	wrong[0] = '0' + (wrong[0]-'0'+1)%10
	if _, err := env.engine.VerifyEmailOTP(ctx, "hank@example.com", string(wrong)); err == nil {
		t.Fatal("expected wrong code to fail")
	}
	env.engine.audit.Close()

	var types []string
	for len(sink.Events()) > 0 {
		ev := <-sink.Events()
		types = append(types, ev.EventType)
		if ev.IP != "203.0.113.9" {
			t.Fatalf("expected ip on %s, got %q", ev.EventType, ev.IP)
		}
		if ev.EventType == auditEventOTPVerifyFailure && ev.Error != string(auditErrInvalidOTP) {
			t.Fatalf("expected invalid_otp error code, got %q", ev.Error)
		}
	}

	joined := strings.Join(types, ",")
	if joined != auditEventOTPRequested+","+auditEventOTPVerifyFailure {
		t.Fatalf("unexpected audit trail %s", joined)
	}
}
