package natsutil

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
)

func TestHeaderCarrier(t *testing.T) {
	h := make(nats.Header)
	carrier := headerCarrier(h)

	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}
	if keys := carrier.Keys(); len(keys) != 1 || keys[0] != "Traceparent" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestHeaderCarrierEmpty(t *testing.T) {
	carrier := headerCarrier(make(nats.Header))
	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if keys := carrier.Keys(); len(keys) != 0 {
		t.Fatalf("expected no keys, got %v", keys)
	}
}

func TestExtractNoHeaders(t *testing.T) {
	base := context.Background()
	msg := &nats.Msg{Subject: "engine.properties"}
	if got := Extract(base, msg); got != base {
		t.Fatal("expected base context back for a header-less message")
	}
}

func TestExtractWithHeaders(t *testing.T) {
	msg := nats.NewMsg("engine.properties")
	msg.Header.Set("traceparent", "00-0123456789abcdef0123456789abcdef-0123456789abcdef-01")

	// With the default no-op propagator this is a pass-through; the point
	// is that headered messages take the extraction path without panicking.
	if got := Extract(context.Background(), msg); got == nil {
		t.Fatal("expected a context")
	}
}
