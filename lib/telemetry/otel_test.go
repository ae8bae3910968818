package telemetry

import (
	"context"
	"testing"

	"github.com/foggle/foggle/config"
)

func TestInitWithoutEndpointReturnsNoop(t *testing.T) {
	providers, shutdown, err := Init(context.Background(), config.TelemetrySettings{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if providers.MeterProvider == nil {
		t.Fatal("meter provider must never be nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		raw      string
		host     string
		insecure bool
	}{
		{"http://collector:4318", "collector:4318", true},
		{"https://collector.example.com", "collector.example.com", false},
		{"collector:4318", "collector:4318", true},
	}
	for _, tc := range cases {
		host, insecure, err := parseEndpoint(tc.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if host != tc.host || insecure != tc.insecure {
			t.Errorf("parse %q = (%q, %v), want (%q, %v)", tc.raw, host, insecure, tc.host, tc.insecure)
		}
	}
}
