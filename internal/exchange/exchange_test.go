package exchange

import (
	"context"
	"testing"

	"github.com/foggle/foggle/config"
	"github.com/foggle/foggle/internal/schema"
)

type nopAdapter struct{ name string }

func (a nopAdapter) Name() string                     { return a.name }
func (a nopAdapter) Connect(context.Context) error    { return nil }
func (a nopAdapter) Disconnect(context.Context) error { return nil }
func (a nopAdapter) SubscribeTrades(context.Context, schema.Contract, TradesCallback) error {
	return nil
}
func (a nopAdapter) SubscribeOrderBook(context.Context, schema.Contract, BookCallback) error {
	return nil
}
func (a nopAdapter) SubscribeCandles(context.Context, schema.Contract, string, CandlesCallback) error {
	return nil
}

func factory(name string) Factory {
	return func(config.VenueSettings) (Adapter, error) {
		return nopAdapter{name: name}, nil
	}
}

func TestRegistryConstructsRegisteredAdapter(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("hyperliquid", factory("hyperliquid")); err != nil {
		t.Fatalf("register: %v", err)
	}
	adapter, err := r.New("hyperliquid", config.VenueSettings{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if adapter.Name() != "hyperliquid" {
		t.Fatalf("Name() = %q", adapter.Name())
	}
}

func TestRegistryRejectsDuplicateAndUnknown(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("hyperliquid", factory("hyperliquid")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("hyperliquid", factory("other")); err == nil {
		t.Fatal("duplicate registration accepted")
	}
	if _, err := r.New("binance", config.VenueSettings{}); err == nil {
		t.Fatal("unknown venue constructed")
	}
}

func TestRegistryRejectsEmptyRegistration(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("", factory("x")); err == nil {
		t.Fatal("empty name accepted")
	}
	if err := r.Register("x", nil); err == nil {
		t.Fatal("nil factory accepted")
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"kraken", "binance", "hyperliquid"} {
		if err := r.Register(name, factory(name)); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	names := r.Names()
	want := []string{"binance", "hyperliquid", "kraken"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i, name := range want {
		if names[i] != name {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
}
