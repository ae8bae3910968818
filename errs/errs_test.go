package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorStringIncludesVenueAndCode(t *testing.T) {
	err := New("hyperliquid", CodeVenueClient,
		WithHTTP(422),
		WithRawCode("91"),
		WithRawMessage("bad nonce"),
	)

	msg := err.Error()
	for _, want := range []string{"venue=hyperliquid", "code=venue_client", "http=422", `raw_code="91"`, `raw_msg="bad nonce"`} {
		if !strings.Contains(msg, want) {
			t.Fatalf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := New("hyperliquid", CodeNetwork, WithCause(cause))

	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is failed to match wrapped cause")
	}
}

func TestHasCodeMatchesWrappedEnvelope(t *testing.T) {
	inner := New("hyperliquid", CodeExclusive, WithMessage("userEvents already subscribed"))
	wrapped := fmt.Errorf("subscribe: %w", inner)

	if !HasCode(wrapped, CodeExclusive) {
		t.Fatalf("HasCode failed to find exclusive code through wrapping")
	}
	if HasCode(wrapped, CodeNetwork) {
		t.Fatalf("HasCode matched the wrong code")
	}
	if got := CodeOf(wrapped); got != CodeExclusive {
		t.Fatalf("CodeOf = %q, want %q", got, CodeExclusive)
	}
}

func TestDataIsSortedInErrorOutput(t *testing.T) {
	err := New("hyperliquid", CodeVenueClient, WithData(map[string]string{"b": "2", "a": "1"}))
	msg := err.Error()
	if !strings.Contains(msg, `data=a="1",b="2"`) {
		t.Fatalf("Error() = %q, want sorted data pairs", msg)
	}
}
