package term

import (
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Term{
		FromString([]byte("hello")),
		FromString(nil),
		FromI64(-42),
		FromI64(0),
		FromBool(true),
		FromBool(false),
		FromTime(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
	}
	for _, want := range cases {
		got, err := Decode(want.Encode())
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if !got.Equal(want) {
			t.Fatalf("round trip mismatch: got %v, want %v", got, want)
		}
	}
}

func TestEqualAcrossKinds(t *testing.T) {
	if FromI64(1).Equal(FromBool(true)) {
		t.Fatalf("distinct kinds with the same underlying int64 must not be equal")
	}
}

func TestDecodeRejectsBadLength(t *testing.T) {
	if _, err := Decode([]byte{byte(KindI64), 1, 2, 3}); err == nil {
		t.Fatalf("expected an error decoding a truncated numeric term")
	}
}

func TestDecodeRejectsEmpty(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatalf("expected an error decoding an empty term")
	}
}

func TestStringFormatting(t *testing.T) {
	if got, want := FromString([]byte("x")).String(), "x"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	if got, want := FromI64(5).String(), "5"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	if got, want := FromBool(true).String(), "true"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
