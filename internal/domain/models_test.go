package domain

import "testing"

func TestFormatAddr(t *testing.T) {
	if got := FormatAddr(0x0013A20040A12345); got != "!0013a20040a12345" {
		t.Fatalf("unexpected formatted address: %q", got)
	}
}

func TestParseAddrForms(t *testing.T) {
	cases := []struct {
		raw  string
		want uint64
	}{
		{"!0013a20040a12345", 0x0013A20040A12345},
		{"0x13a20040a12345", 0x13A20040A12345},
		{"13a20040a12345", 0x13A20040A12345},
		{"65535", 65535},
		{"  !ffff  ", 0xFFFF},
	}

	for _, c := range cases {
		got, err := ParseAddr(c.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", c.raw, err)
		}
		if got != c.want {
			t.Fatalf("parse %q: got 0x%x, want 0x%x", c.raw, got, c.want)
		}
	}
}

func TestParseAddrRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "   ", "!zz", "0xzz", "meshy"} {
		if _, err := ParseAddr(raw); err == nil {
			t.Fatalf("expected parse error for %q", raw)
		}
	}
}

func TestParseAddrRoundTripsFormat(t *testing.T) {
	addr := uint64(0x0102030405060708)
	got, err := ParseAddr(FormatAddr(addr))
	if err != nil {
		t.Fatalf("parse formatted address: %v", err)
	}
	if got != addr {
		t.Fatalf("round trip mismatch: got 0x%x", got)
	}
}
