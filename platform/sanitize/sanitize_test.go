package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestLineCollapsesWhitespaceAndTags(t *testing.T) {
	got := Line("  <b>12</b>\tMG   Road,\n Pune ")
	if got != "12 MG Road, Pune" {
		t.Fatalf("unexpected line: %q", got)
	}
}

func TestInboundTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("₹", MaxInboundText)
	got := Inbound(long)
	if len(got) > MaxInboundText {
		t.Fatalf("expected at most %d bytes, got %d", MaxInboundText, len(got))
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a rune")
	}
}

func TestInboundKeepsNewlines(t *testing.T) {
	if got := Inbound("line one\x00\nline two "); got != "line one\nline two" {
		t.Fatalf("unexpected inbound text: %q", got)
	}
}
