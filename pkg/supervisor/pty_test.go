package supervisor

import "testing"

func TestStripANSIRemovesCSISequences(t *testing.T) {
	input := "\x1b[1;32mok\x1b[0m\n"
	if got := StripANSI(input); got != "ok\n" {
		t.Fatalf("StripANSI(%q) = %q, want %q", input, got, "ok\n")
	}
}

func TestStripANSIRemovesOSCSequences(t *testing.T) {
	input := "\x1b]0;window title\x07visible"
	if got := StripANSI(input); got != "visible" {
		t.Fatalf("StripANSI(%q) = %q, want %q", input, got, "visible")
	}
}

func TestStripANSIPassesThroughPlainText(t *testing.T) {
	input := "no escapes here"
	if got := StripANSI(input); got != input {
		t.Fatalf("StripANSI(%q) = %q, want unchanged", input, got)
	}
}
