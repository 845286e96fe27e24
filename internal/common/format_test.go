package common

import (
	"bytes"
	"strings"
	"testing"
)

func TestShortHash(t *testing.T) {
	tests := []struct {
		hash string
		want string
	}{
		{"", "none"},
		{"0xabc", "0xabc"},
		{"0x1234567890abcdef", "0x1234567890..."},
	}

	for _, tt := range tests {
		if got := ShortHash(tt.hash); got != tt.want {
			t.Errorf("ShortHash(%q) = %q, want %q", tt.hash, got, tt.want)
		}
	}
}

func TestPrintHeader(t *testing.T) {
	var buf bytes.Buffer
	PrintHeader(&buf, "REPORT", 10)

	lines := strings.Split(strings.TrimPrefix(buf.String(), "\n"), "\n")
	if len(lines) < 3 {
		t.Fatalf("Expected at least 3 lines, got %q", buf.String())
	}
	if lines[0] != "==========" || lines[1] != "REPORT" || lines[2] != "==========" {
		t.Errorf("Unexpected header: %q", buf.String())
	}
}

func TestBoxPrefixes(t *testing.T) {
	if BoxPrefix(true) == BoxPrefix(false) {
		t.Error("Last item prefix should differ from inner item prefix")
	}
	if strings.TrimSpace(BoxDetailPrefix(true)) != "" {
		t.Errorf("Detail prefix under the last item should be blank, got %q", BoxDetailPrefix(true))
	}
}
