package web

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseCPUTempC(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"52345\n", 52.345},
		{"52", 52},
	}
	for _, tc := range cases {
		got, err := parseCPUTempC(tc.in)
		if err != nil {
			t.Fatalf("parseCPUTempC(%q): %v", tc.in, err)
		}
		if got < tc.want-1e-9 || got > tc.want+1e-9 {
			t.Fatalf("parseCPUTempC(%q)=%v want %v", tc.in, got, tc.want)
		}
	}
	if _, err := parseCPUTempC("\n"); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestReadCPUTempC(t *testing.T) {
	p := filepath.Join(t.TempDir(), "temp")
	if err := os.WriteFile(p, []byte("42000\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	v, err := readCPUTempC(p)
	if err != nil {
		t.Fatalf("readCPUTempC: %v", err)
	}
	if v != 42.0 {
		t.Fatalf("v=%v want 42", v)
	}
	if _, err := readCPUTempC(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
