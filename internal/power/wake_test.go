package power

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseWakeCause(t *testing.T) {
	tests := []struct {
		in   string
		want WakeCause
	}{
		{"button", WakeButton},
		{"GPIO\n", WakeButton},
		{" key ", WakeButton},
		{"", WakePowerOn},
		{"power-on", WakePowerOn},
		{"reset", WakePowerOn},
		{"rtc", WakeUnknown},
	}
	for _, tt := range tests {
		if got := ParseWakeCause(tt.in); got != tt.want {
			t.Errorf("ParseWakeCause(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReadAndClearWakeLatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wake")
	if err := os.WriteFile(path, []byte("button\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cause, err := ReadAndClearWakeLatch(path)
	if err != nil {
		t.Fatalf("ReadAndClearWakeLatch() error: %v", err)
	}
	if cause != WakeButton {
		t.Errorf("cause = %v, want button", cause)
	}

	// The latch is consumed: a second read sees an empty file.
	cause, err = ReadAndClearWakeLatch(path)
	if err != nil {
		t.Fatalf("second read error: %v", err)
	}
	if cause != WakePowerOn {
		t.Errorf("second cause = %v, want power-on", cause)
	}
}

func TestReadAndClearWakeLatchMissing(t *testing.T) {
	cause, err := ReadAndClearWakeLatch(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cause != WakePowerOn {
		t.Errorf("cause = %v, want power-on", cause)
	}

	cause, err = ReadAndClearWakeLatch("")
	if err != nil || cause != WakePowerOn {
		t.Errorf("empty path = (%v, %v), want (power-on, nil)", cause, err)
	}
}
