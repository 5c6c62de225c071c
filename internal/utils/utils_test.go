package utils

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "25", want: 25},
		{in: "30000/1001", want: 30000.0 / 1001.0},
		{in: " 60/1 ", want: 60},
		{in: "0/0", wantErr: true},
		{in: "N/A", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFrameRate(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseFrameRate(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseFrameRate(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestNewFFmpegEncoder_Args(t *testing.T) {
	cmd := NewFFmpegEncoder(context.Background(), "out.mp4", 29.97, 640, 360)
	args := strings.Join(cmd.Args, " ")
	for _, want := range []string{"-s 640x360", "-r 29.97", "-pix_fmt rgba", "out.mp4"} {
		if !strings.Contains(args, want) {
			t.Errorf("encoder args %q missing %q", args, want)
		}
	}
	if cmd.Stderr == nil || cmd.Cmd.Stderr == nil {
		t.Error("stderr should be captured")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame.png")

	if err := WriteFileAtomic(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "complete")
		return err
	}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "complete" {
		t.Fatalf("ReadFile = %q, %v", data, err)
	}

	// A failed write must leave the previous file and no temp files behind.
	boom := errors.New("encoder failed")
	err = WriteFileAtomic(path, func(w io.Writer) error {
		io.WriteString(w, "partial")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "complete" {
		t.Errorf("partial write leaked into %s: %q", path, data)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the target file, found %d entries", len(entries))
	}
}

func TestBackupExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "landmarks.json")

	made, err := BackupExisting(path)
	if err != nil || made {
		t.Fatalf("missing file: made=%v err=%v", made, err)
	}

	if err := os.WriteFile(path, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	made, err = BackupExisting(path)
	if err != nil || !made {
		t.Fatalf("existing file: made=%v err=%v", made, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("original should have been moved")
	}
	data, err := os.ReadFile(filepath.Join(dir, "landmarks.json.bak"))
	if err != nil || string(data) != "old" {
		t.Errorf("backup = %q, %v", data, err)
	}
}

func TestGenerateVideoID(t *testing.T) {
	// Integration test using the OS filesystem
	tmp, err := os.CreateTemp("", "video_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())

	// Write dummy content
	if _, err := tmp.Write([]byte("fake video content")); err != nil {
		t.Fatal(err)
	}
	tmp.Close()

	id, err := GenerateVideoID(tmp.Name())
	if err != nil || id == "" {
		t.Errorf("Failed to generate ID: %v", err)
	}

	// Verify Determinism
	id2, _ := GenerateVideoID(tmp.Name())
	if id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	// Verify Sensitivity (Change content -> Change ID)
	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	id3, _ := GenerateVideoID(tmp.Name())
	if id == id3 {
		t.Errorf("Hash did not change after file modification: %s", id3)
	}
}
