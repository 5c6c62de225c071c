package landmarks

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/steady/internal/geometry"
	"github.com/andresmejia3/steady/internal/pipeline"
	"github.com/google/go-cmp/cmp"
)

func sampleFile() *File {
	face := pipeline.Detection{
		Points:     []geometry.Point{{X: 1, Y: 2}, {X: 3, Y: 4}},
		Confidence: 0.75,
		Box:        geometry.Rect{MinX: 0, MinY: 0, MaxX: 10, MaxY: 12},
	}
	return &File{
		Version:   FormatVersion,
		Landmarks: 2,
		Frames: []Frame{
			{Index: 0, Source: "frames/0000.png", Faces: []pipeline.Detection{face}},
			{Index: 1, Source: "frames/0001.png", Faces: []pipeline.Detection{}},
		},
	}
}

func TestEncodeDecode(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, sampleFile()); err != nil {
		t.Fatal(err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(sampleFile(), got); diff != "" {
		t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{name: "garbage", json: `{"version":`},
		{name: "future version", json: `{"version":2,"landmarks":2,"frames":[]}`},
		{name: "zero cardinality", json: `{"version":1,"landmarks":0,"frames":[]}`},
		{name: "duplicate frame", json: `{"version":1,"landmarks":1,"frames":[{"index":0,"faces":[]},{"index":0,"faces":[]}]}`},
		{name: "wrong point count", json: `{"version":1,"landmarks":3,"frames":[{"index":0,"faces":[{"points":[{"x":1,"y":1}],"confidence":1}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(bytes.NewBufferString(tt.json)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSave_BacksUpExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "landmarks.json")
	if err := os.WriteFile(path, []byte("previous run"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := Save(path, sampleFile()); err != nil {
		t.Fatal(err)
	}

	backup, err := os.ReadFile(path + ".bak")
	if err != nil || string(backup) != "previous run" {
		t.Errorf("backup = %q, %v", backup, err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(sampleFile(), got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestFromRecords(t *testing.T) {
	det := pipeline.Detection{Points: []geometry.Point{{X: 5, Y: 5}, {X: 6, Y: 9}}, Confidence: 0.9}
	records := []pipeline.FrameRecord{
		{Index: 0, Candidates: []pipeline.Detection{det}, Chosen: 0},
		{Index: 1, Chosen: -1, Absence: pipeline.AbsentNoFace},
	}
	got := FromRecords(2, records, []string{"a.png", "b.png"})
	want := &File{
		Version:   FormatVersion,
		Landmarks: 2,
		Frames: []Frame{
			{Index: 0, Source: "a.png", Faces: []pipeline.Detection{det}},
			{Index: 1, Source: "b.png", Faces: []pipeline.Detection{}},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FromRecords() mismatch (-want +got):\n%s", diff)
	}
}

func TestFileSource(t *testing.T) {
	src := NewFileSource(sampleFile())
	if src.Landmarks() != 2 {
		t.Errorf("Landmarks() = %d, want 2", src.Landmarks())
	}

	faces, err := src.Detect(context.Background(), pipeline.Frame{Index: 0})
	if err != nil || len(faces) != 1 {
		t.Fatalf("Detect(0) = %v, %v", faces, err)
	}

	faces, err = src.Detect(context.Background(), pipeline.Frame{Index: 1})
	if err != nil || len(faces) != 0 {
		t.Errorf("Detect(1) = %v, %v; want no faces", faces, err)
	}

	if _, err := src.Detect(context.Background(), pipeline.Frame{Index: 7}); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Detect(7) error = %v, want ErrNoFrame", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Detect(ctx, pipeline.Frame{Index: 0}); !errors.Is(err, context.Canceled) {
		t.Errorf("Detect with cancelled context = %v", err)
	}
}
