package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/andresmejia3/steady/internal/geometry"
	"github.com/andresmejia3/steady/internal/pipeline"
	"github.com/andresmejia3/steady/internal/smoother"
	"github.com/google/go-cmp/cmp"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestParamsRoundTrip(t *testing.T) {
	want := geometry.NewSimilarity(1.25, -0.5, 3, 4)
	got, err := fromParams(params(want))
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, err := fromParams([]float64{1, 2}); err == nil {
		t.Error("expected error for a short parameter array")
	}
}

func TestFlatten(t *testing.T) {
	pts := []geometry.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}
	flat := flatten(pts)
	if diff := cmp.Diff([]float64{1, 2, 3, 4}, flat); diff != "" {
		t.Errorf("flatten mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(pts, unflatten(flat)); diff != "" {
		t.Errorf("unflatten mismatch (-want +got):\n%s", diff)
	}
}

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Explicitly check for Docker availability and fail hard if missing
	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("steady_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// --- Test Scenarios ---

	const videoID = "vid_123"
	if _, ok, err := s.LoadDetections(ctx, videoID); err != nil || ok {
		t.Fatalf("expected cache miss for an unknown video, got ok=%v err=%v", ok, err)
	}

	face := pipeline.Detection{
		Points:     []geometry.Point{{X: 10, Y: 10}, {X: 20, Y: 10}, {X: 15, Y: 20}},
		Confidence: 0.9,
		Box:        geometry.Rect{MinX: 5, MinY: 5, MaxX: 25, MaxY: 25},
	}
	other := pipeline.Detection{
		Points:     []geometry.Point{{X: 50, Y: 50}, {X: 60, Y: 50}, {X: 55, Y: 60}},
		Confidence: 0.4,
	}
	records := []pipeline.FrameRecord{
		{Index: 0, Candidates: []pipeline.Detection{face, other}, Chosen: 0, Raw: geometry.NewSimilarity(1, 0, 2, 3), HasRaw: true,
			Smoothed: geometry.NewSimilarity(1, 0, 2, 3), State: smoother.StateTracking},
		{Index: 1, Chosen: -1, Absence: pipeline.AbsentNoFace,
			Smoothed: geometry.NewSimilarity(1, 0, 2, 3), State: smoother.StateTracking},
		{Index: 2, Candidates: []pipeline.Detection{face}, Chosen: 0, Raw: geometry.NewSimilarity(1.1, 0.1, 4, 5), HasRaw: true,
			Smoothed: geometry.NewSimilarity(1.05, 0.05, 3, 4), State: smoother.StateTracking},
	}

	if err := s.EnsureVideoMetadata(ctx, videoID, "/tmp/video.mp4"); err != nil {
		t.Fatalf("EnsureVideoMetadata failed: %v", err)
	}
	if err := s.SaveDetections(ctx, videoID, 3, records); err != nil {
		t.Fatalf("SaveDetections failed: %v", err)
	}
	// Saving again must replace, not duplicate
	if err := s.SaveDetections(ctx, videoID, 3, records); err != nil {
		t.Fatalf("SaveDetections (second) failed: %v", err)
	}

	f, ok, err := s.LoadDetections(ctx, videoID)
	if err != nil || !ok {
		t.Fatalf("LoadDetections failed: ok=%v err=%v", ok, err)
	}
	if f.Landmarks != 3 || len(f.Frames) != 3 {
		t.Fatalf("expected 3 frames of 3 landmarks, got %d frames of %d", len(f.Frames), f.Landmarks)
	}
	if diff := cmp.Diff([]pipeline.Detection{face, other}, f.Frames[0].Faces); diff != "" {
		t.Errorf("frame 0 faces mismatch (-want +got):\n%s", diff)
	}
	if len(f.Frames[1].Faces) != 0 {
		t.Errorf("expected frame 1 to have no faces, got %d", len(f.Frames[1].Faces))
	}

	runID, err := s.SaveRun(ctx, videoID, RunSettings{Template: "custom", Mode: "centered", Window: 5, GapPolicy: "hold"}, records)
	if err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	transforms, err := s.RunTransforms(ctx, runID)
	if err != nil {
		t.Fatalf("RunTransforms failed: %v", err)
	}
	if len(transforms) != 3 {
		t.Fatalf("Expected 3 transforms, got %d", len(transforms))
	}
	if transforms[1].Raw != nil || transforms[1].Absence != string(pipeline.AbsentNoFace) {
		t.Errorf("Expected frame 1 absent with no raw transform, got %+v", transforms[1])
	}
	if transforms[2].Raw == nil || *transforms[2].Raw != records[2].Raw {
		t.Errorf("Expected frame 2 raw %v, got %+v", records[2].Raw, transforms[2].Raw)
	}
	if transforms[2].Smoothed != records[2].Smoothed || transforms[2].State != "tracking" {
		t.Errorf("Unexpected frame 2 smoothed row %+v", transforms[2])
	}

	runs, err := s.ListRuns(ctx, videoID)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != runID || runs[0].Frames != 3 || runs[0].Absent != 1 {
		t.Errorf("Unexpected runs %+v", runs)
	}

	videos, err := s.ListVideos(ctx)
	if err != nil {
		t.Fatalf("ListVideos failed: %v", err)
	}
	if len(videos) != 1 || videos[0].Frames != 3 || videos[0].Runs != 1 {
		t.Errorf("Unexpected videos %+v", videos)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := s.ListVideos(ctx); err == nil {
		t.Error("Expected ListVideos to fail after Reset dropped the tables")
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
