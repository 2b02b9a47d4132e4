package stream

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestService wires a registry and service around a fake encoder script.
func newTestService(t *testing.T, script string) (*Service, *Registry) {
	t.Helper()
	reg := NewRegistry()
	svc := NewService(reg, testLogger(), Config{
		HLSRoot:       t.TempDir(),
		FFmpegPath:    writeScript(t, script),
		PublicBaseURL: "http://localhost:8080",
	})
	return svc, reg
}

// waitForStatus polls until the stream reaches the wanted status or the
// deadline passes.
func waitForStatus(t *testing.T, svc *Service, id StreamID, want Status) Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := svc.Get(id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if rec.Status == want {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	rec, _ := svc.Get(id)
	t.Fatalf("stream %s never reached %s, last status %s (lastError %q)", id, want, rec.Status, rec.LastError)
	return Record{}
}

func TestService_Create_invalid_source(t *testing.T) {
	svc, reg := newTestService(t, "sleep 30")

	for _, src := range []string{"", "http://cam.example/live", "rtmp://cam.example/live"} {
		_, err := svc.Create(src)
		if !errors.Is(err, ErrInvalidSource) {
			t.Errorf("Create(%q): expected ErrInvalidSource, got %v", src, err)
		}
	}
	if reg.Count() != 0 {
		t.Errorf("invalid requests must not create registry entries, got %d", reg.Count())
	}
}

func TestService_Create_unique_ids(t *testing.T) {
	svc, _ := newTestService(t, "sleep 30")

	rec1, err := svc.Create("rtsp://cam.example/live")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rec2, err := svc.Create("rtsp://cam.example/live")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer svc.Stop(rec1.ID)
	defer svc.Stop(rec2.ID)

	if rec1.ID == rec2.ID {
		t.Errorf("same source URL must still get unique ids, both %s", rec1.ID)
	}
	if rec1.Status != StatusStarting {
		t.Errorf("creation should return starting, got %s", rec1.Status)
	}
	if rec1.OutputDir == rec2.OutputDir {
		t.Error("output directories must be unique per id")
	}
	if _, err := os.Stat(rec1.OutputDir); err != nil {
		t.Errorf("output directory missing: %v", err)
	}
}

func TestService_Create_launch_failure(t *testing.T) {
	reg := NewRegistry()
	svc := NewService(reg, testLogger(), Config{
		HLSRoot:    t.TempDir(),
		FFmpegPath: filepath.Join(t.TempDir(), "no-such-binary"),
	})

	_, err := svc.Create("rtsp://cam.example/live")
	if !errors.Is(err, ErrLaunch) {
		t.Fatalf("expected ErrLaunch, got %v", err)
	}

	// The record is kept, marked failed, so the error stays inspectable.
	recs := svc.List()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].Status != StatusFailed || recs[0].LastError == "" {
		t.Errorf("got status %s lastError %q", recs[0].Status, recs[0].LastError)
	}
}

func TestService_monitor_encoder_failure(t *testing.T) {
	svc, _ := newTestService(t, "echo cannot open input >&2\nexit 1")

	rec, err := svc.Create("rtsp://cam.example/live")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got := waitForStatus(t, svc, rec.ID, StatusFailed)
	if !strings.Contains(got.LastError, "cannot open input") {
		t.Errorf("lastError should carry encoder diagnostics, got %q", got.LastError)
	}
}

func TestService_clean_exit_reported_stopped(t *testing.T) {
	svc, _ := newTestService(t, "exit 0")

	rec, err := svc.Create("rtsp://cam.example/live")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// A finite input that finishes cleanly is no longer running; status
	// reads reconcile it to stopped.
	waitForStatus(t, svc, rec.ID, StatusStopped)
}

func TestService_Stop(t *testing.T) {
	svc, reg := newTestService(t, "sleep 30")

	rec, err := svc.Create("rtsp://cam.example/live")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	detail, err := svc.Stop(rec.ID)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if detail != "" {
		t.Errorf("clean stop should have no detail, got %q", detail)
	}

	if _, err := svc.Get(rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Stop: expected ErrNotFound, got %v", err)
	}
	if _, err := os.Stat(rec.OutputDir); !os.IsNotExist(err) {
		t.Errorf("output directory should be gone, stat err %v", err)
	}
	if reg.Count() != 0 {
		t.Errorf("registry should be empty, got %d", reg.Count())
	}

	t.Run("second_stop_not_found", func(t *testing.T) {
		if _, err := svc.Stop(rec.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestService_reconcile_out_of_band_exit(t *testing.T) {
	svc, _ := newTestService(t, "sleep 30")

	rec, err := svc.Create("rtsp://cam.example/live")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer svc.Stop(rec.ID)

	// Kill the encoder behind the service's back, as an external actor would.
	if err := rec.Proc.cmd.Process.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	<-rec.Proc.Done()

	got, err := svc.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusStopped {
		t.Errorf("expected stopped after out-of-band exit, got %s", got.Status)
	}

	t.Run("list_reconciles_too", func(t *testing.T) {
		for _, r := range svc.List() {
			if r.ID == rec.ID && r.Status != StatusStopped {
				t.Errorf("List status: got %s", r.Status)
			}
		}
	})
}

func TestService_List_excludes_stopped_concurrently(t *testing.T) {
	svc, _ := newTestService(t, "sleep 30")

	var ids []StreamID
	for i := 0; i < 5; i++ {
		rec, err := svc.Create("rtsp://cam.example/live")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, rec.ID)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = svc.List()
			}
		}
	}()

	for _, id := range ids {
		if _, err := svc.Stop(id); err != nil {
			t.Errorf("Stop %s: %v", id, err)
		}
		for _, rec := range svc.List() {
			if rec.ID == id {
				t.Errorf("List contains stopped id %s", id)
			}
		}
	}
	close(stop)
	wg.Wait()

	if got := len(svc.List()); got != 0 {
		t.Errorf("expected empty list, got %d", got)
	}
}

func TestService_PlaybackURL(t *testing.T) {
	svc := NewService(NewRegistry(), testLogger(), Config{PublicBaseURL: "http://media.example/"})
	got := svc.PlaybackURL("abc")
	want := "http://media.example/streams/abc/files/stream.m3u8"
	if got != want {
		t.Errorf("PlaybackURL: got %s, want %s", got, want)
	}
}

func TestService_Info_segment_count(t *testing.T) {
	svc, reg := newTestService(t, "sleep 30")

	dir := t.TempDir()
	rec := &Record{ID: "s1", SourceURL: "rtsp://cam/1", OutputDir: dir, Status: StatusActive}
	if err := reg.Register(rec); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), []byte(samplePlaylist), 0o644); err != nil {
		t.Fatal(err)
	}

	info := svc.Info(*rec, true)
	if info.SegmentCount != 3 {
		t.Errorf("SegmentCount: got %d", info.SegmentCount)
	}

	t.Run("without_segments", func(t *testing.T) {
		info := svc.Info(*rec, false)
		if info.SegmentCount != 0 {
			t.Errorf("SegmentCount should be omitted for list views, got %d", info.SegmentCount)
		}
	})
}

func TestService_Diagnostics(t *testing.T) {
	svc, _ := newTestService(t, "exit 0")

	available, count := svc.Diagnostics(context.Background())
	if !available {
		t.Error("probe against the fake encoder should succeed")
	}
	if count != 0 {
		t.Errorf("stream count: got %d", count)
	}

	t.Run("missing_binary", func(t *testing.T) {
		bad := NewService(NewRegistry(), testLogger(), Config{FFmpegPath: filepath.Join(t.TempDir(), "nope")})
		available, _ := bad.Diagnostics(context.Background())
		if available {
			t.Error("probe against a missing binary should fail")
		}
	})
}
