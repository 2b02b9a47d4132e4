package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// monitorTimeout is how long the monitor waits for the encoder to exit.
	// A live source is expected to outlive it; hitting the timeout is the
	// normal steady state and is treated as "active". This is a heuristic:
	// a still-running encoder is assumed to be producing playable output.
	monitorTimeout = 30 * time.Second

	// readyGrace is how long the readiness check waits before looking for
	// the playlist on disk.
	readyGrace = 5 * time.Second

	// probeTimeout bounds the ffmpeg -version diagnostics probe.
	probeTimeout = 5 * time.Second
)

// Config carries the service's startup settings.
type Config struct {
	// HLSRoot is the directory under which each stream gets its own
	// output subdirectory.
	HLSRoot string
	// FFmpegPath is the encoder binary to invoke.
	FFmpegPath string
	// PublicBaseURL is the externally reachable base used to build
	// playback URLs.
	PublicBaseURL string
}

// Service orchestrates the registry and per-stream supervisors to implement
// the create/status/list/stop lifecycle.
type Service struct {
	registry *Registry
	log      *slog.Logger
	cfg      Config
}

// NewService returns a Service using the given registry and configuration.
func NewService(registry *Registry, log *slog.Logger, cfg Config) *Service {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.HLSRoot == "" {
		cfg.HLSRoot = "hls_streams"
	}
	return &Service{registry: registry, log: log, cfg: cfg}
}

// Create validates sourceURL, allocates an id and output directory, registers
// the record and launches the encoder. It returns as soon as the process is
// started: the record is still "starting" and clients are expected to poll.
// On launch failure the record is kept, marked failed, so the error stays
// inspectable until an explicit stop.
func (s *Service) Create(sourceURL string) (Record, error) {
	if !strings.HasPrefix(sourceURL, "rtsp://") {
		return Record{}, ErrInvalidSource
	}

	id := StreamID(uuid.NewString())
	dir := filepath.Join(s.cfg.HLSRoot, string(id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Record{}, fmt.Errorf("create output directory: %w", err)
	}

	rec := &Record{
		ID:        id,
		SourceURL: sourceURL,
		OutputDir: dir,
		Status:    StatusStarting,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.registry.Register(rec); err != nil {
		os.RemoveAll(dir)
		return Record{}, err
	}

	sup, err := startEncoder(s.cfg.FFmpegPath, sourceURL, dir)
	if err != nil {
		s.registry.SetStatus(id, StatusFailed, err.Error())
		s.log.Error("encoder launch failed",
			slog.String("stream_id", string(id)),
			slog.String("error", err.Error()))
		return Record{}, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	if !s.registry.SetProcess(id, sup) {
		// The record was stopped before launch completed; the process and
		// directory would otherwise leak.
		sup.Stop()
		os.RemoveAll(dir)
		return Record{}, ErrNotFound
	}

	go s.monitor(id, sup)
	go s.awaitReadiness(id, dir)

	s.log.Info("stream created",
		slog.String("stream_id", string(id)),
		slog.String("source_url", sourceURL),
		slog.Int("pid", sup.Pid()))

	snapshot, err := s.registry.Get(id)
	if err != nil {
		return Record{}, err
	}
	return snapshot, nil
}

// monitor waits on the encoder with a bounded timeout. A clean exit within
// the window means a finite input finished (active); a failed exit records
// the stderr tail; the timeout firing while the process still runs is the
// expected live-stream steady state. All writes go through the registry and
// are dropped if the record is gone, so the goroutine never acts on a
// stopped stream.
func (s *Service) monitor(id StreamID, sup *Supervisor) {
	select {
	case <-sup.Done():
		if err := sup.ExitErr(); err != nil {
			detail := sup.ErrOutput()
			if detail == "" {
				detail = err.Error()
			}
			if s.registry.SetStatus(id, StatusFailed, detail) {
				s.log.Warn("encoder failed",
					slog.String("stream_id", string(id)),
					slog.String("error", err.Error()))
			}
			return
		}
		if s.registry.SetStatus(id, StatusActive, "") {
			s.log.Info("encoder finished", slog.String("stream_id", string(id)))
		}
	case <-time.After(monitorTimeout):
		if s.registry.SetStatus(id, StatusActive, "") {
			s.log.Info("encoder running past monitor window, marking active",
				slog.String("stream_id", string(id)))
		}
	}
}

// awaitReadiness promotes a stream from starting to active once the playlist
// references at least one segment, without waiting for the monitor window.
// An absent or still-empty playlist leaves the record as starting for the
// client to poll again.
func (s *Service) awaitReadiness(id StreamID, dir string) {
	time.Sleep(readyGrace)
	if !manifestReady(dir) {
		return
	}
	if s.registry.CompareAndSetStatus(id, StatusStarting, StatusActive) {
		s.log.Info("playlist available", slog.String("stream_id", string(id)))
	}
}

// Get returns the record for id after lazy liveness reconciliation.
func (s *Service) Get(id StreamID) (Record, error) {
	rec, err := s.registry.Get(id)
	if err != nil {
		return Record{}, err
	}
	return s.reconcile(rec), nil
}

// List returns all records, each reconciled against process liveness.
func (s *Service) List() []Record {
	recs := s.registry.List()
	for i, rec := range recs {
		recs[i] = s.reconcile(rec)
	}
	return recs
}

// reconcile corrects a stale starting/active status for a process that has
// exited without the monitor having observed it (e.g. killed out-of-band).
// A nonzero exit code is a genuine encoder failure and keeps its diagnostics;
// a clean exit or an external kill is reported as stopped. Deciding from the
// exit state here, rather than racing the monitor's write, makes the outcome
// the same no matter which of the two observes the exit first.
func (s *Service) reconcile(rec Record) Record {
	if rec.Proc == nil || !rec.Proc.Exited() || rec.Status.terminal() {
		return rec
	}

	st, detail := StatusStopped, ""
	if err := rec.Proc.ExitErr(); err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && ee.ExitCode() > 0 {
			st = StatusFailed
			if detail = rec.Proc.ErrOutput(); detail == "" {
				detail = err.Error()
			}
		}
	}

	if s.registry.SetStatus(rec.ID, st, detail) {
		rec.Status = st
		if detail != "" {
			rec.LastError = detail
		}
	} else if fresh, err := s.registry.Get(rec.ID); err == nil {
		rec = fresh
	}
	return rec
}

// Stop removes the record first, so monitor writes for the id become no-ops,
// then best-effort terminates the encoder and deletes the output directory.
// Both are attempted even if one fails; partial failure is reported in the
// returned detail, never as an error, because the entry is gone regardless.
// A second Stop for the same id returns ErrNotFound.
func (s *Service) Stop(id StreamID) (detail string, err error) {
	rec, err := s.registry.Remove(id)
	if err != nil {
		return "", err
	}

	var problems []string
	if rec.Proc != nil {
		graceful, stopErr := rec.Proc.Stop()
		switch {
		case stopErr != nil:
			problems = append(problems, fmt.Sprintf("terminate encoder: %v", stopErr))
		case !graceful:
			problems = append(problems, "encoder did not exit gracefully and was killed")
		}
	}
	if rmErr := os.RemoveAll(rec.OutputDir); rmErr != nil {
		problems = append(problems, fmt.Sprintf("remove output directory: %v", rmErr))
	}

	detail = strings.Join(problems, "; ")
	if detail != "" {
		s.log.Warn("stream stopped with cleanup issues",
			slog.String("stream_id", string(id)),
			slog.String("detail", detail))
	} else {
		s.log.Info("stream stopped", slog.String("stream_id", string(id)))
	}
	return detail, nil
}

// Diagnostics reports whether the encoder binary responds to a version probe
// within probeTimeout, plus the current stream count.
func (s *Service) Diagnostics(ctx context.Context) (ffmpegAvailable bool, streamCount int) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := exec.CommandContext(probeCtx, s.cfg.FFmpegPath, "-version").Run()
	return err == nil, s.registry.Count()
}

// PlaybackURL builds the client-facing playlist URL for a stream.
func (s *Service) PlaybackURL(id StreamID) string {
	return fmt.Sprintf("%s/streams/%s/files/%s", strings.TrimSuffix(s.cfg.PublicBaseURL, "/"), id, manifestName)
}

// Info builds the client-visible view of a record. When withSegments is set
// the on-disk manifest is consulted for the current segment count; a missing
// or unreadable manifest simply leaves the count at zero.
func (s *Service) Info(rec Record, withSegments bool) Info {
	info := Info{
		ID:          rec.ID,
		Status:      rec.Status,
		SourceURL:   rec.SourceURL,
		PlaybackURL: s.PlaybackURL(rec.ID),
		CreatedAt:   rec.CreatedAt,
		LastError:   rec.LastError,
	}
	if withSegments {
		if m, err := loadManifest(rec.OutputDir); err == nil {
			info.SegmentCount = m.SegmentCount()
		}
	}
	return info
}
