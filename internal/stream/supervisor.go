package stream

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

const (
	// manifestName is the playlist file ffmpeg writes into each stream's
	// output directory.
	manifestName = "stream.m3u8"

	// stopGrace is how long Stop waits for a graceful exit before
	// escalating to SIGKILL, and again after the kill before giving up.
	stopGrace = 5 * time.Second

	// stderrTailSize bounds how much encoder diagnostic output is retained
	// for LastError.
	stderrTailSize = 4096
)

// encoderArgs builds the fixed ffmpeg argument set for one conversion:
// RTSP over TCP in, H.264 baseline + AAC out, 2s segments in a rolling
// 5-segment window with segment deletion, playlist caching disabled.
// None of this is user-configurable.
func encoderArgs(sourceURL, outputDir string) []string {
	return []string{
		"-rtsp_transport", "tcp",
		"-i", sourceURL,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-profile:v", "baseline",
		"-level", "3.0",
		"-pix_fmt", "yuv420p",
		"-g", "30",
		"-keyint_min", "30",
		"-sc_threshold", "0",
		"-b:v", "2500k",
		"-maxrate", "2500k",
		"-bufsize", "5000k",
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", "44100",
		"-f", "hls",
		"-hls_time", "2",
		"-hls_list_size", "5",
		"-hls_flags", "delete_segments+independent_segments+program_date_time",
		"-hls_segment_type", "mpegts",
		"-hls_allow_cache", "0",
		"-start_number", "0",
		"-y",
		filepath.Join(outputDir, manifestName),
	}
}

// Supervisor owns exactly one encoder subprocess. It reaps the process
// exactly once in a background goroutine; everything else observes the exit
// through Done.
type Supervisor struct {
	cmd     *exec.Cmd
	stderr  *tailWriter
	done    chan struct{}
	waitErr error
}

// startEncoder launches ffmpeg for the given source and output directory.
// The process runs in its own process group, detached from the caller's
// signals. A launch failure is returned as-is for the caller to wrap.
func startEncoder(ffmpegPath, sourceURL, outputDir string) (*Supervisor, error) {
	return launch(ffmpegPath, encoderArgs(sourceURL, outputDir)...)
}

func launch(name string, args ...string) (*Supervisor, error) {
	tail := newTailWriter(stderrTailSize)
	cmd := exec.Command(name, args...)
	cmd.Stderr = tail
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Wait must not block on the stderr pipe if a forked child outlives the
	// leader with the pipe still open.
	cmd.WaitDelay = stopGrace

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	s := &Supervisor{cmd: cmd, stderr: tail, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		if errors.Is(err, exec.ErrWaitDelay) {
			// The process itself exited cleanly; only the pipe lingered.
			err = nil
		}
		s.waitErr = err
		close(s.done)
	}()
	return s, nil
}

// Done is closed once the process has exited and been reaped.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Exited reports, without blocking, whether the process has exited.
func (s *Supervisor) Exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// ExitErr returns the process's wait error. Only valid after Done is closed.
func (s *Supervisor) ExitErr() error {
	return s.waitErr
}

// ErrOutput returns the retained tail of the encoder's stderr.
func (s *Supervisor) ErrOutput() string {
	return s.stderr.String()
}

// Pid returns the OS process id of the encoder.
func (s *Supervisor) Pid() int {
	return s.cmd.Process.Pid
}

// signalGroup delivers sig to the encoder's whole process group, reaching
// any children the encoder forked. A vanished group maps to os.ErrProcessDone.
func (s *Supervisor) signalGroup(sig syscall.Signal) error {
	if err := syscall.Kill(-s.cmd.Process.Pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}

// Stop terminates the encoder: SIGTERM first, then SIGKILL if the process
// has not exited within stopGrace. Both signals go to the process group the
// encoder was started in, so nothing it forked survives holding the stderr
// pipe open. The graceful return is true only when SIGTERM alone was enough.
// Stop is safe to call on an already-exited process.
func (s *Supervisor) Stop() (graceful bool, err error) {
	if sigErr := s.signalGroup(syscall.SIGTERM); sigErr != nil && !errors.Is(sigErr, os.ErrProcessDone) {
		err = sigErr
	} else {
		select {
		case <-s.done:
			return true, nil
		case <-time.After(stopGrace):
		}
	}

	if killErr := s.signalGroup(syscall.SIGKILL); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
		return false, killErr
	}
	select {
	case <-s.done:
		return false, err
	case <-time.After(stopGrace):
		return false, errors.New("encoder did not exit after kill")
	}
}

// tailWriter retains the last max bytes written to it. Used to capture
// encoder stderr without letting a long-running process grow memory
// unboundedly.
type tailWriter struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailWriter(max int) *tailWriter {
	return &tailWriter{max: max}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	if len(w.buf) > w.max {
		w.buf = w.buf[len(w.buf)-w.max:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}
