package frames

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"runtime"
	"sync"
)

// maxGrabFailures consecutive failed grabs mark the stream as ended, which is
// how a display that went away surfaces.
const maxGrabFailures = 3

// FFmpegScreen captures the desktop with one ffmpeg invocation per frame.
type FFmpegScreen struct {
	Path    string
	Display string
	GOOS    string
}

func NewFFmpegScreen(display string) *FFmpegScreen {
	return &FFmpegScreen{Path: "ffmpeg", Display: display, GOOS: runtime.GOOS}
}

func (s *FFmpegScreen) Open(ctx context.Context) (Stream, error) {
	path := s.Path
	if path == "" {
		path = "ffmpeg"
	}
	if _, err := exec.LookPath(path); err != nil {
		return nil, errors.New("ffmpeg is required for screen capture (install ffmpeg and ensure it is in PATH)")
	}
	args, err := screenGrabArgs(s.GOOS, s.Display)
	if err != nil {
		return nil, err
	}
	st := &ffmpegStream{path: path, args: args, done: make(chan struct{})}

	// The first grab doubles as the permission probe.
	if _, err := st.Grab(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("screen capture refused: %w", err)
	}
	return st, nil
}

func screenGrabArgs(goos, display string) ([]string, error) {
	base := []string{"-hide_banner", "-loglevel", "error"}
	tail := []string{"-frames:v", "1", "-f", "image2pipe", "-vcodec", "png", "-"}
	switch goos {
	case "linux":
		if display == "" {
			display = ":0.0"
		}
		return append(append(base, "-f", "x11grab", "-i", display), tail...), nil
	case "darwin":
		if display == "" {
			display = "1:none"
		}
		return append(append(base, "-f", "avfoundation", "-capture_cursor", "1", "-i", display), tail...), nil
	case "windows":
		if display == "" {
			display = "desktop"
		}
		return append(append(base, "-f", "gdigrab", "-i", display), tail...), nil
	default:
		return nil, fmt.Errorf("screen capture is not implemented for %s; supported platforms: darwin, linux, windows", goos)
	}
}

type ffmpegStream struct {
	path string
	args []string

	mu       sync.Mutex
	failures int
	closed   bool
	done     chan struct{}
}

func (s *ffmpegStream) Grab(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrNoFrame
	}
	s.mu.Unlock()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.path, s.args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	var img image.Image
	if err == nil {
		img, err = png.Decode(&stdout)
	} else if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
		err = fmt.Errorf("%w: %s", err, msg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if ctx.Err() == nil {
			s.failures++
			if s.failures >= maxGrabFailures {
				s.closeLocked()
			}
		}
		return nil, fmt.Errorf("grab screen: %w", err)
	}
	s.failures = 0
	return img, nil
}

func (s *ffmpegStream) Done() <-chan struct{} { return s.done }

func (s *ffmpegStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *ffmpegStream) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}
