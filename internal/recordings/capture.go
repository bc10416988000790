package recordings

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/ripplenote/backend/pkg/apperr"
)

// Process is a handle to a running capture process. Owned exclusively by the
// Manager; never exposed through snapshots.
type Process interface {
	// Terminate requests a graceful exit and waits up to grace. Reports
	// whether the process exited within the bound.
	Terminate(grace time.Duration) bool
	// Kill force-terminates the process.
	Kill()
}

// Runner starts capture processes bound to an output file.
type Runner interface {
	Start(outputPath string) (Process, error)
}

// FFmpegRunner spawns ffmpeg to mux the incoming stream into the target file.
type FFmpegRunner struct {
	binPath string
	logger  *zap.Logger
}

// NewFFmpegRunner creates a runner using the given ffmpeg binary.
func NewFFmpegRunner(binPath string, logger *zap.Logger) *FFmpegRunner {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegRunner{binPath: binPath, logger: logger}
}

// Start launches ffmpeg reading webm from stdin and writing to outputPath.
func (r *FFmpegRunner) Start(outputPath string) (Process, error) {
	cmd := exec.Command(r.binPath,
		"-f", "webm",
		"-i", "pipe:0",
		"-c", "copy",
		"-y",
		outputPath,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apperr.Upstream("start capture process", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, apperr.Upstream("start capture process", fmt.Errorf("%s: %w", r.binPath, err))
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	r.logger.Debug("capture process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("output", outputPath),
	)
	return &ffmpegProcess{cmd: cmd, stdin: stdin, done: done}, nil
}

type ffmpegProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{}
}

// Terminate closes stdin so ffmpeg finalizes the container, signals interrupt,
// and waits up to grace for exit.
func (p *ffmpegProcess) Terminate(grace time.Duration) bool {
	_ = p.stdin.Close()
	_ = p.cmd.Process.Signal(os.Interrupt)
	select {
	case <-p.done:
		return true
	case <-time.After(grace):
		return false
	}
}

func (p *ffmpegProcess) Kill() {
	_ = p.cmd.Process.Kill()
}
