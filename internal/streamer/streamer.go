// Package streamer runs transcoder invocations and hands their output to callers,
// either as a lazy sequence of fixed-size chunks or as a file on disk.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"reelstream/internal/pipeline"
	"reelstream/pkg/models"

	"github.com/sirupsen/logrus"
)

// ChunkSize is the number of bytes read from the child process per chunk.
const ChunkSize = 512

const stderrTailSize = 4 * 1024

// AuditRecorder persists render audit entries.
type AuditRecorder interface {
	RecordRender(ctx context.Context, audit *models.RenderAudit) error
}

// Streamer launches pipeline invocations.
type Streamer struct {
	audits AuditRecorder
	logger *logrus.Logger
}

// New creates a Streamer. audits may be nil when renders are not audited.
func New(audits AuditRecorder, logger *logrus.Logger) *Streamer {
	return &Streamer{audits: audits, logger: logger}
}

// Stream is a running child process whose standard output is consumed chunk by chunk.
// The owner must call Close exactly once it is done, on every path.
type Stream struct {
	ctx     context.Context
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  *tailBuffer
	buf     []byte
	eof     bool
	cleanup []func()
	logger  *logrus.Entry

	closeOnce sync.Once
	closeErr  error
}

// Start launches inv with its output connected to a pipe. Cancelling ctx kills the
// process. cleanup hooks run after the process has exited, or immediately when it
// cannot be started.
func (s *Streamer) Start(ctx context.Context, inv pipeline.Invocation, cleanup ...func()) (*Stream, error) {
	cmd := exec.CommandContext(ctx, inv.Binary, inv.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		runCleanup(cleanup)
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &tailBuffer{max: stderrTailSize}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		runCleanup(cleanup)
		return nil, fmt.Errorf("start %s: %w", inv.Binary, err)
	}

	logger := s.logger.WithFields(logrus.Fields{
		"pid":     cmd.Process.Pid,
		"command": inv.Binary,
	})
	logger.Debug("Transcoder started")

	return &Stream{
		ctx:     ctx,
		cmd:     cmd,
		stdout:  stdout,
		stderr:  stderr,
		buf:     make([]byte, ChunkSize),
		cleanup: cleanup,
		logger:  logger,
	}, nil
}

// Next returns the next chunk of output. Chunks are ChunkSize bytes except the last
// one, which carries whatever remained. After the last chunk Next returns io.EOF.
// The returned slice is only valid until the following call.
func (st *Stream) Next() ([]byte, error) {
	if st.eof {
		return nil, io.EOF
	}
	n, err := io.ReadFull(st.stdout, st.buf)
	switch {
	case err == nil:
		return st.buf[:n], nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		st.eof = true
		return st.buf[:n], nil
	case errors.Is(err, io.EOF):
		st.eof = true
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("read transcoder output: %w", err)
	}
}

// WriteTo copies the output to w one chunk at a time, flushing after every write when
// w supports it, so nothing is read ahead of what the client consumed.
func (st *Stream) WriteTo(w io.Writer) (int64, error) {
	flusher, _ := w.(http.Flusher)
	var written int64
	for {
		chunk, err := st.Next()
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}
		n, err := w.Write(chunk)
		written += int64(n)
		if err != nil {
			return written, err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// Close stops the process if it is still producing output, waits for it and runs the
// cleanup hooks. A non-zero exit after the output was fully read is returned and
// logged with the tail of stderr.
func (st *Stream) Close() error {
	st.closeOnce.Do(func() {
		killed := false
		if !st.eof && st.cmd.ProcessState == nil {
			killed = true
			if err := st.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				st.logger.WithError(err).Warn("Failed to kill transcoder")
			}
		}
		err := st.cmd.Wait()
		runCleanup(st.cleanup)

		switch {
		case killed || st.ctx.Err() != nil:
			st.logger.Debug("Transcoder stopped before end of output")
		case err != nil:
			st.logger.WithError(err).WithField("stderr", st.stderr.String()).Error("Transcoder failed")
			st.closeErr = fmt.Errorf("transcoder: %w", err)
		default:
			st.logger.Debug("Transcoder finished")
		}
	})
	return st.closeErr
}

// StderrTail returns the last bytes the process wrote to stderr.
func (st *Stream) StderrTail() string {
	return st.stderr.String()
}

// RenderRequest describes a file-sink run.
type RenderRequest struct {
	JobID       string
	Username    string
	MediaFileID int
	Invocation  pipeline.Invocation
	Cleanup     func()
}

// RunToFile runs a file-sink invocation to completion, removes its temporaries and
// records an audit entry with the full command.
func (s *Streamer) RunToFile(ctx context.Context, req RenderRequest) (*models.RenderAudit, error) {
	audit := &models.RenderAudit{
		JobID:       req.JobID,
		Username:    req.Username,
		MediaFileID: req.MediaFileID,
		Command:     req.Invocation.String(),
		OutputPath:  req.Invocation.Sink.Path,
		Status:      string(StatusRunning),
		StartedAt:   time.Now(),
	}

	logger := s.logger.WithFields(logrus.Fields{
		"job_id":        req.JobID,
		"user":          req.Username,
		"media_file_id": req.MediaFileID,
	})
	logger.WithField("command", audit.Command).Info("Render started")

	stderr := &tailBuffer{max: stderrTailSize}
	cmd := exec.CommandContext(ctx, req.Invocation.Binary, req.Invocation.Args...)
	cmd.Stderr = stderr
	runErr := cmd.Run()
	if req.Cleanup != nil {
		req.Cleanup()
	}

	finished := time.Now()
	audit.FinishedAt = &finished
	if runErr != nil {
		audit.Status = string(StatusFailed)
		audit.Error = strings.TrimSpace(fmt.Sprintf("%v: %s", runErr, stderr.String()))
		logger.WithError(runErr).WithField("stderr", stderr.String()).Error("Render failed")
	} else {
		audit.Status = string(StatusCompleted)
		logger.WithField("duration", finished.Sub(audit.StartedAt)).Info("Render completed")
	}

	if s.audits != nil {
		if err := s.audits.RecordRender(context.WithoutCancel(ctx), audit); err != nil {
			logger.WithError(err).Error("Failed to record render audit")
		}
	}

	if runErr != nil {
		return audit, fmt.Errorf("render: %w", runErr)
	}
	return audit, nil
}

func runCleanup(hooks []func()) {
	for _, h := range hooks {
		if h != nil {
			h()
		}
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu   sync.Mutex
	max  int
	data []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = append(t.data, p...)
	if over := len(t.data) - t.max; over > 0 {
		t.data = append(t.data[:0], t.data[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.data))
}
