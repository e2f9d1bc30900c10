// internal/runtime/process.go
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/phildougherty/mcp-trader-bridge/internal/constants"
)

// ErrNotStarted is returned when a process is used before Start.
var ErrNotStarted = errors.New("process not started")

// ProcessOptions contains options for process start
type ProcessOptions struct {
	Env     map[string]string
	WorkDir string
	Name    string
	// LogDir receives <name>.log with the child's stderr. Defaults to
	// $TMPDIR/mcp-bridge/logs.
	LogDir string
	// StopGrace is how long Stop waits after SIGTERM before SIGKILL.
	StopGrace time.Duration
}

// Process is a child process with piped standard streams. Stdout and
// stderr are plain os pipes so reads drain fully before EOF.
type Process struct {
	cmd       *exec.Cmd
	name      string
	logFile   string
	stopGrace time.Duration

	stdin   io.WriteCloser
	stdoutR *os.File
	stdoutW *os.File
	stderrR *os.File
	stderrW *os.File
	logOut  *os.File

	started   bool
	startedAt time.Time
	done      chan struct{}
	waitErr   error
	stopOnce  sync.Once
}

// LogDir returns the default directory holding child logs.
func LogDir() string {

	return filepath.Join(os.TempDir(), "mcp-bridge", "logs")
}

// LogPath returns the log file path for a named child.
func LogPath(logDir, name string) string {
	if logDir == "" {
		logDir = LogDir()
	}

	return filepath.Join(logDir, fmt.Sprintf("%s.log", name))
}

// NewProcess prepares a process; nothing is spawned until Start.
func NewProcess(command string, args []string, opts ProcessOptions) (*Process, error) {
	if command == "" {
		return nil, fmt.Errorf("no command specified")
	}
	if opts.Name == "" {
		opts.Name = filepath.Base(command)
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = constants.ChildStopGracePeriod
	}

	logDir := opts.LogDir
	if logDir == "" {
		logDir = LogDir()
	}
	if err := os.MkdirAll(logDir, constants.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	cmd := exec.Command(command, args...)

	env := os.Environ()
	for k, v := range opts.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}

	// Own process group so Stop reaches grandchildren (uv -> python).
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	return &Process{
		cmd:       cmd,
		name:      opts.Name,
		logFile:   LogPath(logDir, opts.Name),
		stopGrace: opts.StopGrace,
		done:      make(chan struct{}),
	}, nil
}

// Start spawns the process and begins waiting for it in the background.
func (p *Process) Start() error {
	if p.started {
		return fmt.Errorf("process %s already started", p.name)
	}

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	p.stdin = stdin

	if p.stdoutR, p.stdoutW, err = os.Pipe(); err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if p.stderrR, p.stderrW, err = os.Pipe(); err != nil {
		p.closePipes()

		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	p.cmd.Stdout = p.stdoutW
	p.cmd.Stderr = p.stderrW

	logOut, err := os.OpenFile(p.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, constants.DefaultFileMode)
	if err != nil {
		p.closePipes()

		return fmt.Errorf("failed to create log file: %w", err)
	}
	p.logOut = logOut

	if err := p.cmd.Start(); err != nil {
		p.closePipes()
		_ = p.logOut.Close()

		return fmt.Errorf("failed to start process: %w", err)
	}
	p.started = true
	p.startedAt = time.Now()

	// The child holds its own copies of the write ends.
	_ = p.stdoutW.Close()
	_ = p.stderrW.Close()

	go func() {
		p.waitErr = p.cmd.Wait()
		close(p.done)
	}()

	return nil
}

func (p *Process) closePipes() {
	for _, f := range []*os.File{p.stdoutR, p.stdoutW, p.stderrR, p.stderrW} {
		if f != nil {
			_ = f.Close()
		}
	}
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
}

// Stdin returns the child's standard input.
func (p *Process) Stdin() io.Writer {

	return p.stdin
}

// Stdout returns the child's standard output.
func (p *Process) Stdout() io.Reader {

	return p.stdoutR
}

// Stderr returns the child's diagnostic stream; everything read from it is
// also appended to the log file.
func (p *Process) Stderr() io.Reader {

	return io.TeeReader(p.stderrR, p.logOut)
}

// Wait blocks until the process exits and returns its exit error.
func (p *Process) Wait() error {
	if !p.started {
		return ErrNotStarted
	}
	<-p.done

	return p.waitErr
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {

	return p.done
}

// Pid returns the child's pid, or 0 before Start.
func (p *Process) Pid() int {
	if !p.started || p.cmd.Process == nil {
		return 0
	}

	return p.cmd.Process.Pid
}

// StartedAt returns the spawn time.
func (p *Process) StartedAt() time.Time {

	return p.startedAt
}

// Name returns the process name used for its log file.
func (p *Process) Name() string {

	return p.name
}

// LogFile returns the path of the stderr log.
func (p *Process) LogFile() string {

	return p.logFile
}

// IsRunning reports whether the process has been started and not exited.
func (p *Process) IsRunning() bool {
	if !p.started {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Stop sends SIGTERM to the process group and escalates to SIGKILL after
// the grace period. It blocks until the process is gone.
func (p *Process) Stop() error {
	if !p.started {
		return nil
	}

	var stopErr error
	p.stopOnce.Do(func() {
		defer func() {
			_ = p.stdoutR.Close()
			_ = p.stderrR.Close()
			_ = p.logOut.Close()
		}()

		if !p.IsRunning() {
			return
		}

		pgid := -p.cmd.Process.Pid
		if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
			stopErr = fmt.Errorf("failed to send SIGTERM: %w", err)
		}

		select {
		case <-p.done:
			return
		case <-time.After(p.stopGrace):
		}

		if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			stopErr = fmt.Errorf("failed to send SIGKILL: %w", err)

			return
		}
		<-p.done
	})

	return stopErr
}

// ShowLogs writes the log file to out. With follow it keeps streaming new
// lines through tail -f until ctx is done.
func ShowLogs(ctx context.Context, logFile string, follow bool, out io.Writer) error {
	if _, err := os.Stat(logFile); err != nil {
		return fmt.Errorf("log file not found: %w", err)
	}

	if follow {
		cmd := exec.CommandContext(ctx, "tail", "-n", "+1", "-f", logFile)
		cmd.Stdout = out
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil && ctx.Err() == nil {
			return fmt.Errorf("failed to follow log file: %w", err)
		}

		return nil
	}

	f, err := os.Open(logFile)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(out, f); err != nil {
		return fmt.Errorf("failed to read log file: %w", err)
	}

	return nil
}
