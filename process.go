package regtest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/neverDefined/go-regtest/internal/logging"
)

// killTimeout bounds how long a killed daemon may take to be reaped.
const killTimeout = 10 * time.Second

// ProcessController runs bitcoind as a child process of the current process,
// with a private temporary data directory.
//
// It never adopts a node it did not launch itself: if something already
// answers on the configured RPC port, Start fails with ErrAlreadyRunning.
type ProcessController struct {
	conn    *ConnectionInfo
	bin     string
	command LaunchCommand
	waiter  *Waiter
	blocks  int
	log     *zap.SugaredLogger

	proc   *process
	guards guards
}

var _ Controller = (*ProcessController)(nil)

// process is the instance handle of a launched daemon.
type process struct {
	cmd     *exec.Cmd
	dataDir string
	done    chan struct{}
	guard   *Guard
}

// NewProcessController returns a controller for a local bitcoind. A nil cfg
// uses GetConfig. The daemon binary is looked up in PATH right away.
func NewProcessController(cfg *Config) (*ProcessController, error) {
	if cfg == nil {
		cfg = GetConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bin, err := exec.LookPath(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("bitcoind not found: %w", err)
	}

	conn := NewConnectionInfo(cfg)
	// bitcoind binds RPC to 0.0.0.0 only, so avoid resolving localhost to ::1.
	conn.SetHost("127.0.0.1")

	return &ProcessController{
		conn:    conn,
		bin:     bin,
		command: NewLaunchCommand(cfg),
		waiter:  NewWaiter(cfg),
		blocks:  cfg.BootstrapBlocks,
		log:     logging.S().With("backend", "process"),
	}, nil
}

// Conn returns the connection settings of the controller.
func (p *ProcessController) Conn() *ConnectionInfo {
	return p.conn
}

// PID returns the process id of the launched daemon, or 0.
func (p *ProcessController) PID() int {
	if p.proc == nil {
		return 0
	}
	return p.proc.cmd.Process.Pid
}

// DataDir returns the data directory of the launched daemon, or "".
func (p *ProcessController) DataDir() string {
	if p.proc == nil {
		return ""
	}
	return p.proc.dataDir
}

// Start implements Controller.
func (p *ProcessController) Start(ctx context.Context, cleanupAtExit bool) (*ConnectionInfo, error) {
	return startInstance(ctx, p, p.waiter, p.blocks, p.log, cleanupAtExit)
}

// Detect implements Controller. A node answering on the RPC port is only
// returned when this controller launched it; otherwise it is reported as
// ErrAlreadyRunning.
func (p *ProcessController) Detect(ctx context.Context) (*ConnectionInfo, error) {
	ok, err := p.waiter.Probe(ctx, p.conn)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if p.proc != nil && p.proc.alive() {
		return p.conn, nil
	}
	return nil, fmt.Errorf("%w: a bitcoind not launched by this controller answers on port %d", ErrAlreadyRunning, p.conn.Port)
}

func (p *ProcessController) launch(_ context.Context, cleanupAtExit bool) (*ConnectionInfo, error) {
	if p.proc != nil && p.proc.alive() {
		return nil, fmt.Errorf("%w: process %d is still running", ErrAlreadyRunning, p.PID())
	}

	dir, err := os.MkdirTemp("", "regtest-bitcoind-")
	if err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	args, err := p.command.Build(p.conn, false, dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	// exec the binary itself rather than through a shell, so signals reach
	// bitcoind directly.
	cmd := exec.Command(p.bin, args[1:]...)
	p.log.Debugw("starting bitcoind", "command", cmd.String())
	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to start bitcoind: %w", err)
	}

	proc := &process{
		cmd:     cmd,
		dataDir: dir,
		done:    make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		p.log.Debugw("bitcoind exited", "pid", cmd.Process.Pid, "err", err)
		close(proc.done)
	}()
	proc.guard = newGuard(func() error {
		return proc.kill(p.log)
	})
	if cleanupAtExit {
		p.guards.push(proc.guard)
	}
	p.proc = proc

	p.log.Infow("running bitcoind process", "pid", cmd.Process.Pid, "datadir", dir)
	return p.conn, nil
}

// Stop kills the daemon launched by this controller and removes its data
// directory.
func (p *ProcessController) Stop(_ context.Context) error {
	if p.proc == nil {
		return fmt.Errorf("%w: no bitcoind process launched by this controller", ErrUnsupported)
	}
	proc := p.proc
	p.proc = nil

	alive := proc.alive()
	if err := proc.guard.Release(); err != nil {
		return err
	}
	if !alive {
		return fmt.Errorf("bitcoind process %d exited before it was stopped", proc.cmd.Process.Pid)
	}
	return nil
}

// Close implements Controller.
func (p *ProcessController) Close() error {
	err := p.guards.releaseAll()
	if p.proc != nil && !p.proc.alive() {
		p.proc = nil
	}
	return err
}

func (proc *process) alive() bool {
	select {
	case <-proc.done:
		return false
	default:
		return true
	}
}

// kill force-kills the daemon; speed matters more than a clean shutdown of
// a throwaway chain.
func (proc *process) kill(log *zap.SugaredLogger) error {
	var merr *multierror.Error
	pid := proc.cmd.Process.Pid

	if err := proc.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		merr = multierror.Append(merr, fmt.Errorf("failed to kill bitcoind %d: %w", pid, err))
	}
	select {
	case <-proc.done:
		log.Debugw("killed bitcoind process", "pid", pid)
	case <-time.After(killTimeout):
		merr = multierror.Append(merr, fmt.Errorf("bitcoind %d not reaped after %s", pid, killTimeout))
	}

	if err := os.RemoveAll(proc.dataDir); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("failed to remove %s: %w", proc.dataDir, err))
	} else {
		log.Debugw("removed data directory", "datadir", proc.dataDir)
	}
	return merr.ErrorOrNil()
}
