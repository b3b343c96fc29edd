package regtest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/neverDefined/go-regtest/internal/docker"
	"github.com/neverDefined/go-regtest/internal/logging"
)

const (
	// LabelRun is set on every container launched by a ContainerController.
	LabelRun = "io.github.neverdefined.regtest.run"

	teardownTimeout = 30 * time.Second
	adoptTimeout    = 30 * time.Second
)

// ContainerController runs bitcoind in a docker container.
//
// Containers are recognized by their command: any container whose command
// starts with the daemon binary name is a candidate, and its connection
// settings are read back from that command. A controller owns at most one
// container: the one it launched, or the single running candidate found when
// it was constructed, whoever started it. It never takes over a container
// later, and with more than one candidate it refuses to guess.
type ContainerController struct {
	template *ConnectionInfo
	conn     *ConnectionInfo
	cfg      *Config
	command  LaunchCommand
	waiter   *Waiter
	docker   *docker.Manager
	log      *zap.SugaredLogger

	owned      *docker.ContainerRef
	ownedGuard *Guard
	guards     guards
}

var _ Controller = (*ContainerController)(nil)

// NewContainerController returns a controller talking to the docker engine
// configured in the environment. A nil cfg uses GetConfig. When exactly one
// bitcoind container is running, the controller takes it over.
func NewContainerController(cfg *Config) (*ContainerController, error) {
	m, err := docker.NewManager()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to docker: %w", err)
	}
	c, err := newContainerController(cfg, m)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	return c, nil
}

func newContainerController(cfg *Config, m *docker.Manager) (*ContainerController, error) {
	if cfg == nil {
		cfg = GetConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &ContainerController{
		template: NewConnectionInfo(cfg),
		cfg:      cfg,
		command:  NewLaunchCommand(cfg),
		waiter:   NewWaiter(cfg),
		docker:   m,
		log:      logging.S().With("backend", "docker"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), adoptTimeout)
	defer cancel()
	if err := c.adopt(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// adopt takes over the single running candidate, if there is one. Several
// candidates are left alone; Detect and Start report them as ambiguous.
func (c *ContainerController) adopt(ctx context.Context) error {
	cands, err := c.SearchCandidates(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to search bitcoind containers: %w", err)
	}
	if len(cands) != 1 {
		c.log.Debugw("no container to take over", "candidates", len(cands))
		return nil
	}
	ref := cands[0]
	conn, err := c.connectionOf(ctx, ref)
	if err != nil {
		return err
	}
	c.owned, c.conn = ref, conn
	c.log.Infow("took over running container", "container", ref.String(), "conn", conn.String())
	return nil
}

// Conn returns the connection of the instance in use, or nil.
func (c *ContainerController) Conn() *ConnectionInfo {
	return c.conn
}

// ContainerID returns the id of the container in use, or "".
func (c *ContainerController) ContainerID() string {
	if c.owned == nil {
		return ""
	}
	return c.owned.ID
}

// Start implements Controller.
func (c *ContainerController) Start(ctx context.Context, cleanupAtExit bool) (*ConnectionInfo, error) {
	return startInstance(ctx, c, c.waiter, c.cfg.BootstrapBlocks, c.log, cleanupAtExit)
}

// SearchCandidates lists the containers running the daemon binary. Stopped
// containers are included when includeStopped is set.
func (c *ContainerController) SearchCandidates(ctx context.Context, includeStopped bool) ([]*docker.ContainerRef, error) {
	return c.docker.FindByCommand(ctx, c.cfg.Binary, includeStopped)
}

// Detect implements Controller. It only inspects: the owned container is
// returned while it runs and is the single running candidate. An owned
// container that stopped yields nil. Without an owned container, any running
// candidate fails with ErrAmbiguousInstance, since it belongs to someone
// else.
func (c *ContainerController) Detect(ctx context.Context) (*ConnectionInfo, error) {
	if c.owned != nil {
		running, err := c.owned.IsRunning(ctx)
		if err != nil {
			return nil, err
		}
		if !running {
			c.log.Infow("owned container is not running", "container", c.owned.String())
			return nil, nil
		}
	}

	cands, err := c.SearchCandidates(ctx, false)
	if err != nil {
		return nil, err
	}
	switch len(cands) {
	case 0:
		c.logCandidates(ctx)
		return nil, nil
	case 1:
	default:
		return nil, fmt.Errorf("%w: %d running bitcoind containers %v", ErrAmbiguousInstance, len(cands), cands)
	}

	ref := cands[0]
	if c.owned == nil {
		return nil, fmt.Errorf("%w: running container %s is not owned by this controller", ErrAmbiguousInstance, ref)
	}
	if c.owned.ID != ref.ID {
		return nil, fmt.Errorf("%w: running container %s is not owned container %s", ErrAmbiguousInstance, ref, c.owned)
	}
	c.log.Infow("found potential container", "container", ref.String())

	conn, err := c.connectionOf(ctx, ref)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.log.Infow("detected container", "container", ref.String(), "conn", conn.String())
	return conn, nil
}

// connectionOf recovers the connection settings of a candidate from its
// command line and network address.
func (c *ContainerController) connectionOf(ctx context.Context, ref *docker.ContainerRef) (*ConnectionInfo, error) {
	cmd, err := ref.Cmd(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := ParseLaunchCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", ref, err)
	}
	ip, err := ref.IPAddress(ctx)
	if err != nil {
		return nil, err
	}
	if ip == "" {
		return nil, fmt.Errorf("%w: container %s has no network address", ErrConfigRecovery, ref)
	}
	conn.Wallet = c.template.Wallet
	conn.SetHost(ip)
	return conn, nil
}

// logCandidates helps debugging a container that died during launch.
func (c *ContainerController) logCandidates(ctx context.Context) {
	all, err := c.SearchCandidates(ctx, true)
	if err != nil {
		c.log.Debugw("could not list stopped candidates", "err", err)
		return
	}
	ids := make([]string, len(all))
	for i, ref := range all {
		ids[i] = ref.String()
	}
	c.log.Debugw("could not detect container", "candidates", ids)
	if len(all) == 0 {
		return
	}
	logs, err := all[0].Logs(ctx)
	if err != nil {
		c.log.Debugw("could not read logs of first candidate", "container", all[0].String(), "err", err)
		return
	}
	c.log.Debugw("logs of first candidate", "container", all[0].String(), "logs", logs)
}

func (c *ContainerController) launch(ctx context.Context, cleanupAtExit bool) (*ConnectionInfo, error) {
	if c.owned != nil {
		// Start only launches when the owned container stopped.
		c.log.Infow("replacing stopped container", "container", c.owned.String())
		if c.ownedGuard != nil {
			if err := c.ownedGuard.Release(); err != nil {
				return nil, err
			}
		}
		c.owned, c.ownedGuard, c.conn = nil, nil, nil
	}

	args, err := c.command.Build(c.template, true, "")
	if err != nil {
		return nil, err
	}

	run := uuid.New().String()
	rpcPort, p2pPort := strconv.Itoa(c.template.Port), strconv.Itoa(c.cfg.P2PPort)
	c.log.Debugw("running in docker", "image", c.cfg.Image, "command", args)
	ref, err := c.docker.Run(ctx, &docker.RunOpts{
		Name:               "regtest-bitcoind-" + run[:8],
		Image:              c.cfg.Image,
		Cmd:                args,
		Labels:             map[string]string{LabelRun: run},
		PortSpecs:          []string{rpcPort + ":" + rpcPort, p2pPort + ":" + p2pPort},
		PullImageIfMissing: c.cfg.PullImage,
	})
	if err != nil {
		if ref != nil {
			_ = c.teardown(ref)
		}
		return nil, fmt.Errorf("failed to run bitcoind container: %w", err)
	}

	guard := newGuard(func() error { return c.teardown(ref) })
	if cleanupAtExit {
		c.guards.push(guard)
	}
	c.owned, c.ownedGuard, c.conn = ref, guard, nil

	c.log.Debugw("waiting for container to come up", "container", ref.String())
	if err := c.waitForAddress(ctx, ref); err != nil {
		return nil, err
	}

	conn, err := c.Detect(ctx)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, fmt.Errorf("%w: container %s died or cannot be found, check its logs", ErrContainerLost, ref)
	}
	return conn, nil
}

// waitForAddress polls until the container has a network address, with the
// same bounds as the RPC readiness wait.
func (c *ContainerController) waitForAddress(ctx context.Context, ref *docker.ContainerRef) error {
	for i := 1; i <= c.waiter.Attempts; i++ {
		ip, err := ref.IPAddress(ctx)
		if err != nil {
			if docker.IsNotFound(err) {
				return fmt.Errorf("%w: container %s disappeared", ErrContainerLost, ref)
			}
			return err
		}
		if ip != "" {
			return nil
		}
		if i == c.waiter.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.waiter.Interval):
		}
	}
	return fmt.Errorf("%w: container %s got no address", ErrContainerStartTimeout, ref)
}

// Stop stops and removes the container in use. It refuses to do so unless
// that container is running and is the only running candidate.
func (c *ContainerController) Stop(ctx context.Context) error {
	if c.owned == nil {
		return fmt.Errorf("%w: no container in use by this controller", ErrAmbiguousInstance)
	}
	running, err := c.owned.IsRunning(ctx)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("%w: container %s is not running", ErrAmbiguousInstance, c.owned)
	}

	cands, err := c.SearchCandidates(ctx, false)
	if err != nil {
		return err
	}
	if len(cands) != 1 || cands[0].ID != c.owned.ID {
		return fmt.Errorf("%w: container %s is one of %d running candidates", ErrAmbiguousInstance, c.owned, len(cands))
	}

	ref, guard := c.owned, c.ownedGuard
	if guard == nil {
		guard = newGuard(func() error { return c.teardown(ref) })
	}
	if err := guard.Release(); err != nil {
		return err
	}
	c.log.Infow("stopped container", "container", ref.String())
	c.owned, c.ownedGuard, c.conn = nil, nil, nil
	return nil
}

// Close tears down containers launched with cleanupAtExit and closes the
// docker client. The controller must not be used afterwards.
func (c *ContainerController) Close() error {
	var merr *multierror.Error
	if err := c.guards.releaseAll(); err != nil {
		merr = multierror.Append(merr, err)
	}
	if err := c.docker.Close(); err != nil {
		merr = multierror.Append(merr, err)
	}
	return merr.ErrorOrNil()
}

func (c *ContainerController) teardown(ref *docker.ContainerRef) error {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if err := ref.Stop(ctx); err != nil && !docker.IsNotFound(err) {
		return fmt.Errorf("failed to stop container %s: %w", ref, err)
	}
	if err := ref.Remove(ctx); err != nil && !docker.IsNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", ref, err)
	}
	return nil
}
