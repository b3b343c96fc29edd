package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"
)

// ContainerRef is a convenient handle for a docker container.
type ContainerRef struct {
	ID      string
	Manager *Manager

	log *zap.SugaredLogger
}

// String returns the short container id.
func (c *ContainerRef) String() string {
	return shortID(c.ID)
}

// S returns the container's logger.
func (c *ContainerRef) S() *zap.SugaredLogger {
	return c.log
}

// Inspect inspects this docker container.
func (c *ContainerRef) Inspect(ctx context.Context) (container.InspectResponse, error) {
	return c.Manager.ContainerInspect(ctx, c.ID)
}

// IsRunning reports whether the container is currently running. A container
// that no longer exists is not running.
func (c *ContainerRef) IsRunning(ctx context.Context) (bool, error) {
	info, err := c.Inspect(ctx)
	if err != nil {
		if IsNotFound(err) {
			err = nil
		}
		return false, err
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return false, nil
	}
	return info.State.Status == "running", nil
}

// Cmd returns the command the container was created with.
func (c *ContainerRef) Cmd(ctx context.Context) ([]string, error) {
	info, err := c.Inspect(ctx)
	if err != nil {
		return nil, err
	}
	if info.Config == nil {
		return nil, nil
	}
	return []string(info.Config.Cmd), nil
}

// IPAddress returns the address the container got assigned on its networks,
// preferring the default bridge. It is empty while none is assigned yet.
func (c *ContainerRef) IPAddress(ctx context.Context) (string, error) {
	info, err := c.Inspect(ctx)
	if err != nil {
		return "", err
	}
	return ipAddress(info), nil
}

func ipAddress(info container.InspectResponse) string {
	if info.NetworkSettings == nil {
		return ""
	}
	nets := info.NetworkSettings.Networks
	if ep, ok := nets["bridge"]; ok && ep != nil && ep.IPAddress != "" {
		return ep.IPAddress
	}
	names := make([]string, 0, len(nets))
	for name := range nets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if ep := nets[name]; ep != nil && ep.IPAddress != "" {
			return ep.IPAddress
		}
	}
	return ""
}

// Stop stops the container.
func (c *ContainerRef) Stop(ctx context.Context) error {
	c.log.Debug("stopping container")
	return c.Manager.ContainerStop(ctx, c.ID, container.StopOptions{})
}

// Remove removes the container.
func (c *ContainerRef) Remove(ctx context.Context) error {
	c.log.Debug("removing container")
	return c.Manager.ContainerRemove(ctx, c.ID, container.RemoveOptions{})
}

// Logs returns the combined stdout and stderr output of the container.
func (c *ContainerRef) Logs(ctx context.Context) (string, error) {
	rc, err := c.Manager.ContainerLogs(ctx, c.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, rc); err != nil {
		return "", err
	}
	return out.String(), nil
}

// RunOpts describes a detached container to be created and started.
type RunOpts struct {
	Name   string
	Image  string
	Cmd    []string
	Labels map[string]string
	// PortSpecs are docker style "host:container" port publications.
	PortSpecs          []string
	PullImageIfMissing bool
}

// Run creates and starts a detached container. When the image is not present
// locally and PullImageIfMissing is set, it is pulled first.
func (m *Manager) Run(ctx context.Context, opts *RunOpts) (*ContainerRef, error) {
	log := m.log.With("image", opts.Image, "name", opts.Name)

	exposed, bindings, err := nat.ParsePortSpecs(opts.PortSpecs)
	if err != nil {
		return nil, fmt.Errorf("invalid port specs %v: %w", opts.PortSpecs, err)
	}

	cfg := &container.Config{
		Image:        opts.Image,
		Cmd:          opts.Cmd,
		Labels:       opts.Labels,
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
	}

	res, err := m.ContainerCreate(ctx, cfg, hostCfg, nil, nil, opts.Name)
	if err != nil && IsNotFound(err) && opts.PullImageIfMissing {
		log.Infow("image not found locally; pulling")
		if err := m.pull(ctx, opts.Image); err != nil {
			return nil, err
		}
		res, err = m.ContainerCreate(ctx, cfg, hostCfg, nil, nil, opts.Name)
	}
	if err != nil {
		return nil, err
	}

	ref := m.NewContainerRef(res.ID)
	if err := m.ContainerStart(ctx, res.ID, container.StartOptions{}); err != nil {
		log.Errorw("starting container failed", "id", res.ID, "err", err)
		return ref, err
	}
	log.Infow("started container", "id", res.ID)
	return ref, nil
}

func (m *Manager) pull(ctx context.Context, ref string) error {
	out, err := m.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer out.Close()

	// the pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, out); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

// IsNotFound reports whether err is a docker "no such object" error.
func IsNotFound(err error) bool {
	return cerrdefs.IsNotFound(err)
}
