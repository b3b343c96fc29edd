// Package docker is a thin convenience layer over the docker engine client,
// covering what the regtest container controller needs: finding containers
// by their launch command, running a detached container, and stopping,
// removing and inspecting a single container.
package docker

import (
	"context"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"github.com/neverDefined/go-regtest/internal/logging"
)

// API is the subset of the docker engine client used by the Manager.
// *client.Client satisfies it.
type API interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	Close() error
}

var _ API = (*client.Client)(nil)

// Manager is a convenient wrapper around the docker client.
type Manager struct {
	API

	log *zap.SugaredLogger
}

// NewManager connects to the local docker instance and provides a convenient
// handle for managing containers.
func NewManager() (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &Manager{
		API: cli,
		log: logging.S().With("host", cli.DaemonHost()),
	}, nil
}

// NewManagerWithAPI wraps an already constructed engine API.
func NewManagerWithAPI(api API) *Manager {
	return &Manager{
		API: api,
		log: logging.S(),
	}
}

// Close closes the docker client.
func (m *Manager) Close() error {
	return m.API.Close()
}

// S returns the manager's logger.
func (m *Manager) S() *zap.SugaredLogger {
	return m.log
}

// NewContainerRef constructs a reference to a given container.
func (m *Manager) NewContainerRef(id string) *ContainerRef {
	return &ContainerRef{
		ID:      id,
		Manager: m,
		log:     m.log.With("container", shortID(id)),
	}
}

// FindByCommand returns the containers whose configured command starts with
// binary. Stopped containers are only considered when all is set.
func (m *Manager) FindByCommand(ctx context.Context, binary string, all bool) ([]*ContainerRef, error) {
	list, err := m.ContainerList(ctx, container.ListOptions{All: all})
	if err != nil {
		return nil, err
	}

	var refs []*ContainerRef
	for _, s := range list {
		ref := m.NewContainerRef(s.ID)
		cmd, err := ref.Cmd(ctx)
		if err != nil {
			if IsNotFound(err) {
				// removed between list and inspect.
				continue
			}
			return nil, err
		}
		if len(cmd) > 0 && cmd[0] == binary {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
