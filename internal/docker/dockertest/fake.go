// Package dockertest provides an in-memory stand-in for the docker engine
// API, for tests that exercise container lifecycles without a daemon.
package dockertest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Container is a fake container.
type Container struct {
	ID      string
	Name    string
	Image   string
	Cmd     []string
	Labels  map[string]string
	Ports   []string
	Running bool
	IP      string
	Logs    string

	// inspections until IP becomes visible.
	ipDelay  int
	inspects int
}

// Engine is a fake docker engine. The zero value is not usable; call New.
type Engine struct {
	mu sync.Mutex

	containers []*Container
	images     map[string]bool
	nextID     int

	// IPDelay is the number of inspections of a newly created container
	// before its IP address shows up.
	IPDelay int
	// NextIP is the address handed out to started containers. An empty
	// NextIP means containers never get an address.
	NextIP string
	// DieOnStart makes started containers exit right away.
	DieOnStart bool
	// StartLogs is the log output of newly created containers.
	StartLogs string

	Pulled  []string
	Stopped []string
	Removed []string
	Created []*Container
}

// New returns an empty engine that knows the given images locally.
func New(images ...string) *Engine {
	e := &Engine{
		images: make(map[string]bool),
		NextIP: "172.17.0.2",
	}
	for _, img := range images {
		e.images[img] = true
	}
	return e
}

// AddContainer registers an already existing container.
func (e *Engine) AddContainer(c *Container) *Container {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c.ID == "" {
		c.ID = e.newID()
	}
	e.containers = append(e.containers, c)
	return c
}

// Get returns the container with the given id, or nil.
func (e *Engine) Get(id string) *Container {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.find(id)
}

// SetRunning flips the running state of a container.
func (e *Engine) SetRunning(id string, running bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c := e.find(id); c != nil {
		c.Running = running
	}
}

func (e *Engine) newID() string {
	e.nextID++
	return fmt.Sprintf("%064x", e.nextID)
}

func (e *Engine) find(id string) *Container {
	for _, c := range e.containers {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func notFound(what, id string) error {
	return fmt.Errorf("No such %s: %s: %w", what, id, cerrdefs.ErrNotFound)
}

func (e *Engine) ContainerList(_ context.Context, options container.ListOptions) ([]container.Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []container.Summary
	for _, c := range e.containers {
		if !c.Running && !options.All {
			continue
		}
		s := container.Summary{
			ID:      c.ID,
			Names:   []string{"/" + c.Name},
			Image:   c.Image,
			Command: strings.Join(c.Cmd, " "),
		}
		if c.Running {
			s.State = "running"
		} else {
			s.State = "exited"
		}
		out = append(out, s)
	}
	return out, nil
}

func (e *Engine) ContainerInspect(_ context.Context, id string) (container.InspectResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.find(id)
	if c == nil {
		return container.InspectResponse{}, notFound("container", id)
	}
	c.inspects++

	state := &container.State{Running: c.Running}
	if c.Running {
		state.Status = "running"
	} else {
		state.Status = "exited"
	}
	ip := ""
	if c.inspects > c.ipDelay {
		ip = c.IP
	}
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:    c.ID,
			Name:  "/" + c.Name,
			State: state,
		},
		Config: &container.Config{
			Image:  c.Image,
			Cmd:    c.Cmd,
			Labels: c.Labels,
		},
		NetworkSettings: &container.NetworkSettings{
			Networks: map[string]*network.EndpointSettings{
				"bridge": {IPAddress: ip},
			},
		},
	}, nil
}

func (e *Engine) ContainerCreate(_ context.Context, config *container.Config, hostConfig *container.HostConfig,
	_ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.images[config.Image] {
		return container.CreateResponse{}, notFound("image", config.Image)
	}
	c := &Container{
		ID:      e.newID(),
		Name:    name,
		Image:   config.Image,
		Cmd:     append([]string(nil), config.Cmd...),
		Labels:  config.Labels,
		Logs:    e.StartLogs,
		ipDelay: e.IPDelay,
	}
	if hostConfig != nil {
		for port, bindings := range hostConfig.PortBindings {
			for _, b := range bindings {
				c.Ports = append(c.Ports, b.HostPort+":"+port.Port())
			}
		}
	}
	e.containers = append(e.containers, c)
	e.Created = append(e.Created, c)
	return container.CreateResponse{ID: c.ID}, nil
}

func (e *Engine) ContainerStart(_ context.Context, id string, _ container.StartOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.find(id)
	if c == nil {
		return notFound("container", id)
	}
	c.Running = !e.DieOnStart
	c.IP = e.NextIP
	return nil
}

func (e *Engine) ContainerStop(_ context.Context, id string, _ container.StopOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.find(id)
	if c == nil {
		return notFound("container", id)
	}
	c.Running = false
	e.Stopped = append(e.Stopped, id)
	return nil
}

func (e *Engine) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, c := range e.containers {
		if c.ID == id {
			e.containers = append(e.containers[:i], e.containers[i+1:]...)
			e.Removed = append(e.Removed, id)
			return nil
		}
	}
	return notFound("container", id)
}

func (e *Engine) ContainerLogs(_ context.Context, id string, _ container.LogsOptions) (io.ReadCloser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.find(id)
	if c == nil {
		return nil, notFound("container", id)
	}
	var buf bytes.Buffer
	if c.Logs == "" {
		return io.NopCloser(&buf), nil
	}
	if _, err := stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(c.Logs)); err != nil {
		return nil, err
	}
	return io.NopCloser(&buf), nil
}

func (e *Engine) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.images[ref] = true
	e.Pulled = append(e.Pulled, ref)
	return io.NopCloser(strings.NewReader(`{"status":"Downloaded newer image"}`)), nil
}

func (e *Engine) Close() error {
	return nil
}
