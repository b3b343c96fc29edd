package docker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neverDefined/go-regtest/internal/docker"
	"github.com/neverDefined/go-regtest/internal/docker/dockertest"
)

var _ docker.API = (*dockertest.Engine)(nil)

func TestFindByCommand(t *testing.T) {
	ctx := context.Background()
	engine := dockertest.New()
	running := engine.AddContainer(&dockertest.Container{Cmd: []string{"bitcoind", "-regtest"}, Running: true})
	engine.AddContainer(&dockertest.Container{Cmd: []string{"redis-server"}, Running: true})
	stopped := engine.AddContainer(&dockertest.Container{Cmd: []string{"bitcoind", "-regtest"}})
	engine.AddContainer(&dockertest.Container{Cmd: nil, Running: true})

	m := docker.NewManagerWithAPI(engine)

	refs, err := m.FindByCommand(ctx, "bitcoind", false)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, running.ID, refs[0].ID)

	refs, err = m.FindByCommand(ctx, "bitcoind", true)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	require.Equal(t, stopped.ID, refs[1].ID)
}

func TestRunPullsMissingImage(t *testing.T) {
	ctx := context.Background()
	engine := dockertest.New()
	m := docker.NewManagerWithAPI(engine)

	ref, err := m.Run(ctx, &docker.RunOpts{
		Name:               "regtest-test",
		Image:              "example/bitcoind:latest",
		Cmd:                []string{"bitcoind", "-regtest"},
		PortSpecs:          []string{"18543:18543"},
		PullImageIfMissing: true,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"example/bitcoind:latest"}, engine.Pulled)

	running, err := ref.IsRunning(ctx)
	require.NoError(t, err)
	require.True(t, running)

	c := engine.Get(ref.ID)
	require.Equal(t, []string{"18543:18543"}, c.Ports)
	require.Equal(t, []string{"bitcoind", "-regtest"}, c.Cmd)
}

func TestRunWithoutPullFailsOnMissingImage(t *testing.T) {
	m := docker.NewManagerWithAPI(dockertest.New())

	_, err := m.Run(context.Background(), &docker.RunOpts{Image: "example/missing"})
	require.Error(t, err)
	require.True(t, docker.IsNotFound(err))
}

func TestRunRejectsBadPortSpec(t *testing.T) {
	m := docker.NewManagerWithAPI(dockertest.New("img"))

	_, err := m.Run(context.Background(), &docker.RunOpts{Image: "img", PortSpecs: []string{"not-a-port"}})
	require.Error(t, err)
}

func TestContainerRefLifecycle(t *testing.T) {
	ctx := context.Background()
	engine := dockertest.New()
	c := engine.AddContainer(&dockertest.Container{
		Cmd:     []string{"bitcoind"},
		Running: true,
		IP:      "172.17.0.5",
		Logs:    "Bitcoin Core starting\n",
	})
	m := docker.NewManagerWithAPI(engine)
	ref := m.NewContainerRef(c.ID)

	ip, err := ref.IPAddress(ctx)
	require.NoError(t, err)
	require.Equal(t, "172.17.0.5", ip)

	logs, err := ref.Logs(ctx)
	require.NoError(t, err)
	require.Equal(t, "Bitcoin Core starting\n", logs)

	require.NoError(t, ref.Stop(ctx))
	running, err := ref.IsRunning(ctx)
	require.NoError(t, err)
	require.False(t, running)

	require.NoError(t, ref.Remove(ctx))
	running, err = ref.IsRunning(ctx)
	require.NoError(t, err, "a removed container is simply not running")
	require.False(t, running)

	_, err = ref.Inspect(ctx)
	require.True(t, docker.IsNotFound(err))
}
