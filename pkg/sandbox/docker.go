// Package sandbox runs a stage's supervised subprocess inside an
// ephemeral Docker container instead of directly on the host, when
// configuration opts into container isolation. Client construction and
// exec/copy plumbing follow agents/shared/docker/client.go closely:
// client.FromEnv with API version negotiation, stdcopy demultiplexing
// for exec output, and tar-stream CopyToContainer for seeding bundle
// files.
package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// Client wraps a Docker Engine API client scoped to running one
// bundle's tool invocation per container.
type Client struct {
	api *client.Client
}

// NewClient connects using the standard Docker environment variables
// (DOCKER_HOST, DOCKER_CERT_PATH, ...).
func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandbox: connecting to docker: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("sandbox: docker daemon unreachable: %w", err)
	}
	return &Client{api: cli}, nil
}

// Close releases the underlying API client.
func (c *Client) Close() error {
	if c == nil || c.api == nil {
		return nil
	}
	return c.api.Close()
}

// RunSpec describes one sandboxed invocation: an image, the bundle
// files to seed into /work, and the command to run there.
type RunSpec struct {
	Image   string
	Bundle  map[string][]byte // relative path under /work -> contents
	Command []string
	Env     []string

	// ExposePort publishes a container port to a host port chosen by
	// the daemon, for the one case a sandboxed run isn't purely
	// egress-only: a live-chain benchmark mode (§4.10) that runs its
	// own anvil instance inside the bundle container and needs
	// pkg/rpcgate on the host to reach it. Zero means no network at
	// all (the default, network isolated).
	ExposePort uint16
}

// RunResult is the captured outcome of a sandboxed run.
type RunResult struct {
	Stdout       string
	Stderr       string
	ExitCode     int
	HostEndpoint string // set when spec.ExposePort was non-zero
}

const workdir = "/work"

// Run creates a fresh container from spec.Image, seeds the bundle,
// executes the command, captures output, and always removes the
// container afterward regardless of outcome.
func (c *Client) Run(ctx context.Context, spec RunSpec) (RunResult, error) {
	containerID, err := c.createContainer(ctx, spec.Image, spec.ExposePort)
	if err != nil {
		return RunResult{}, err
	}
	defer func() {
		_ = c.api.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	}()

	if err := c.api.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return RunResult{}, fmt.Errorf("sandbox: starting container: %w", err)
	}

	if err := c.seedBundle(ctx, containerID, spec.Bundle); err != nil {
		return RunResult{}, err
	}

	result, err := c.exec(ctx, containerID, spec.Command, spec.Env)
	if err != nil {
		return RunResult{}, err
	}

	if spec.ExposePort != 0 {
		endpoint, err := c.hostEndpoint(ctx, containerID, spec.ExposePort)
		if err != nil {
			return RunResult{}, err
		}
		result.HostEndpoint = endpoint
	}
	return result, nil
}

func (c *Client) createContainer(ctx context.Context, image string, exposePort uint16) (string, error) {
	hostConfig := &container.HostConfig{
		NetworkMode: "none",
		AutoRemove:  false,
	}
	cfg := &container.Config{
		Image:      image,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: workdir,
	}

	if exposePort != 0 {
		containerPort, err := nat.NewPort("tcp", strconv.Itoa(int(exposePort)))
		if err != nil {
			return "", fmt.Errorf("sandbox: invalid expose port %d: %w", exposePort, err)
		}
		cfg.ExposedPorts = nat.PortSet{containerPort: struct{}{}}
		hostConfig.NetworkMode = "bridge"
		hostConfig.PortBindings = nat.PortMap{
			containerPort: []nat.PortBinding{{HostIP: "127.0.0.1"}},
		}
	}

	resp, err := c.api.ContainerCreate(ctx, cfg, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("sandbox: creating container from %s: %w", image, err)
	}
	return resp.ID, nil
}

// hostEndpoint resolves the host-published address for the container
// port requested via RunSpec.ExposePort.
func (c *Client) hostEndpoint(ctx context.Context, containerID string, exposePort uint16) (string, error) {
	inspect, err := c.api.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("sandbox: inspecting container for port binding: %w", err)
	}
	containerPort, err := nat.NewPort("tcp", strconv.Itoa(int(exposePort)))
	if err != nil {
		return "", fmt.Errorf("sandbox: invalid expose port %d: %w", exposePort, err)
	}
	bindings, ok := inspect.NetworkSettings.Ports[containerPort]
	if !ok || len(bindings) == 0 {
		return "", fmt.Errorf("sandbox: no host binding found for container port %d", exposePort)
	}
	return fmt.Sprintf("http://127.0.0.1:%s", bindings[0].HostPort), nil
}

func (c *Client) seedBundle(ctx context.Context, containerID string, files map[string][]byte) error {
	if len(files) == 0 {
		return nil
	}
	buf, err := buildTar(files)
	if err != nil {
		return err
	}
	return c.api.CopyToContainer(ctx, containerID, workdir, buf, types.CopyToContainerOptions{
		AllowOverwriteDirWithFile: true,
	})
}

// buildTar packs files into a tar stream, relative paths with any
// leading slash stripped. Split out from seedBundle so the packing
// logic is testable without a docker daemon.
func buildTar(files map[string][]byte) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, data := range files {
		hdr := &tar.Header{
			Name:    strings.TrimPrefix(name, "/"),
			Mode:    0o644,
			Size:    int64(len(data)),
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("sandbox: writing tar header for %s: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return nil, fmt.Errorf("sandbox: writing tar content for %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("sandbox: closing tar stream: %w", err)
	}
	return &buf, nil
}

func (c *Client) exec(ctx context.Context, containerID string, cmd, env []string) (RunResult, error) {
	if len(cmd) == 0 {
		return RunResult{}, fmt.Errorf("sandbox: command required")
	}
	execResp, err := c.api.ContainerExecCreate(ctx, containerID, types.ExecConfig{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
		Env:          env,
		WorkingDir:   workdir,
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("sandbox: creating exec: %w", err)
	}
	attach, err := c.api.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return RunResult{}, fmt.Errorf("sandbox: attaching exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil && err != io.EOF {
		return RunResult{}, fmt.Errorf("sandbox: reading exec output: %w", err)
	}

	inspect, err := c.api.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return RunResult{}, fmt.Errorf("sandbox: inspecting exec: %w", err)
	}

	return RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}
