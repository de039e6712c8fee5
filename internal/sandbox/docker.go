package sandbox

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	"gittyup-client/internal/repo"
)

const (
	containerPrefix = "gittyup-preview-"
	workDir         = "/app"
	devServerPort   = "5173/tcp"
)

// DockerInstance runs the preview inside a local Docker container. The
// container idles after boot; the pipeline mounts the repository tree into
// /app and execs install/dev-server commands against it. The dev server's
// container port is published to a loopback host port, which becomes the
// preview URL once something inside accepts connections.
type DockerInstance struct {
	image string

	cli           *client.Client
	containerID   string
	containerName string
	hostPort      int

	ctx    context.Context
	cancel context.CancelFunc

	output chan string
	ready  chan string

	mu        sync.Mutex
	closed    bool
	stopOnce  sync.Once
	readyOnce sync.Once
}

// NewDockerInstance creates an unbooted Docker-backed instance using the
// given image (a Node-capable image for npm-based projects).
func NewDockerInstance(image string) *DockerInstance {
	return &DockerInstance{
		image:  image,
		output: make(chan string, 256),
		ready:  make(chan string, 1),
	}
}

// DockerFactory returns a Factory producing Docker instances of the image.
func DockerFactory(image string) Factory {
	return func() Instance { return NewDockerInstance(image) }
}

func (d *DockerInstance) Boot(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(context.Background())

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("create docker client: %w", err)
	}
	d.cli = cli

	d.hostPort, err = FindFreePort()
	if err != nil {
		return fmt.Errorf("find free preview port: %w", err)
	}

	if err := d.ensureImage(ctx); err != nil {
		return err
	}

	d.containerName = containerPrefix + uuid.NewString()[:8]
	created, err := cli.ContainerCreate(ctx,
		&container.Config{
			Image:      d.image,
			WorkingDir: workDir,
			Cmd:        []string{"sleep", "infinity"},
			ExposedPorts: nat.PortSet{
				devServerPort: struct{}{},
			},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				devServerPort: []nat.PortBinding{{
					HostIP:   "127.0.0.1",
					HostPort: strconv.Itoa(d.hostPort),
				}},
			},
			AutoRemove: true,
		},
		nil, nil, d.containerName)
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	d.containerID = created.ID

	if err := cli.ContainerStart(ctx, d.containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container: %w", err)
	}

	log.Printf("sandbox: container %s (%s) up, preview port %d", d.containerName, shortID(d.containerID), d.hostPort)
	return nil
}

// ensureImage pulls the image, tolerating pull failure when a local copy
// exists (offline hosts).
func (d *DockerInstance) ensureImage(ctx context.Context) error {
	reader, err := d.cli.ImagePull(ctx, d.image, image.PullOptions{})
	if err == nil {
		defer reader.Close()
		_, _ = io.Copy(io.Discard, reader)
		return nil
	}

	if _, _, inspectErr := d.cli.ImageInspectWithRaw(ctx, d.image); inspectErr == nil {
		log.Printf("sandbox: pull of %s failed (%v), using local image", d.image, err)
		return nil
	}
	return fmt.Errorf("pull image %s: %w", d.image, err)
}

func (d *DockerInstance) Mount(ctx context.Context, tree *repo.Tree) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(tree.WriteTar(pw, "app"))
	}()

	if err := d.cli.CopyToContainer(ctx, d.containerID, "/", pr, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("mount tree into container: %w", err)
	}
	return nil
}

func (d *DockerInstance) Run(ctx context.Context, argv ...string) (int, error) {
	execID, hijacked, err := d.exec(ctx, argv)
	if err != nil {
		return -1, err
	}
	defer hijacked.Close()

	writer := newLineWriter(d.emit)
	if _, err := stdcopy.StdCopy(writer, writer, hijacked.Reader); err != nil && ctx.Err() == nil {
		return -1, fmt.Errorf("stream %v output: %w", argv, err)
	}
	writer.Flush()

	for {
		inspect, err := d.cli.ContainerExecInspect(ctx, execID)
		if err != nil {
			return -1, fmt.Errorf("inspect exec %v: %w", argv, err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (d *DockerInstance) Start(ctx context.Context, argv ...string) error {
	_, hijacked, err := d.exec(ctx, argv)
	if err != nil {
		return err
	}

	go func() {
		defer hijacked.Close()
		writer := newLineWriter(d.emit)
		_, _ = stdcopy.StdCopy(writer, writer, hijacked.Reader)
		writer.Flush()
	}()

	go d.watchReady()
	return nil
}

func (d *DockerInstance) exec(ctx context.Context, argv []string) (string, types.HijackedResponse, error) {
	created, err := d.cli.ContainerExecCreate(ctx, d.containerID, container.ExecOptions{
		Cmd:          argv,
		WorkingDir:   workDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", types.HijackedResponse{}, fmt.Errorf("create exec %v: %w", argv, err)
	}

	attached, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", types.HijackedResponse{}, fmt.Errorf("attach exec %v: %w", argv, err)
	}
	return created.ID, attached, nil
}

// watchReady polls the published preview port until something inside the
// container answers, then reports the URL exactly once.
func (d *DockerInstance) watchReady() {
	url := fmt.Sprintf("http://127.0.0.1:%d/", d.hostPort)
	client := &http.Client{Timeout: time.Second}

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-time.After(250 * time.Millisecond):
		}

		resp, err := client.Get(url)
		if err != nil {
			continue
		}
		resp.Body.Close()

		d.readyOnce.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if d.closed {
				return
			}
			select {
			case d.ready <- url:
			default:
			}
		})
		return
	}
}

func (d *DockerInstance) Output() <-chan string { return d.output }
func (d *DockerInstance) Ready() <-chan string  { return d.ready }

// emit forwards one output line without ever blocking the stream; a full
// buffer drops the line rather than stalling the container's pipes.
func (d *DockerInstance) emit(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.output <- line:
	default:
		log.Printf("sandbox: output buffer full, dropped line")
	}
}

func (d *DockerInstance) Stop() {
	d.stopOnce.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
		if d.cli != nil && d.containerID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := d.cli.ContainerRemove(ctx, d.containerID, container.RemoveOptions{Force: true}); err != nil {
				log.Printf("sandbox: remove container %s: %v", shortID(d.containerID), err)
			}
			_ = d.cli.Close()
		}
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.output)
		close(d.ready)
	})
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
