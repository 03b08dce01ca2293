package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"
)

// DefaultImage is the container image DockerLauncher runs.
const DefaultImage = "browserless/chrome:latest"

const devtoolsPort nat.Port = "3000/tcp"

// DockerLauncher runs one browserless container per instance and removes it
// when the instance is closed.
type DockerLauncher struct {
	client *client.Client
	image  string
	log    *zap.Logger
	http   *http.Client
}

// NewDockerLauncher connects to the Docker daemon described by the
// environment (DOCKER_HOST and friends).
func NewDockerLauncher(img string, log *zap.Logger) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if img == "" {
		img = DefaultImage
	}
	return &DockerLauncher{
		client: cli,
		image:  img,
		log:    log,
		http:   &http.Client{Timeout: 2 * time.Second},
	}, nil
}

func (d *DockerLauncher) Launch(ctx context.Context, opts LaunchOptions) (Instance, error) {
	name := "invite-" + shortID(opts.CorrelationID)
	cfg := &container.Config{
		Image: d.image,
		Labels: map[string]string{
			"correlation-id": opts.CorrelationID,
			"managed-by":     "invite-runner",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"EXIT_ON_HEALTH_FAILURE=false",
		},
		ExposedPorts: nat.PortSet{devtoolsPort: struct{}{}},
	}
	host := &container.HostConfig{
		PortBindings: nat.PortMap{
			devtoolsPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: "0"}},
		},
	}

	resp, err := d.client.ContainerCreate(ctx, cfg, host, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	release := func() { d.remove(resp.ID) }

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		release()
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := d.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	bindings := inspect.NetworkSettings.Ports[devtoolsPort]
	if len(bindings) == 0 {
		release()
		return nil, fmt.Errorf("container %s exposes no devtools port", shortID(resp.ID))
	}
	port := bindings[0].HostPort

	if err := d.waitReady(ctx, port); err != nil {
		release()
		return nil, fmt.Errorf("browser failed to become ready: %w", err)
	}

	d.log.Info("browser container started",
		zap.String("correlation_id", opts.CorrelationID),
		zap.String("container", shortID(resp.ID)),
		zap.String("port", port))

	return connect(ctx, controlURL(port, opts), opts, release, d.log)
}

// controlURL passes launch flags through browserless query parameters.
func controlURL(port string, opts LaunchOptions) string {
	q := url.Values{}
	flags := make([]string, 0, len(automationFlags))
	for name := range automationFlags {
		flags = append(flags, name)
	}
	sort.Strings(flags)
	for _, name := range flags {
		q.Set("--"+name, automationFlags[name])
	}
	q.Set("--window-size", fmt.Sprintf("%d,%d", opts.Fingerprint.Width, opts.Fingerprint.Height))
	if opts.Proxy != nil {
		q.Set("--proxy-server", opts.Proxy.Address())
	}
	q.Set("headless", fmt.Sprint(opts.Headless))
	return fmt.Sprintf("ws://127.0.0.1:%s?%s", port, q.Encode())
}

// waitReady polls /json/version until the browser answers or ctx ends.
func (d *DockerLauncher) waitReady(ctx context.Context, port string) error {
	endpoint := fmt.Sprintf("http://127.0.0.1:%s/json/version", port)
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		if resp, err := d.http.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// remove stops and deletes a container on a detached context so cleanup
// survives cancellation of the run.
func (d *DockerLauncher) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	timeout := 5
	if err := d.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		d.log.Warn("failed to stop container", zap.String("container", shortID(id)), zap.Error(err))
	}
	if err := d.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		d.log.Warn("failed to remove container", zap.String("container", shortID(id)), zap.Error(err))
	}
}

// EnsureImage pulls the browser image when it is not present locally.
func (d *DockerLauncher) EnsureImage(ctx context.Context) error {
	images, err := d.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == d.image {
				return nil
			}
		}
	}

	d.log.Info("pulling browser image", zap.String("image", d.image))
	reader, err := d.client.ImagePull(ctx, d.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close releases the Docker client.
func (d *DockerLauncher) Close() error {
	return d.client.Close()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
