package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

type fakeLine struct {
	at     time.Time
	text   string
	stderr bool
}

type fakeContainer struct {
	id     string
	name   string
	image  string
	cmd    []string
	status string
	logs   []fakeLine
}

// fakeEngine is an in-memory stand-in for the docker daemon.
type fakeEngine struct {
	mu         sync.Mutex
	images     []image.Summary
	containers map[string]*fakeContainer
	seq        int
	calls      map[string]int
	failures   map[string][]error
	pullBody   string
	stopDelay  time.Duration
	logsDelay  time.Duration
	logOptions []container.LogsOptions
}

func newFakeEngine(tags ...string) *fakeEngine {
	e := &fakeEngine{
		containers: make(map[string]*fakeContainer),
		calls:      make(map[string]int),
		failures:   make(map[string][]error),
	}
	for i, tag := range tags {
		e.images = append(e.images, image.Summary{
			ID:       fmt.Sprintf("sha256:%064x", i+1),
			RepoTags: []string{tag},
			Created:  int64(1700000000 + i),
			Size:     int64(1024 * (i + 1)),
		})
	}
	return e
}

// failNext queues errors returned by the next calls to op before it succeeds again.
func (e *fakeEngine) failNext(op string, errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[op] = append(e.failures[op], errs...)
}

func (e *fakeEngine) callCount(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[op]
}

// enter records a call and pops a queued failure. Caller holds e.mu.
func (e *fakeEngine) enter(op string) error {
	e.calls[op]++
	if q := e.failures[op]; len(q) > 0 {
		e.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (e *fakeEngine) hasImage(ref string) bool {
	for _, img := range e.images {
		if img.ID == ref {
			return true
		}
		for _, tag := range img.RepoTags {
			if tag == ref || strings.TrimSuffix(tag, ":latest") == ref {
				return true
			}
		}
	}
	return false
}

func (e *fakeEngine) lookup(id string) (*fakeContainer, error) {
	c, ok := e.containers[id]
	if !ok {
		return nil, errdefs.NotFound(fmt.Errorf("No such container: %s", id))
	}
	return c, nil
}

func (e *fakeEngine) status(id string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.containers[id]; ok {
		return c.status
	}
	return ""
}

func (e *fakeEngine) setStatus(id, status string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.containers[id].status = status
}

func (e *fakeEngine) lastLogOptions() container.LogsOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.logOptions[len(e.logOptions)-1]
}

func (e *fakeEngine) vanish(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.containers, id)
}

func (e *fakeEngine) writeLog(id string, at time.Time, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.containers[id]
	c.logs = append(c.logs, fakeLine{at: at, text: text, stderr: len(c.logs)%2 == 1})
}

func (e *fakeEngine) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.enter("create"); err != nil {
		return container.CreateResponse{}, err
	}
	if !e.hasImage(config.Image) {
		return container.CreateResponse{}, errdefs.NotFound(fmt.Errorf("No such image: %s", config.Image))
	}
	for _, c := range e.containers {
		if c.name == containerName {
			return container.CreateResponse{}, errdefs.Conflict(fmt.Errorf("name %q is already in use", containerName))
		}
	}

	e.seq++
	id := fmt.Sprintf("engine-%d", e.seq)
	e.containers[id] = &fakeContainer{id: id, name: containerName, image: config.Image, cmd: config.Cmd, status: "created"}
	return container.CreateResponse{ID: id}, nil
}

func (e *fakeEngine) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.enter("start"); err != nil {
		return err
	}
	c, err := e.lookup(containerID)
	if err != nil {
		return err
	}
	c.status = "running"
	return nil
}

func (e *fakeEngine) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	e.mu.Lock()
	delay := e.stopDelay
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.enter("stop"); err != nil {
		return err
	}
	c, err := e.lookup(containerID)
	if err != nil {
		return err
	}
	c.status = "exited"
	return nil
}

func (e *fakeEngine) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.enter("remove"); err != nil {
		return err
	}
	c, err := e.lookup(containerID)
	if err != nil {
		return err
	}
	if c.status == "running" && !options.Force {
		return errdefs.Conflict(errors.New("container is running"))
	}
	delete(e.containers, containerID)
	return nil
}

func (e *fakeEngine) ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.enter("inspect"); err != nil {
		return types.ContainerJSON{}, err
	}
	c, err := e.lookup(containerID)
	if err != nil {
		return types.ContainerJSON{}, err
	}
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:    c.id,
			Name:  "/" + c.name,
			State: &types.ContainerState{Status: c.status, Running: c.status == "running"},
		},
		Config: &container.Config{Image: c.image},
	}, nil
}

func (e *fakeEngine) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	e.mu.Lock()
	delay := e.logsDelay
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.enter("logs"); err != nil {
		return nil, err
	}
	e.logOptions = append(e.logOptions, options)
	c, err := e.lookup(containerID)
	if err != nil {
		return nil, err
	}

	lines := c.logs
	if options.Since != "" {
		since, err := parseSince(options.Since)
		if err != nil {
			return nil, errdefs.InvalidParameter(err)
		}
		kept := make([]fakeLine, 0, len(lines))
		for _, l := range lines {
			if !l.at.Before(since) {
				kept = append(kept, l)
			}
		}
		lines = kept
	}
	if options.Tail != "" && options.Tail != "all" {
		n, err := strconv.Atoi(options.Tail)
		if err != nil {
			return nil, errdefs.InvalidParameter(err)
		}
		if n < len(lines) {
			lines = lines[len(lines)-n:]
		}
	}

	var buf bytes.Buffer
	stdout := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	stderr := stdcopy.NewStdWriter(&buf, stdcopy.Stderr)
	for _, l := range lines {
		w := stdout
		if l.stderr {
			w = stderr
		}
		payload := l.text + "\n"
		if options.Timestamps {
			payload = l.at.UTC().Format(time.RFC3339Nano) + " " + payload
		}
		if _, err := w.Write([]byte(payload)); err != nil {
			return nil, err
		}
	}
	return io.NopCloser(&buf), nil
}

func (e *fakeEngine) ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.enter("images"); err != nil {
		return nil, err
	}
	return append([]image.Summary(nil), e.images...), nil
}

func (e *fakeEngine) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.enter("pull"); err != nil {
		return nil, err
	}
	body := e.pullBody
	if body == "" {
		body = `{"status":"Pulling from library/` + refStr + `"}` + "\n" + `{"status":"Download complete"}` + "\n"
		e.images = append(e.images, image.Summary{
			ID:       fmt.Sprintf("sha256:%064x", len(e.images)+100),
			RepoTags: []string{refStr},
		})
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func parseSince(s string) (time.Time, error) {
	secs, nanos, _ := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	var nsec int64
	if nanos != "" {
		if nsec, err = strconv.ParseInt(nanos, 10, 64); err != nil {
			return time.Time{}, err
		}
	}
	return time.Unix(sec, nsec), nil
}

// testStack wires the real services on top of a fake engine.
type testStack struct {
	engine   *fakeEngine
	runtime  *RuntimeAdapter
	images   *ImageCatalog
	registry *ContainerRegistry
	logs     *LogService
}

func newTestStack(tags ...string) *testStack {
	engine := newFakeEngine(tags...)
	runtime := NewRuntimeAdapter(engine, RuntimeOptions{
		CallTimeout: time.Second,
		StopTimeout: time.Second,
		RetrySteps:  3,
		RetryBase:   time.Millisecond,
	})
	images := NewImageCatalog(runtime, nil, time.Minute)
	registry := NewContainerRegistry(runtime, images, nil, nil, time.Minute)
	return &testStack{
		engine:   engine,
		runtime:  runtime,
		images:   images,
		registry: registry,
		logs:     NewLogService(runtime, registry, 100, time.Minute),
	}
}
