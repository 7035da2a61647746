// Package service provides the control plane: runtime adapter, image catalog,
// container registry, log access and reconciliation.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"nfcunha/orchestrator/core/models"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"
)

// ManagedLabel marks engine containers created by the orchestrator.
const ManagedLabel = "orchestrator.managed"

// Engine is the subset of the docker client the adapter drives.
type Engine interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

// RuntimeOptions tunes timeouts and retries of the adapter.
type RuntimeOptions struct {
	CallTimeout time.Duration // per engine call
	PullTimeout time.Duration // per image pull, progress stream included
	StopTimeout time.Duration // grace period before the engine kills the process
	RetrySteps  int           // attempts for transient failures, first one included
	RetryBase   time.Duration // initial backoff, doubled per attempt
}

// RuntimeState is what the engine reports about one container.
type RuntimeState struct {
	Status models.ContainerStatus
	Image  string
}

// LogLine is one timestamped line of container output.
type LogLine struct {
	Time time.Time
	Text string
}

// RuntimeAdapter is the only component with side effects on the engine.
// It translates engine errors into the service error taxonomy and retries
// transient failures with exponential backoff.
type RuntimeAdapter struct {
	engine  Engine
	opts    RuntimeOptions
	backoff wait.Backoff
}

// NewRuntimeAdapter creates an adapter; zero options fall back to defaults.
func NewRuntimeAdapter(engine Engine, opts RuntimeOptions) *RuntimeAdapter {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.PullTimeout <= 0 {
		opts.PullTimeout = 5 * time.Minute
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	if opts.RetrySteps < 1 {
		opts.RetrySteps = 1
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 200 * time.Millisecond
	}

	return &RuntimeAdapter{
		engine: engine,
		opts:   opts,
		backoff: wait.Backoff{
			Steps:    opts.RetrySteps,
			Duration: opts.RetryBase,
			Factor:   2,
			Jitter:   0.1,
		},
	}
}

// StartNew creates a container from imageRef and starts it, returning the engine id.
// A container that was created but failed to start is removed again.
func (a *RuntimeAdapter) StartNew(ctx context.Context, imageRef, name string, cmd []string) (string, error) {
	log := logrus.WithFields(logrus.Fields{"image": imageRef, "name": name})

	config := &container.Config{
		Image:  imageRef,
		Labels: map[string]string{ManagedLabel: "true"},
	}
	if len(cmd) > 0 {
		config.Cmd = cmd
	}

	// create is not idempotent: only retry when the request never reached the daemon
	var engineID string
	err := a.call(ctx, "create container", a.opts.CallTimeout, client.IsErrConnectionFailed, func(ctx context.Context) error {
		resp, err := a.engine.ContainerCreate(ctx, config, &container.HostConfig{}, nil, nil, name)
		if err != nil {
			return err
		}
		engineID = resp.ID
		return nil
	})
	if err != nil {
		log.Warnf("Failed to create container: %v", err)
		return "", a.classify("create container", err, ErrImageNotFound)
	}

	if err := a.Start(ctx, engineID); err != nil {
		if rmErr := a.Remove(context.WithoutCancel(ctx), engineID); rmErr != nil {
			log.Warnf("Failed to clean up container %s after start failure: %v", engineID, rmErr)
		}
		return "", err
	}

	log.WithField("engine_id", engineID).Info("Container created and started")
	return engineID, nil
}

// Start starts an existing container. Starting a running container succeeds;
// a container the engine no longer knows is ErrNotFound.
func (a *RuntimeAdapter) Start(ctx context.Context, engineID string) error {
	err := a.call(ctx, "start container", a.opts.CallTimeout, isTransient, func(ctx context.Context) error {
		return a.engine.ContainerStart(ctx, engineID, container.StartOptions{})
	})
	return a.classify("start container", err, ErrNotFound)
}

// Stop stops a container. Stopping a stopped container succeeds; a container
// the engine no longer knows is ErrNotFound.
func (a *RuntimeAdapter) Stop(ctx context.Context, engineID string) error {
	timeout := int(a.opts.StopTimeout.Seconds())
	err := a.call(ctx, "stop container", a.opts.StopTimeout+a.opts.CallTimeout, isTransient, func(ctx context.Context) error {
		return a.engine.ContainerStop(ctx, engineID, container.StopOptions{Timeout: &timeout})
	})
	return a.classify("stop container", err, ErrNotFound)
}

// Remove force-removes a container. Removing a missing container succeeds.
func (a *RuntimeAdapter) Remove(ctx context.Context, engineID string) error {
	err := a.call(ctx, "remove container", a.opts.CallTimeout, isTransient, func(ctx context.Context) error {
		return a.engine.ContainerRemove(ctx, engineID, container.RemoveOptions{Force: true})
	})
	return a.classify("remove container", err, nil)
}

// Inspect reports the engine's view of a container; ErrNotFound if it is gone.
func (a *RuntimeAdapter) Inspect(ctx context.Context, engineID string) (*RuntimeState, error) {
	var info types.ContainerJSON
	err := a.call(ctx, "inspect container", a.opts.CallTimeout, isTransient, func(ctx context.Context) error {
		var err error
		info, err = a.engine.ContainerInspect(ctx, engineID)
		return err
	})
	if err != nil {
		return nil, a.classify("inspect container", err, ErrNotFound)
	}

	state := &RuntimeState{Status: models.StatusCreated}
	if info.ContainerJSONBase != nil {
		state.Status = engineStatus(info.State)
	}
	if info.Config != nil {
		state.Image = info.Config.Image
	}
	return state, nil
}

// ReadLogs returns the lines written at or after since. With a zero since, only
// the last tail lines are read so the full history is never scanned.
func (a *RuntimeAdapter) ReadLogs(ctx context.Context, engineID string, since time.Time, tail int) ([]LogLine, error) {
	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Tail:       "all",
	}
	if !since.IsZero() {
		opts.Since = fmt.Sprintf("%d.%09d", since.Unix(), since.Nanosecond())
	} else if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}

	var raw []byte
	err := a.call(ctx, "read logs", a.opts.CallTimeout, isTransient, func(ctx context.Context) error {
		rc, err := a.engine.ContainerLogs(ctx, engineID, opts)
		if err != nil {
			return err
		}
		defer rc.Close()
		raw, err = io.ReadAll(rc)
		return err
	})
	if err != nil {
		return nil, a.classify("read logs", err, ErrRuntime)
	}

	return parseLogLines(demux(raw)), nil
}

// ListImages lists the images present on the engine.
func (a *RuntimeAdapter) ListImages(ctx context.Context) ([]models.Image, error) {
	var summaries []image.Summary
	err := a.call(ctx, "list images", a.opts.CallTimeout, isTransient, func(ctx context.Context) error {
		var err error
		summaries, err = a.engine.ImageList(ctx, image.ListOptions{})
		return err
	})
	if err != nil {
		return nil, a.classify("list images", err, ErrRuntime)
	}

	return lo.Map(summaries, func(s image.Summary, _ int) models.Image {
		return toImage(s)
	}), nil
}

// PullImage pulls ref and waits for the progress stream to finish.
func (a *RuntimeAdapter) PullImage(ctx context.Context, ref string) error {
	err := a.call(ctx, "pull image", a.opts.PullTimeout, isTransient, func(ctx context.Context) error {
		rc, err := a.engine.ImagePull(ctx, ref, image.PullOptions{})
		if err != nil {
			return err
		}
		defer rc.Close()
		return drainPull(rc)
	})
	return a.classify("pull image", err, ErrImageNotFound)
}

// call runs fn with a per-attempt timeout, retrying while retriable says so
// and the caller's context is still live.
func (a *RuntimeAdapter) call(ctx context.Context, op string, timeout time.Duration, retriable func(error) bool, fn func(ctx context.Context) error) error {
	attempt := 0
	return retry.OnError(a.backoff, func(err error) bool {
		if ctx.Err() != nil || !retriable(err) {
			return false
		}
		logrus.WithFields(logrus.Fields{"op": op, "attempt": attempt}).Debugf("Transient runtime failure: %v", err)
		return true
	}, func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(callCtx)
	})
}

// classify maps an engine error onto the taxonomy. missing is the error used
// when the engine reports the object does not exist; nil treats that as success.
func (a *RuntimeAdapter) classify(op string, err error, missing error) error {
	switch {
	case err == nil:
		return nil
	case isTaxonomy(err):
		return err
	case errdefs.IsNotFound(err):
		if missing == nil {
			return nil
		}
		return fmt.Errorf("%w: %s: %v", missing, op, err)
	case errdefs.IsConflict(err):
		return fmt.Errorf("%w: %s: %v", ErrConflict, op, err)
	case errdefs.IsInvalidParameter(err):
		return fmt.Errorf("%w: %s: %v", ErrValidation, op, err)
	case isTransient(err):
		return fmt.Errorf("%w: %s: %v", ErrRuntimeUnavailable, op, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrRuntime, op, err)
	}
}

func isTransient(err error) bool {
	return client.IsErrConnectionFailed(err) ||
		errdefs.IsUnavailable(err) ||
		errdefs.IsDeadline(err) ||
		errors.Is(err, context.DeadlineExceeded)
}

func isTaxonomy(err error) bool {
	for _, target := range []error{ErrNotFound, ErrImageNotFound, ErrConflict, ErrRuntime, ErrRuntimeUnavailable, ErrValidation} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func engineStatus(state *types.ContainerState) models.ContainerStatus {
	if state == nil {
		return models.StatusCreated
	}
	switch state.Status {
	case "created":
		return models.StatusCreated
	case "running", "restarting", "paused":
		return models.StatusRunning
	case "removing":
		return models.StatusRemoved
	default:
		// exited, dead
		return models.StatusStopped
	}
}

func toImage(s image.Summary) models.Image {
	labels := s.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	return models.Image{
		ID: s.ID,
		Tags: lo.Filter(s.RepoTags, func(tag string, _ int) bool {
			return tag != "<none>:<none>"
		}),
		Labels:  labels,
		Created: time.Unix(s.Created, 0).UTC(),
		Size:    s.Size,
	}
}

// demux strips the 8-byte frame headers of a non-TTY log stream. TTY
// containers produce a raw stream, which is returned unchanged.
func demux(raw []byte) []byte {
	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, bytes.NewReader(raw)); err != nil {
		return raw
	}
	return out.Bytes()
}

// parseLogLines splits "<RFC3339Nano> <text>" lines as written with Timestamps set.
func parseLogLines(data []byte) []LogLine {
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil
	}

	parts := strings.Split(text, "\n")
	lines := make([]LogLine, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSuffix(p, "\r")
		ts, rest, ok := strings.Cut(p, " ")
		if !ok {
			ts, rest = p, ""
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			lines = append(lines, LogLine{Time: t, Text: rest})
			continue
		}
		lines = append(lines, LogLine{Text: p})
	}
	return lines
}

type pullMessage struct {
	Status      string `json:"status"`
	Error       string `json:"error"`
	ErrorDetail *struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

// drainPull consumes the JSON progress stream; errors are reported in-band.
func drainPull(r io.Reader) error {
	dec := json.NewDecoder(r)
	for {
		var msg pullMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode pull progress: %w", err)
		}

		text := msg.Error
		if text == "" && msg.ErrorDetail != nil {
			text = msg.ErrorDetail.Message
		}
		if text == "" {
			continue
		}
		if isMissingImage(text) {
			return fmt.Errorf("%w: %s", ErrImageNotFound, text)
		}
		return fmt.Errorf("%w: %s", ErrRuntime, text)
	}
}

func isMissingImage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, s := range []string{"not found", "manifest unknown", "pull access denied", "does not exist"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
