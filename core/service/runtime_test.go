package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"nfcunha/orchestrator/core/models"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRuntime(engine *fakeEngine) *RuntimeAdapter {
	return NewRuntimeAdapter(engine, RuntimeOptions{
		CallTimeout: time.Second,
		StopTimeout: time.Second,
		RetrySteps:  3,
		RetryBase:   time.Millisecond,
	})
}

func TestRuntimeStartNew(t *testing.T) {
	ctx := context.Background()

	t.Run("creates and starts", func(t *testing.T) {
		engine := newFakeEngine("nginx:latest")
		rt := newTestRuntime(engine)

		id, err := rt.StartNew(ctx, "nginx:latest", "web", []string{"nginx", "-g", "daemon off;"})
		require.NoError(t, err)
		assert.Equal(t, "running", engine.status(id))

		state, err := rt.Inspect(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRunning, state.Status)
		assert.Equal(t, "nginx:latest", state.Image)
	})

	t.Run("missing image", func(t *testing.T) {
		rt := newTestRuntime(newFakeEngine())
		_, err := rt.StartNew(ctx, "missing:tag", "web", nil)
		assert.ErrorIs(t, err, ErrImageNotFound)
	})

	t.Run("name collision", func(t *testing.T) {
		rt := newTestRuntime(newFakeEngine("nginx:latest"))
		_, err := rt.StartNew(ctx, "nginx:latest", "web", nil)
		require.NoError(t, err)
		_, err = rt.StartNew(ctx, "nginx:latest", "web", nil)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("start failure removes the created container", func(t *testing.T) {
		engine := newFakeEngine("nginx:latest")
		engine.failNext("start", errdefs.System(errors.New("exec format error")))
		rt := newTestRuntime(engine)

		_, err := rt.StartNew(ctx, "nginx:latest", "web", nil)
		assert.ErrorIs(t, err, ErrRuntime)
		assert.Equal(t, 1, engine.callCount("remove"))
		assert.Empty(t, engine.containers)
	})

	t.Run("create is not retried after a timeout", func(t *testing.T) {
		engine := newFakeEngine("nginx:latest")
		engine.failNext("create", context.DeadlineExceeded)
		rt := newTestRuntime(engine)

		_, err := rt.StartNew(ctx, "nginx:latest", "web", nil)
		assert.ErrorIs(t, err, ErrRuntimeUnavailable)
		assert.Equal(t, 1, engine.callCount("create"))
	})
}

func TestRuntimeRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine("nginx:latest")
	rt := newTestRuntime(engine)

	id, err := rt.StartNew(ctx, "nginx:latest", "web", nil)
	require.NoError(t, err)

	engine.failNext("stop", errdefs.Unavailable(errors.New("daemon busy")), context.DeadlineExceeded)
	require.NoError(t, rt.Stop(ctx, id))
	assert.Equal(t, 3, engine.callCount("stop"))
	assert.Equal(t, "exited", engine.status(id))

	engine.failNext("start",
		errdefs.Unavailable(errors.New("1")),
		errdefs.Unavailable(errors.New("2")),
		errdefs.Unavailable(errors.New("3")),
	)
	err = rt.Start(ctx, id)
	assert.ErrorIs(t, err, ErrRuntimeUnavailable)
	assert.Equal(t, "exited", engine.status(id))
}

func TestRuntimeNonTransientFailuresAreNotRetried(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine()
	rt := newTestRuntime(engine)

	err := rt.Start(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, engine.callCount("start"))

	err = rt.Stop(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, engine.callCount("stop"))

	_, err = rt.Inspect(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	// removing something that is already gone succeeds
	assert.NoError(t, rt.Remove(ctx, "nope"))
}

func TestRuntimeIdempotentStop(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine("nginx:latest")
	rt := newTestRuntime(engine)

	id, err := rt.StartNew(ctx, "nginx:latest", "web", nil)
	require.NoError(t, err)
	require.NoError(t, rt.Stop(ctx, id))
	require.NoError(t, rt.Stop(ctx, id))
	assert.Equal(t, "exited", engine.status(id))
}

func TestRuntimeReadLogs(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine("nginx:latest")
	rt := newTestRuntime(engine)

	id, err := rt.StartNew(ctx, "nginx:latest", "web", nil)
	require.NoError(t, err)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, text := range []string{"one", "two", "three", "four"} {
		engine.writeLog(id, base.Add(time.Duration(i)*time.Second), text)
	}

	lines, err := rt.ReadLogs(ctx, id, time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "three", lines[0].Text)
	assert.Equal(t, "four", lines[1].Text)
	assert.True(t, base.Add(3*time.Second).Equal(lines[1].Time))

	// since is inclusive and ignores tail
	lines, err = rt.ReadLogs(ctx, id, base.Add(time.Second), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "three", "four"}, lineTexts(lines))
}

func TestDemuxFallsBackToRawStream(t *testing.T) {
	var framed bytes.Buffer
	_, err := stdcopy.NewStdWriter(&framed, stdcopy.Stdout).Write([]byte("2024-05-01T12:00:00Z hello\n"))
	require.NoError(t, err)

	assert.Equal(t, "2024-05-01T12:00:00Z hello\n", string(demux(framed.Bytes())))

	raw := []byte("2024-05-01T12:00:00Z tty output\n")
	assert.Equal(t, raw, demux(raw))
}

func TestParseLogLines(t *testing.T) {
	lines := parseLogLines([]byte("2024-05-01T12:00:00.5Z hello world\r\nno timestamp here\n2024-05-01T12:00:01Z \n"))
	require.Len(t, lines, 3)

	assert.Equal(t, "hello world", lines[0].Text)
	assert.Equal(t, 500*time.Millisecond, lines[0].Time.Sub(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, "no timestamp here", lines[1].Text)
	assert.True(t, lines[1].Time.IsZero())
	assert.Equal(t, "", lines[2].Text)

	assert.Nil(t, parseLogLines(nil))
}

func TestRuntimeListImages(t *testing.T) {
	engine := newFakeEngine("nginx:latest", "redis:7")
	engine.images[1].RepoTags = append(engine.images[1].RepoTags, "<none>:<none>")
	engine.images[0].Labels = map[string]string{"maintainer": "nginx"}
	rt := newTestRuntime(engine)

	images, err := rt.ListImages(context.Background())
	require.NoError(t, err)
	require.Len(t, images, 2)

	assert.Equal(t, []string{"nginx:latest"}, images[0].Tags)
	assert.Equal(t, "nginx", images[0].Labels["maintainer"])
	assert.Equal(t, []string{"redis:7"}, images[1].Tags)
	assert.NotNil(t, images[1].Labels)
	assert.Equal(t, int64(1700000001), images[1].Created.Unix())
}

func TestRuntimePullImage(t *testing.T) {
	ctx := context.Background()

	t.Run("drains progress", func(t *testing.T) {
		engine := newFakeEngine()
		rt := newTestRuntime(engine)
		require.NoError(t, rt.PullImage(ctx, "alpine:3.20"))
		assert.Equal(t, 1, engine.callCount("pull"))
	})

	t.Run("in-band missing image", func(t *testing.T) {
		engine := newFakeEngine()
		engine.pullBody = `{"status":"Pulling"}` + "\n" + `{"errorDetail":{"message":"manifest unknown"},"error":"manifest unknown"}` + "\n"
		err := newTestRuntime(engine).PullImage(ctx, "alpine:nope")
		assert.ErrorIs(t, err, ErrImageNotFound)
	})

	t.Run("in-band failure", func(t *testing.T) {
		engine := newFakeEngine()
		engine.pullBody = `{"error":"write /var/lib/docker: no space left on device"}` + "\n"
		err := newTestRuntime(engine).PullImage(ctx, "alpine:3.20")
		assert.ErrorIs(t, err, ErrRuntime)
	})
}

func TestEngineStatusMapping(t *testing.T) {
	tests := map[string]models.ContainerStatus{
		"created":    models.StatusCreated,
		"running":    models.StatusRunning,
		"restarting": models.StatusRunning,
		"paused":     models.StatusRunning,
		"exited":     models.StatusStopped,
		"dead":       models.StatusStopped,
		"removing":   models.StatusRemoved,
	}
	for engineStatusName, want := range tests {
		t.Run(engineStatusName, func(t *testing.T) {
			assert.Equal(t, want, engineStatus(&types.ContainerState{Status: engineStatusName}))
		})
	}
	assert.Equal(t, models.StatusCreated, engineStatus(nil))
}

func lineTexts(lines []LogLine) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.Text)
	}
	return out
}
