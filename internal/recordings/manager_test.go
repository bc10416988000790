package recordings

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ripplenote/backend/pkg/apperr"
)

type fakeProcess struct {
	mu         sync.Mutex
	terminated int
	killed     int
	hang       bool
}

func (p *fakeProcess) Terminate(grace time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated++
	return !p.hang
}

func (p *fakeProcess) Kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed++
}

type fakeRunner struct {
	mu        sync.Mutex
	processes []*fakeProcess
	paths     []string
	failStart bool
	hang      bool
}

func (r *fakeRunner) Start(outputPath string) (Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failStart {
		return nil, apperr.Upstream("start capture process", errors.New("ffmpeg missing"))
	}
	p := &fakeProcess{hang: r.hang}
	r.processes = append(r.processes, p)
	r.paths = append(r.paths, outputPath)
	return p, nil
}

func newTestManager(t *testing.T, runner Runner) *Manager {
	t.Helper()
	return NewManager(runner, t.TempDir(), 50*time.Millisecond, nil)
}

func TestStartRecording(t *testing.T) {
	runner := &fakeRunner{}
	m := newTestManager(t, runner)

	info, err := m.Start("room-1", "alice")
	require.NoError(t, err)
	assert.Contains(t, info.RecordingID, "room-1_alice_")
	assert.Contains(t, info.Filename, "room-1_alice_combined_")
	assert.Contains(t, info.Filename, ".webm")
	assert.Equal(t, StatusRecording, info.Status)
	assert.Nil(t, info.StoppedAt)
	require.Len(t, runner.paths, 1)
	assert.Equal(t, info.Filepath, runner.paths[0])
}

func TestStartRecordingProcessFailure(t *testing.T) {
	runner := &fakeRunner{failStart: true}
	m := newTestManager(t, runner)

	_, err := m.Start("room-1", "alice")
	require.ErrorIs(t, err, apperr.ErrUpstream)
	assert.Empty(t, m.List(""), "nothing is registered when the process fails to start")
}

func TestStopRecording(t *testing.T) {
	runner := &fakeRunner{}
	m := newTestManager(t, runner)
	started, err := m.Start("room-1", "alice")
	require.NoError(t, err)

	stopped, err := m.Stop(started.RecordingID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, stopped.Status)
	require.NotNil(t, stopped.StoppedAt)
	assert.False(t, stopped.StoppedAt.Before(stopped.StartedAt))
	assert.Equal(t, 1, runner.processes[0].terminated)
	assert.Equal(t, 0, runner.processes[0].killed)
}

func TestStopIsIdempotent(t *testing.T) {
	runner := &fakeRunner{}
	m := newTestManager(t, runner)
	started, err := m.Start("room-1", "alice")
	require.NoError(t, err)

	first, err := m.Stop(started.RecordingID)
	require.NoError(t, err)
	second, err := m.Stop(started.RecordingID)
	require.NoError(t, err)
	assert.Equal(t, first.StoppedAt, second.StoppedAt)
	assert.Equal(t, 1, runner.processes[0].terminated, "process is signalled only once")
}

func TestStopUnknownRecording(t *testing.T) {
	m := newTestManager(t, &fakeRunner{})
	_, err := m.Stop("nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStopKillsHangingProcess(t *testing.T) {
	runner := &fakeRunner{hang: true}
	m := newTestManager(t, runner)
	started, err := m.Start("room-1", "alice")
	require.NoError(t, err)

	stopped, err := m.Stop(started.RecordingID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, stopped.Status)
	assert.Equal(t, 1, runner.processes[0].killed)
}

func TestListFiltersByRoom(t *testing.T) {
	runner := &fakeRunner{}
	m := newTestManager(t, runner)
	a, err := m.Start("room-a", "alice")
	require.NoError(t, err)
	_, err = m.Start("room-b", "bob")
	require.NoError(t, err)

	all := m.List("")
	assert.Len(t, all, 2)

	roomA := m.List("room-a")
	require.Len(t, roomA, 1)
	assert.Equal(t, a.RecordingID, roomA[0].RecordingID)

	assert.Empty(t, m.List("room-c"))
}

func TestSnapshotExcludesProcessHandle(t *testing.T) {
	runner := &fakeRunner{}
	m := newTestManager(t, runner)
	started, err := m.Start("room-1", "alice")
	require.NoError(t, err)

	raw, err := json.Marshal(started)
	require.NoError(t, err)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.NotContains(t, fields, "process")
	assert.NotContains(t, fields, "cmd")
}

func TestShutdownStopsLiveRecordings(t *testing.T) {
	runner := &fakeRunner{}
	m := newTestManager(t, runner)
	r1, err := m.Start("room-1", "alice")
	require.NoError(t, err)
	r2, err := m.Start("room-2", "bob")
	require.NoError(t, err)
	_, err = m.Stop(r1.RecordingID)
	require.NoError(t, err)

	m.Shutdown()

	info, ok := m.Get(r2.RecordingID)
	require.True(t, ok)
	assert.Equal(t, StatusStopped, info.Status)
	assert.Equal(t, 1, runner.processes[1].terminated)
}
