// Package recordings owns the lifecycle of local call recordings: process
// start/stop, status transitions, and hand-off to durable storage.
package recordings

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ripplenote/backend/pkg/apperr"
)

// Recording status values. The only transition is recording -> stopped.
const (
	StatusRecording = "recording"
	StatusStopped   = "stopped"
)

// Info is a read-only recording snapshot. The process handle never leaves the
// manager.
type Info struct {
	RecordingID string     `json:"recording_id"`
	RoomID      string     `json:"room_id"`
	UserID      string     `json:"user_id"`
	Filename    string     `json:"filename"`
	Filepath    string     `json:"filepath"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
}

// recording is manager-owned state. mu serializes stop against concurrent
// stops and snapshot reads.
type recording struct {
	mu        sync.Mutex
	id        string
	roomID    string
	userID    string
	filename  string
	filepath  string
	process   Process
	status    string
	startedAt time.Time
	stoppedAt time.Time
}

func (r *recording) snapshot() Info {
	info := Info{
		RecordingID: r.id,
		RoomID:      r.roomID,
		UserID:      r.userID,
		Filename:    r.filename,
		Filepath:    r.filepath,
		Status:      r.status,
		StartedAt:   r.startedAt,
	}
	if r.status == StatusStopped {
		stopped := r.stoppedAt
		info.StoppedAt = &stopped
	}
	return info
}

// Manager owns the recording table and the capture processes behind it.
type Manager struct {
	runner    Runner
	outputDir string
	stopGrace time.Duration
	logger    *zap.Logger

	mu         sync.RWMutex
	recordings map[string]*recording
}

// NewManager creates a recording manager writing files under outputDir.
// stopGrace bounds the wait for graceful process exit on stop.
func NewManager(runner Runner, outputDir string, stopGrace time.Duration, logger *zap.Logger) *Manager {
	if outputDir == "" {
		outputDir = os.TempDir()
	}
	if stopGrace <= 0 {
		stopGrace = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	_ = os.MkdirAll(outputDir, 0750)
	return &Manager{
		runner:     runner,
		outputDir:  outputDir,
		stopGrace:  stopGrace,
		logger:     logger,
		recordings: make(map[string]*recording),
	}
}

// Filename builds the deterministic recording filename.
func Filename(roomID, userID, mediaType string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s.webm", roomID, userID, mediaType, at.Format("20060102_150405"))
}

// Start spawns a capture process for the participant and registers the
// recording. Nothing is registered when the process fails to start. Room
// membership is the caller's precondition; the ids are only used for naming.
func (m *Manager) Start(roomID, userID string) (Info, error) {
	now := time.Now()
	id := fmt.Sprintf("%s_%s_%d", roomID, userID, now.UnixNano())
	filename := Filename(roomID, userID, "combined", now)
	path := filepath.Join(m.outputDir, filename)

	process, err := m.runner.Start(path)
	if err != nil {
		return Info{}, err
	}

	rec := &recording{
		id:        id,
		roomID:    roomID,
		userID:    userID,
		filename:  filename,
		filepath:  path,
		process:   process,
		status:    StatusRecording,
		startedAt: now,
	}

	m.mu.Lock()
	m.recordings[id] = rec
	m.mu.Unlock()

	m.logger.Info("recording started",
		zap.String("recording_id", id),
		zap.String("room_id", roomID),
		zap.String("user_id", userID),
		zap.String("output", path),
	)
	return rec.snapshot(), nil
}

// Stop terminates the capture process (bounded graceful wait, then kill) and
// marks the recording stopped. Stopping an already-stopped recording is a
// no-op returning the current snapshot; unknown ids are NotFound.
func (m *Manager) Stop(recordingID string) (Info, error) {
	m.mu.RLock()
	rec, ok := m.recordings[recordingID]
	m.mu.RUnlock()
	if !ok {
		return Info{}, apperr.NotFound("recording %s", recordingID)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.status == StatusStopped {
		return rec.snapshot(), nil
	}

	if !rec.process.Terminate(m.stopGrace) {
		m.logger.Warn("capture process did not exit in time, killing",
			zap.String("recording_id", recordingID),
		)
		rec.process.Kill()
	}
	rec.status = StatusStopped
	rec.stoppedAt = time.Now()

	m.logger.Info("recording stopped",
		zap.String("recording_id", recordingID),
		zap.String("output", rec.filepath),
	)
	return rec.snapshot(), nil
}

// Get returns a snapshot of the recording, or false if unknown.
func (m *Manager) Get(recordingID string) (Info, bool) {
	m.mu.RLock()
	rec, ok := m.recordings[recordingID]
	m.mu.RUnlock()
	if !ok {
		return Info{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.snapshot(), true
}

// List returns snapshots of all recordings, optionally filtered to one room,
// ordered by start time.
func (m *Manager) List(roomID string) []Info {
	m.mu.RLock()
	all := make([]*recording, 0, len(m.recordings))
	for _, rec := range m.recordings {
		all = append(all, rec)
	}
	m.mu.RUnlock()

	list := make([]Info, 0, len(all))
	for _, rec := range all {
		rec.mu.Lock()
		info := rec.snapshot()
		rec.mu.Unlock()
		if roomID != "" && info.RoomID != roomID {
			continue
		}
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.Before(list[j].StartedAt) })
	return list
}

// Shutdown force-stops every live capture. Called once during process
// shutdown so no ffmpeg child outlives the server.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	all := make([]*recording, 0, len(m.recordings))
	for _, rec := range m.recordings {
		all = append(all, rec)
	}
	m.mu.RUnlock()

	stopped := 0
	for _, rec := range all {
		rec.mu.Lock()
		if rec.status == StatusRecording {
			if !rec.process.Terminate(m.stopGrace) {
				rec.process.Kill()
			}
			rec.status = StatusStopped
			rec.stoppedAt = time.Now()
			stopped++
		}
		rec.mu.Unlock()
	}
	if stopped > 0 {
		m.logger.Info("recordings stopped on shutdown", zap.Int("count", stopped))
	}
}
