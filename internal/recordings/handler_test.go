package recordings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ripplenote/backend/internal/calls"
	"github.com/ripplenote/backend/pkg/apperr"
	"github.com/ripplenote/backend/pkg/storage"
)

type fakeRooms struct {
	rooms map[string][]string
}

func (f *fakeRooms) GetRoom(roomID string) (calls.RoomInfo, bool) {
	members, ok := f.rooms[roomID]
	if !ok {
		return calls.RoomInfo{}, false
	}
	return calls.RoomInfo{RoomID: roomID, Participants: members, Status: calls.StatusActive}, true
}

type fakeUploader struct {
	mu      sync.Mutex
	uploads []string
	fail    error
}

func (f *fakeUploader) UploadRecording(ctx context.Context, localPath, recordingID string) (*storage.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	if _, err := os.Stat(localPath); os.IsNotExist(err) {
		return nil, apperr.NotFound("recording file %s", localPath)
	}
	f.uploads = append(f.uploads, recordingID)
	return &storage.UploadResult{
		URL:  "https://bucket.s3.us-east-1.amazonaws.com/recordings/" + recordingID,
		Key:  "recordings/" + recordingID,
		Size: 42,
	}, nil
}

func (f *fakeUploader) PresignDownload(ctx context.Context, key string) (string, error) {
	return "https://signed.example.com/" + key, nil
}

func (f *fakeUploader) PresignExpire() time.Duration { return time.Hour }

func (f *fakeUploader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

type handlerFixture struct {
	manager  *Manager
	runner   *fakeRunner
	uploader *fakeUploader
	router   *gin.Engine
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	runner := &fakeRunner{}
	manager := NewManager(runner, t.TempDir(), 50*time.Millisecond, nil)
	rooms := &fakeRooms{rooms: map[string][]string{"room-1": {"alice", "bob"}}}
	uploader := &fakeUploader{}
	h := NewHandler(manager, rooms, uploader, nil)

	r := gin.New()
	r.POST("/api/recording/start", h.Start)
	r.POST("/api/recording/stop/:recording_id", h.Stop)
	r.GET("/api/recording/:recording_id", h.Get)
	r.GET("/api/recordings", h.List)
	r.POST("/api/recording/:recording_id/upload", h.Upload)

	return &handlerFixture{manager: manager, runner: runner, uploader: uploader, router: r}
}

func (f *handlerFixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestStartEndpointRequiresMembership(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(http.MethodPost, "/api/recording/start", gin.H{"room_id": "room-1", "user_id": "mallory"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/recording/start", gin.H{"room_id": "no-room", "user_id": "alice"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/api/recording/start", gin.H{"room_id": "room-1", "user_id": "alice"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStopEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	info, err := f.manager.Start("room-1", "alice")
	require.NoError(t, err)

	w := f.do(http.MethodPost, "/api/recording/stop/"+info.RecordingID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"stopped"`)

	w = f.do(http.MethodPost, "/api/recording/stop/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadRequiresStoppedRecording(t *testing.T) {
	f := newHandlerFixture(t)
	info, err := f.manager.Start("room-1", "alice")
	require.NoError(t, err)

	w := f.do(http.MethodPost, fmt.Sprintf("/api/recording/%s/upload", info.RecordingID), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, f.uploader.count(), "uploader must not run for a live recording")
}

func TestUploadMissingLocalFile(t *testing.T) {
	f := newHandlerFixture(t)
	info, err := f.manager.Start("room-1", "alice")
	require.NoError(t, err)
	_, err = f.manager.Stop(info.RecordingID)
	require.NoError(t, err)

	// Fake runner never writes the output file.
	w := f.do(http.MethodPost, fmt.Sprintf("/api/recording/%s/upload", info.RecordingID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadStoppedRecording(t *testing.T) {
	f := newHandlerFixture(t)
	info, err := f.manager.Start("room-1", "alice")
	require.NoError(t, err)
	_, err = f.manager.Stop(info.RecordingID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(info.Filepath, []byte("webm"), 0o644))

	w := f.do(http.MethodPost, fmt.Sprintf("/api/recording/%s/upload", info.RecordingID), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"s3_key"`)
	assert.Equal(t, 1, f.uploader.count())

	// Re-upload of the same recording is allowed.
	w = f.do(http.MethodPost, fmt.Sprintf("/api/recording/%s/upload", info.RecordingID), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, f.uploader.count())
}

func TestUploadUnknownRecording(t *testing.T) {
	f := newHandlerFixture(t)
	w := f.do(http.MethodPost, "/api/recording/unknown/upload", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadWithoutStorageConfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	manager := NewManager(&fakeRunner{}, t.TempDir(), 50*time.Millisecond, nil)
	rooms := &fakeRooms{rooms: map[string][]string{}}
	h := NewHandler(manager, rooms, nil, nil)

	r := gin.New()
	r.POST("/api/recording/:recording_id/upload", h.Upload)
	req := httptest.NewRequest(http.MethodPost, "/api/recording/some-id/upload", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	_, err := f.manager.Start("room-1", "alice")
	require.NoError(t, err)
	_, err = f.manager.Start("room-2", "carol")
	require.NoError(t, err)

	w := f.do(http.MethodGet, "/api/recordings", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data []Info `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 2)

	w = f.do(http.MethodGet, "/api/recordings?room_id=room-2", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "room-2", body.Data[0].RoomID)
}
