package sfu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ripplenote/backend/pkg/apperr"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 2*time.Second, nil)
}

func TestCreateRouter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/router/create", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"router_id":"r1","rtp_capabilities":{"codecs":[{"mimeType":"video/VP8"}]}}`))
	})

	router, err := c.CreateRouter(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r1", router.ID)
	assert.JSONEq(t, `{"codecs":[{"mimeType":"video/VP8"}]}`, string(router.RTPCapabilities))
}

func TestCreateTransportKeepsOpaquePayload(t *testing.T) {
	payload := `{"transport_id":"t1","ice_parameters":{"usernameFragment":"abc"},"ice_candidates":[{"ip":"10.0.0.1"}],"dtls_parameters":{"role":"auto"}}`
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "r1", body["router_id"])
		w.Write([]byte(payload))
	})

	transport, err := c.CreateTransport(context.Background(), "r1", "sendrecv")
	require.NoError(t, err)
	assert.Equal(t, "t1", transport.ID)

	// Marshalling the transport must reproduce the control-plane payload so
	// clients see ICE and DTLS parameters untouched.
	out, err := json.Marshal(transport)
	require.NoError(t, err)
	assert.JSONEq(t, payload, string(out))
}

func TestCreateConsumer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "producer_id")
		assert.Contains(t, body, "rtp_capabilities")
		w.Write([]byte(`{"consumer_id":"c1","producer_id":"p1","kind":"video","rtp_parameters":{"mid":"0"}}`))
	})

	consumer, err := c.CreateConsumer(context.Background(), "r1", "t1", "p1", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "c1", consumer.ID)
	assert.Equal(t, "p1", consumer.ProducerID)
	assert.Equal(t, "video", consumer.Kind)
}

func TestNon200IsUpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "router not found", http.StatusInternalServerError)
	})

	_, err := c.RouterRTPCapabilities(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUpstream)
	assert.Contains(t, err.Error(), "get router capabilities")
}

func TestUnreachableControlPlane(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 200*time.Millisecond, nil)
	err := c.CloseRouter(context.Background(), "r1")
	assert.ErrorIs(t, err, apperr.ErrUpstream)
}

func TestMalformedResponseIsUpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})
	_, err := c.CreateRouter(context.Background())
	assert.ErrorIs(t, err, apperr.ErrUpstream)
}
