// Package sfu wraps the external mediasoup control plane behind a typed HTTP
// client. Only identifiers are inspected; capability descriptors and RTP/DTLS
// parameters are carried through as opaque JSON.
package sfu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ripplenote/backend/pkg/apperr"
)

const maxResponseBytes = 4 << 20

// Client issues requests to the SFU control API. It holds no call state.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates an SFU control-plane client. timeout bounds each call.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Router is the SFU-side context for one call room.
type Router struct {
	ID              string          `json:"router_id"`
	RTPCapabilities json.RawMessage `json:"rtp_capabilities"`
}

// Transport is one participant's SFU network endpoint. The raw payload
// (ICE parameters, candidates, DTLS fingerprints) is forwarded to clients
// verbatim.
type Transport struct {
	ID      string
	payload json.RawMessage
}

// UnmarshalJSON keeps the full payload while lifting out the id.
func (t *Transport) UnmarshalJSON(b []byte) error {
	var head struct {
		ID string `json:"transport_id"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}
	t.ID = head.ID
	t.payload = append([]byte(nil), b...)
	return nil
}

// MarshalJSON returns the original control-plane payload.
func (t Transport) MarshalJSON() ([]byte, error) {
	if t.payload == nil {
		return json.Marshal(struct {
			ID string `json:"transport_id"`
		}{t.ID})
	}
	return t.payload, nil
}

// Producer is an outbound media stream registered with a router.
type Producer struct {
	ID      string
	Kind    string
	payload json.RawMessage
}

func (p *Producer) UnmarshalJSON(b []byte) error {
	var head struct {
		ID   string `json:"producer_id"`
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}
	p.ID = head.ID
	p.Kind = head.Kind
	p.payload = append([]byte(nil), b...)
	return nil
}

func (p Producer) MarshalJSON() ([]byte, error) {
	if p.payload == nil {
		return json.Marshal(struct {
			ID   string `json:"producer_id"`
			Kind string `json:"kind"`
		}{p.ID, p.Kind})
	}
	return p.payload, nil
}

// Consumer is an inbound subscription to another participant's producer.
type Consumer struct {
	ID         string
	ProducerID string
	Kind       string
	payload    json.RawMessage
}

func (cs *Consumer) UnmarshalJSON(b []byte) error {
	var head struct {
		ID         string `json:"consumer_id"`
		ProducerID string `json:"producer_id"`
		Kind       string `json:"kind"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}
	cs.ID = head.ID
	cs.ProducerID = head.ProducerID
	cs.Kind = head.Kind
	cs.payload = append([]byte(nil), b...)
	return nil
}

func (cs Consumer) MarshalJSON() ([]byte, error) {
	if cs.payload == nil {
		return json.Marshal(struct {
			ID         string `json:"consumer_id"`
			ProducerID string `json:"producer_id"`
			Kind       string `json:"kind"`
		}{cs.ID, cs.ProducerID, cs.Kind})
	}
	return cs.payload, nil
}

// CreateRouter allocates a new router for a call room.
func (c *Client) CreateRouter(ctx context.Context) (*Router, error) {
	var out Router
	if err := c.do(ctx, http.MethodPost, "/api/router/create", nil, &out, "create router"); err != nil {
		return nil, err
	}
	return &out, nil
}

// RouterRTPCapabilities fetches the router's capability descriptor.
func (c *Client) RouterRTPCapabilities(ctx context.Context, routerID string) (json.RawMessage, error) {
	var out json.RawMessage
	path := fmt.Sprintf("/api/router/%s/rtp-capabilities", routerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out, "get router capabilities"); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateTransport allocates a WebRTC transport on the router.
func (c *Client) CreateTransport(ctx context.Context, routerID, direction string) (*Transport, error) {
	body := map[string]string{"router_id": routerID, "direction": direction}
	var out Transport
	if err := c.do(ctx, http.MethodPost, "/api/transport/create", body, &out, "create transport"); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConnectTransport completes the DTLS handshake for a transport.
func (c *Client) ConnectTransport(ctx context.Context, routerID, transportID string, dtlsParameters json.RawMessage) error {
	body := map[string]any{
		"router_id":       routerID,
		"transport_id":    transportID,
		"dtls_parameters": dtlsParameters,
	}
	return c.do(ctx, http.MethodPost, "/api/transport/connect", body, nil, "connect transport")
}

// CreateProducer registers an outbound media stream on a transport.
func (c *Client) CreateProducer(ctx context.Context, routerID, transportID string, rtpParameters json.RawMessage) (*Producer, error) {
	body := map[string]any{
		"router_id":      routerID,
		"transport_id":   transportID,
		"rtp_parameters": rtpParameters,
	}
	var out Producer
	if err := c.do(ctx, http.MethodPost, "/api/producer/create", body, &out, "create producer"); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateConsumer subscribes a transport to an existing producer.
func (c *Client) CreateConsumer(ctx context.Context, routerID, transportID, producerID string, rtpCapabilities json.RawMessage) (*Consumer, error) {
	body := map[string]any{
		"router_id":        routerID,
		"transport_id":     transportID,
		"producer_id":      producerID,
		"rtp_capabilities": rtpCapabilities,
	}
	var out Consumer
	if err := c.do(ctx, http.MethodPost, "/api/consumer/create", body, &out, "create consumer"); err != nil {
		return nil, err
	}
	return &out, nil
}

// CloseRouter releases the router and everything scoped to it.
func (c *Client) CloseRouter(ctx context.Context, routerID string) error {
	path := fmt.Sprintf("/api/router/%s/close", routerID)
	return c.do(ctx, http.MethodPost, path, nil, nil, "close router")
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, capability string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apperr.Upstream(capability, fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperr.Upstream(capability, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("sfu request failed", zap.String("capability", capability), zap.Error(err))
		return apperr.Upstream(capability, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperr.Upstream(capability, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("sfu request rejected", zap.String("capability", capability), zap.Int("status", resp.StatusCode))
		return apperr.Upstream(capability, fmt.Errorf("status %d", resp.StatusCode))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return apperr.Upstream(capability, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}
