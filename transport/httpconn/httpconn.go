// Package httpconn is the request/response TransportConnection adapter
// (spec §4.7b, transport.ReqResp): device-to-cloud sends are a plain POST,
// cloud-to-device receives are a long-poll GET against a devicebound
// mailbox, and the application's Complete/Abandon/Reject verdict is an
// ack/abandon/reject request carrying the message's lock token -- the same
// shape Azure IoT Hub's HTTP surface uses. Grounded on the connection
// pooling/transport-tuning pattern in the retryable HTTP client reference
// file (_examples/other_examples/89e542f2_..._http_retryable.go.go); unlike
// that reference, retries here are left entirely to the engine's own
// RetryPolicy (spec §1 treats the wire protocol as an external
// collaborator, not a place to duplicate retry policy).
package httpconn

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	transport "github.com/meshlink-io/devicetransport"
	"github.com/meshlink-io/devicetransport/credential"
)

// longPollSeconds bounds how long a ReceiveMessage GET waits for the
// mailbox to have a message before returning empty-handed.
const longPollSeconds = 25

type wireMessage struct {
	MessageID     string            `json:"message_id"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	LockToken     string            `json:"lock_token,omitempty"`
	ExpiryMs      int64             `json:"expiry_ms,omitempty"`
	Properties    map[string]string `json:"properties,omitempty"`
	Body          []byte            `json:"body"`
}

// Connection implements transport.TransportConnection for transport.ReqResp.
// It holds no persistent socket -- each operation is an independent HTTP
// round trip -- but reuses one *http.Client so the underlying transport's
// connection pool is shared across calls.
type Connection struct {
	cfg      *transport.EngineConfig
	id       string
	base     string
	deviceID string
	moduleID string

	client *http.Client

	mu       sync.Mutex
	listener transport.Listener
	closed   bool
}

// New builds an httpconn.Connection for cfg.Protocol, which must be
// transport.ReqResp. It satisfies transport.ConnectionFactory.
func New(cfg *transport.EngineConfig) (transport.TransportConnection, error) {
	if cfg.Protocol != transport.ReqResp {
		return nil, fmt.Errorf("httpconn: unsupported protocol %s", cfg.Protocol)
	}
	host, deviceID, moduleID := resolveIdentity(cfg)
	return &Connection{
		cfg:      cfg,
		id:       uuid.New().String(),
		base:     "https://" + host,
		deviceID: deviceID,
		moduleID: moduleID,
		client: &http.Client{
			Timeout: (longPollSeconds + 10) * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
				MaxConnsPerHost:     8,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2: true,
				TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
	}, nil
}

// resolveIdentity derives the hub host and device/module identity for cfg.
// When IotHubConnectionString is set it takes priority (the connection
// string's HostName/DeviceId/ModuleId win), matching the convention that a
// connection string is the single source of truth for hub addressing;
// otherwise DeviceID/ModuleID are used directly against a default hub host.
func resolveIdentity(cfg *transport.EngineConfig) (host, deviceID, moduleID string) {
	deviceID, moduleID = cfg.DeviceID, cfg.ModuleID
	host = deviceID
	if host == "" {
		host = "device"
	}
	host += ".hub.local"

	if cfg.IotHubConnectionString == "" {
		return host, deviceID, moduleID
	}
	info, err := credential.ParseConnectionString(cfg.IotHubConnectionString)
	if err != nil {
		return host, deviceID, moduleID
	}
	if info.HostName != "" {
		host = info.HostName
	}
	if info.DeviceID != "" {
		deviceID = info.DeviceID
	}
	if info.ModuleID != "" {
		moduleID = info.ModuleID
	}
	return host, deviceID, moduleID
}

// devicePath is the hub path segment identifying this connection's
// device or, when ModuleID is set, its module -- the
// "devices/{d}/modules/{m}" convention used throughout the IoT Hub REST
// surface this adapter's endpoints are modeled on.
func (c *Connection) devicePath() string {
	if c.moduleID != "" {
		return fmt.Sprintf("devices/%s/modules/%s", c.deviceID, c.moduleID)
	}
	return fmt.Sprintf("devices/%s", c.deviceID)
}

func (c *Connection) SetListener(l transport.Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

func (c *Connection) GetConnectionID() string    { return c.id }
func (c *Connection) GetProtocol() transport.Protocol { return c.cfg.Protocol }

// Open performs a lightweight reachability check against the hub; the
// request/response protocol has no persistent socket to tear down or lose,
// so there is no read pump to start here -- OnConnectionLost is only ever
// fired from a failed SendMessage/ReceiveMessage round trip.
func (c *Connection) Open(ctx context.Context, configs []*transport.EngineConfig) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.base+"/"+c.devicePath(), nil)
	if err != nil {
		return transport.NewTransportError(err, false)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return transport.NewTransportError(err, true)
	}
	resp.Body.Close()

	c.mu.Lock()
	c.closed = false
	l := c.listener
	c.mu.Unlock()
	if l != nil {
		l.OnConnectionEstablished(c.id)
	}
	return nil
}

// SendMessage POSTs msg to the device's device-to-cloud events endpoint. The request/response protocol has no wire-level ack (spec
// Message.AckNeeded): a 2xx response is the entire acknowledgement, and the
// caller's packet leaves in-flight as soon as SendMessage returns.
func (c *Connection) SendMessage(ctx context.Context, msg *transport.Message) (transport.StatusCode, error) {
	props := make(map[string]string)
	for _, p := range msg.Properties() {
		props[p.Name] = p.Value
	}
	body, err := json.Marshal(wireMessage{
		MessageID:     msg.MessageID,
		CorrelationID: msg.CorrelationID,
		ExpiryMs:      msg.ExpiryMs,
		Properties:    props,
		Body:          msg.Body(),
	})
	if err != nil {
		return transport.StatusError, err
	}

	url := fmt.Sprintf("%s/%s/messages/events", c.base, c.devicePath())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return transport.StatusError, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.reportLost(err)
		return transport.StatusError, transport.NewTransportError(err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		err := fmt.Errorf("httpconn: server error %d", resp.StatusCode)
		return transport.StatusError, transport.NewTransportError(err, true)
	}
	if resp.StatusCode >= 400 {
		err := fmt.Errorf("httpconn: rejected, status %d", resp.StatusCode)
		te := transport.NewTransportError(err, false)
		te.Unauthorized = resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden
		return transport.StatusError, te
	}
	return transport.OK, nil
}

// ReceiveMessage long-polls the cloud-to-device mailbox. A 204 response
// (mailbox empty for the poll window) is not an error -- it resolves to
// (nil, nil), matching the documented "only request/response returns a
// message here" contract.
func (c *Connection) ReceiveMessage(ctx context.Context) (*transport.Message, error) {
	url := fmt.Sprintf("%s/%s/messages/devicebound?longpoll=%d", c.base, c.devicePath(), longPollSeconds)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.reportLost(err)
		return nil, transport.NewTransportError(err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		te := transport.NewTransportError(fmt.Errorf("httpconn: poll status %d", resp.StatusCode), resp.StatusCode >= 500)
		te.Unauthorized = resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden
		return nil, te
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var wm wireMessage
	if err := json.Unmarshal(data, &wm); err != nil {
		return nil, err
	}

	msg, err := transport.NewMessage(wm.Body, wm.MessageID)
	if err != nil {
		return nil, err
	}
	if wm.CorrelationID != "" {
		if err := msg.SetCorrelationID(wm.CorrelationID); err != nil {
			return nil, err
		}
	}
	if wm.LockToken != "" {
		if err := msg.SetLockToken(wm.LockToken); err != nil {
			return nil, err
		}
	}
	msg.ExpiryMs = wm.ExpiryMs
	for k, v := range wm.Properties {
		msg.SetProperty(k, v)
	}
	return msg, nil
}

// SendMessageResult posts the application's verdict for a previously
// received message as an ack/abandon/reject request keyed by lock token.
func (c *Connection) SendMessageResult(ctx context.Context, msg *transport.Message, result transport.AckDisposition) error {
	verb := "ack"
	switch result {
	case transport.Abandon:
		verb = "abandon"
	case transport.Reject:
		verb = "reject"
	}

	url := fmt.Sprintf("%s/%s/messages/devicebound/%s?verb=%s",
		c.base, c.devicePath(), msg.LockToken, verb)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return transport.NewTransportError(err, true)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		te := transport.NewTransportError(fmt.Errorf("httpconn: %s status %d", verb, resp.StatusCode), resp.StatusCode >= 500)
		te.Unauthorized = resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden
		return te
	}
	return nil
}

func (c *Connection) reportLost(err error) {
	c.mu.Lock()
	closed := c.closed
	l := c.listener
	id := c.id
	c.mu.Unlock()
	if !closed && l != nil {
		l.OnConnectionLost(transport.NewTransportError(err, true), id)
	}
}

func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.client.CloseIdleConnections()
	return nil
}
