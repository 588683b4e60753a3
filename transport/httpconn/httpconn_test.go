package httpconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	transport "github.com/meshlink-io/devicetransport"
)

func TestNewRejectsUnsupportedProtocol(t *testing.T) {
	_, err := New(&transport.EngineConfig{Protocol: transport.PubSub})
	require.Error(t, err)
}

func TestNewBuildsConnectionForReqResp(t *testing.T) {
	c, err := New(&transport.EngineConfig{Protocol: transport.ReqResp, DeviceID: "device-1"})
	require.NoError(t, err)
	assert.Equal(t, transport.ReqResp, c.GetProtocol())
	assert.NotEmpty(t, c.GetConnectionID())
}

func TestResolveIdentityFallsBackWhenDeviceIDEmpty(t *testing.T) {
	host, deviceID, moduleID := resolveIdentity(&transport.EngineConfig{})
	assert.Equal(t, "device.hub.local", host)
	assert.Equal(t, "", deviceID)
	assert.Equal(t, "", moduleID)

	host, deviceID, moduleID = resolveIdentity(&transport.EngineConfig{DeviceID: "device-1"})
	assert.Equal(t, "device-1.hub.local", host)
	assert.Equal(t, "device-1", deviceID)
	assert.Equal(t, "", moduleID)
}

func TestResolveIdentityPrefersConnectionString(t *testing.T) {
	cfg := &transport.EngineConfig{
		DeviceID:               "cfg-device",
		IotHubConnectionString: "HostName=myhub.local;DeviceId=cs-device;ModuleId=cs-module;SharedAccessKey=abc",
	}
	host, deviceID, moduleID := resolveIdentity(cfg)
	assert.Equal(t, "myhub.local", host)
	assert.Equal(t, "cs-device", deviceID)
	assert.Equal(t, "cs-module", moduleID)
}

func TestDevicePathIncludesModuleWhenSet(t *testing.T) {
	c, err := New(&transport.EngineConfig{Protocol: transport.ReqResp, DeviceID: "device-1"})
	require.NoError(t, err)
	assert.Equal(t, "devices/device-1", c.(*Connection).devicePath())

	c, err = New(&transport.EngineConfig{Protocol: transport.ReqResp, DeviceID: "device-1", ModuleID: "module-1"})
	require.NoError(t, err)
	assert.Equal(t, "devices/device-1/modules/module-1", c.(*Connection).devicePath())
}

func TestCloseIsIdempotentWithoutOpen(t *testing.T) {
	c, err := New(&transport.EngineConfig{Protocol: transport.ReqResp, DeviceID: "device-1"})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestSendMessageMarksUnauthorizedOn401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := New(&transport.EngineConfig{Protocol: transport.ReqResp, DeviceID: "device-1"})
	require.NoError(t, err)
	conn := c.(*Connection)
	conn.base = srv.URL

	msg, err := transport.NewMessage([]byte("x"), "id-1")
	require.NoError(t, err)

	_, sendErr := conn.SendMessage(context.Background(), msg)
	require.Error(t, sendErr)
	te := transport.AsTransportError(sendErr)
	assert.True(t, te.Unauthorized)
	assert.False(t, te.IsRetryable())
}

func TestSendMessageNotUnauthorizedOnOther4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := New(&transport.EngineConfig{Protocol: transport.ReqResp, DeviceID: "device-1"})
	require.NoError(t, err)
	conn := c.(*Connection)
	conn.base = srv.URL

	msg, err := transport.NewMessage([]byte("x"), "id-1")
	require.NoError(t, err)

	_, sendErr := conn.SendMessage(context.Background(), msg)
	require.Error(t, sendErr)
	te := transport.AsTransportError(sendErr)
	assert.False(t, te.Unauthorized)
}

func TestSetListenerIsSafeBeforeOpen(t *testing.T) {
	c, err := New(&transport.EngineConfig{Protocol: transport.ReqResp, DeviceID: "device-1"})
	require.NoError(t, err)
	c.SetListener(nil)
}
