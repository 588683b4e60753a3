package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	transport "github.com/meshlink-io/devicetransport"
	"github.com/meshlink-io/devicetransport/transport/loopback"
)

func TestReqRespReceivePumpDrainsLongPoll(t *testing.T) {
	var captured *loopback.Connection
	factory := func(cfg *transport.EngineConfig) (transport.TransportConnection, error) {
		c, err := loopback.New(cfg)
		captured = c.(*loopback.Connection)
		return c, err
	}
	cfg := &transport.EngineConfig{Protocol: transport.ReqResp, ConnectionFactory: factory}
	e, err := transport.NewEngine(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Open(context.Background(), []*transport.EngineConfig{cfg}))

	var received *transport.Message
	done := make(chan struct{})
	e.SetMessageCallback(func(msg *transport.Message, _ interface{}) transport.AckDisposition {
		received = msg
		close(done)
		return transport.Complete
	}, nil)

	inbound, err := transport.NewMessage([]byte("hello"), "server-push-1")
	require.NoError(t, err)
	captured.Enqueue(inbound)

	e.HandleMessage(context.Background())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("message callback never invoked")
	}
	assert.Equal(t, "server-push-1", received.MessageID)
	require.Len(t, captured.Results, 1)
	assert.Equal(t, transport.Complete, captured.Results[0].Result)
}

func TestPubSubReceiveViaListenerPush(t *testing.T) {
	var captured *loopback.Connection
	factory := func(cfg *transport.EngineConfig) (transport.TransportConnection, error) {
		c, err := loopback.New(cfg)
		captured = c.(*loopback.Connection)
		return c, err
	}
	cfg := &transport.EngineConfig{Protocol: transport.PubSub, ConnectionFactory: factory}
	e, err := transport.NewEngine(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Open(context.Background(), []*transport.EngineConfig{cfg}))

	callbackCh := make(chan *transport.Message, 1)
	e.SetMessageCallback(func(msg *transport.Message, _ interface{}) transport.AckDisposition {
		callbackCh <- msg
		return transport.Complete
	}, nil)

	msg, err := transport.NewMessage([]byte("x"), "pushed-1")
	require.NoError(t, err)
	captured.DeliverViaListener(msg, nil)

	e.HandleMessage(context.Background())

	select {
	case got := <-callbackCh:
		assert.Equal(t, "pushed-1", got.MessageID)
	case <-time.After(time.Second):
		t.Fatal("message callback never invoked")
	}
}

func TestAbandonDispositionIsSentToConnection(t *testing.T) {
	var captured *loopback.Connection
	factory := func(cfg *transport.EngineConfig) (transport.TransportConnection, error) {
		c, err := loopback.New(cfg)
		captured = c.(*loopback.Connection)
		return c, err
	}
	cfg := &transport.EngineConfig{Protocol: transport.PubSub, ConnectionFactory: factory}
	e, err := transport.NewEngine(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Open(context.Background(), []*transport.EngineConfig{cfg}))

	e.SetMessageCallback(func(msg *transport.Message, _ interface{}) transport.AckDisposition {
		return transport.Abandon
	}, nil)

	msg, err := transport.NewMessage([]byte("x"), "needs-ack")
	require.NoError(t, err)
	captured.DeliverViaListener(msg, nil)

	e.HandleMessage(context.Background())

	require.Eventually(t, func() bool { return len(captured.Results) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, transport.Abandon, captured.Results[0].Result)
}

func TestDefaultMessageCallbackCompletesSilently(t *testing.T) {
	var captured *loopback.Connection
	factory := func(cfg *transport.EngineConfig) (transport.TransportConnection, error) {
		c, err := loopback.New(cfg)
		captured = c.(*loopback.Connection)
		return c, err
	}
	cfg := &transport.EngineConfig{Protocol: transport.PubSub, ConnectionFactory: factory}
	e, err := transport.NewEngine(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Open(context.Background(), []*transport.EngineConfig{cfg}))

	msg, err := transport.NewMessage([]byte("x"), "no-callback-set")
	require.NoError(t, err)
	captured.DeliverViaListener(msg, nil)

	e.HandleMessage(context.Background())

	require.Eventually(t, func() bool { return len(captured.Results) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, transport.Complete, captured.Results[0].Result)
}
