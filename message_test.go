package transport

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageGeneratesIDWhenEmpty(t *testing.T) {
	msg, err := NewMessage([]byte("payload"), "")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.MessageID)
	assert.Equal(t, []byte("payload"), msg.Body())
}

func TestNewMessageRejectsNilBody(t *testing.T) {
	_, err := NewMessage(nil, "id-1")
	require.Error(t, err)
	var invalid *InvalidArgument
	assert.ErrorAs(t, err, &invalid)
}

func TestNewMessageRejectsOversizedID(t *testing.T) {
	_, err := NewMessage([]byte("x"), strings.Repeat("a", maxSystemFieldLen+1))
	require.Error(t, err)
}

func TestNewMessageRejectsNonURNSafeID(t *testing.T) {
	_, err := NewMessage([]byte("x"), "id with spaces")
	require.Error(t, err)
	var invalid *InvalidArgument
	assert.ErrorAs(t, err, &invalid)

	_, err = NewMessage([]byte("x"), "id/with/slashes")
	require.Error(t, err)
}

func TestNewMessageAcceptsURNSafeID(t *testing.T) {
	_, err := NewMessage([]byte("x"), "Device-1.Module_2~3")
	require.NoError(t, err)
}

func TestSetCorrelationIDValidates(t *testing.T) {
	msg, err := NewMessage([]byte("x"), "id-1")
	require.NoError(t, err)

	require.NoError(t, msg.SetCorrelationID("corr-1"))
	assert.Equal(t, "corr-1", msg.CorrelationID)

	err = msg.SetCorrelationID("corr with spaces")
	require.Error(t, err)
	assert.Equal(t, "corr-1", msg.CorrelationID, "a rejected value must not overwrite the prior one")

	err = msg.SetCorrelationID(strings.Repeat("a", maxSystemFieldLen+1))
	require.Error(t, err)
}

func TestSetLockTokenValidates(t *testing.T) {
	msg, err := NewMessage([]byte("x"), "id-1")
	require.NoError(t, err)

	require.NoError(t, msg.SetLockToken("lock-1"))
	assert.Equal(t, "lock-1", msg.LockToken)

	err = msg.SetLockToken("lock#token")
	require.Error(t, err)
}

func TestMessagePropertiesPreserveInsertionOrder(t *testing.T) {
	msg, err := NewMessage([]byte("x"), "id-1")
	require.NoError(t, err)

	msg.SetProperty("b", "2")
	msg.SetProperty("a", "1")
	msg.SetProperty("b", "2-updated")

	props := msg.Properties()
	require.Len(t, props, 2)
	assert.Equal(t, "b", props[0].Name)
	assert.Equal(t, "2-updated", props[0].Value)
	assert.Equal(t, "a", props[1].Name)

	v, ok := msg.Property("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok = msg.Property("missing")
	assert.False(t, ok)
}

func TestMessageIsExpired(t *testing.T) {
	msg, err := NewMessage([]byte("x"), "id-1")
	require.NoError(t, err)

	assert.False(t, msg.IsExpired(time.Now()))

	past := time.Now().Add(-time.Hour)
	msg.ExpiryMs = past.UnixMilli()
	assert.True(t, msg.IsExpired(time.Now()))

	future := time.Now().Add(time.Hour)
	msg.ExpiryMs = future.UnixMilli()
	assert.False(t, msg.IsExpired(time.Now()))
}

func TestMessageAckNeeded(t *testing.T) {
	msg, err := NewMessage([]byte("x"), "id-1")
	require.NoError(t, err)

	assert.False(t, msg.AckNeeded(ReqResp))
	assert.True(t, msg.AckNeeded(PubSub))
	assert.True(t, msg.AckNeeded(Queue))
}
