package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportErrorIsRetryable(t *testing.T) {
	var nilErr *TransportError
	assert.False(t, nilErr.IsRetryable())

	retryable := NewTransportError(errors.New("boom"), true)
	assert.True(t, retryable.IsRetryable())

	nonRetryable := NewTransportError(errors.New("boom"), false)
	assert.False(t, nonRetryable.IsRetryable())
}

func TestNewTransportErrorPreservesCause(t *testing.T) {
	cause := errors.New("dial failed")
	te := NewTransportError(cause, true)
	require.Error(t, te)
	assert.ErrorIs(t, te, cause)
	assert.Contains(t, te.Error(), "dial failed")
}

func TestNewServiceTransportErrorCarriesStatus(t *testing.T) {
	te := NewServiceTransportError(HubOrDeviceIDNotFound, false)
	assert.True(t, te.HasStatus)
	assert.Equal(t, HubOrDeviceIDNotFound, te.ServiceStatus)
	assert.False(t, te.IsRetryable())
}

func TestAsTransportError(t *testing.T) {
	assert.Nil(t, AsTransportError(nil))

	already := NewTransportError(errors.New("x"), true)
	assert.Same(t, already, AsTransportError(already))

	plain := errors.New("plain")
	wrapped := AsTransportError(plain)
	require.NotNil(t, wrapped)
	assert.False(t, wrapped.Retryable)
	assert.ErrorIs(t, wrapped, plain)
}

func TestAsTransportErrorTranslatesAuthenticationError(t *testing.T) {
	expired := NewAuthenticationError(nil, true)
	te := AsTransportError(expired)
	require.NotNil(t, te)
	assert.True(t, te.CredExpired)
	assert.True(t, te.Unauthorized)
	assert.False(t, te.IsRetryable())

	rejected := NewAuthenticationError(errors.New("bad signature"), false)
	te = AsTransportError(rejected)
	require.NotNil(t, te)
	assert.False(t, te.CredExpired)
	assert.True(t, te.Unauthorized)
}

func TestNewAuthenticationError(t *testing.T) {
	expired := NewAuthenticationError(nil, true)
	assert.Contains(t, expired.Error(), "expired")

	rejected := NewAuthenticationError(errors.New("bad signature"), false)
	assert.Contains(t, rejected.Error(), "bad signature")
}

func TestInvalidArgumentIllegalStateOperationTimeout(t *testing.T) {
	assert.Contains(t, (&InvalidArgument{Field: "body"}).Error(), "body")
	assert.Contains(t, (&IllegalState{Reason: "closed"}).Error(), "closed")
	assert.Contains(t, (&OperationTimeout{BudgetMs: 5000}).Error(), "5000")
}
