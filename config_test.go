package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeCredential struct{ expired bool }

func (f fakeCredential) IsExpired() bool { return f.expired }

type fakeSasAuth struct{ needsRenewal bool }

func (f fakeSasAuth) NeedsRenewal() bool { return f.needsRenewal }

func TestReceivePeriodMsDefaults(t *testing.T) {
	cases := []struct {
		protocol Protocol
		want     uint64
	}{
		{ReqResp, ReceivePeriodMillisReqResp},
		{PubSub, ReceivePeriodMillisPubSub},
		{PubSubWS, ReceivePeriodMillisPubSub},
		{Queue, ReceivePeriodMillisQueue},
		{QueueWS, ReceivePeriodMillisQueue},
	}
	for _, c := range cases {
		cfg := &EngineConfig{Protocol: c.protocol}
		assert.Equal(t, c.want, cfg.receivePeriodMs())
	}
}

func TestReceivePeriodMsOverride(t *testing.T) {
	cfg := &EngineConfig{Protocol: ReqResp, ReceivePeriodMs: 500}
	assert.Equal(t, uint64(500), cfg.receivePeriodMs())
}

func TestSendPeriodMsDefaultAndOverride(t *testing.T) {
	cfg := &EngineConfig{}
	assert.Equal(t, uint64(SendPeriodMillisDefault), cfg.sendPeriodMs())

	cfg.SendPeriodMs = 42
	assert.Equal(t, uint64(42), cfg.sendPeriodMs())
}

func TestIsSasTokenExpired(t *testing.T) {
	cfg := &EngineConfig{AuthType: X509Certificate, Credential: fakeCredential{expired: true}}
	assert.False(t, cfg.isSasTokenExpired(), "only SAS-authenticated configs check token expiry")

	cfg = &EngineConfig{AuthType: SasToken, Credential: fakeCredential{expired: true}}
	assert.True(t, cfg.isSasTokenExpired())

	cfg = &EngineConfig{AuthType: SasToken, Credential: fakeCredential{expired: false}}
	assert.False(t, cfg.isSasTokenExpired())

	cfg = &EngineConfig{AuthType: SasToken}
	assert.False(t, cfg.isSasTokenExpired())
}

func TestIsSasTokenExpiredConsultsSasTokenAuth(t *testing.T) {
	cfg := &EngineConfig{AuthType: SasToken, Credential: fakeCredential{expired: false}, SasTokenAuth: fakeSasAuth{needsRenewal: true}}
	assert.True(t, cfg.isSasTokenExpired(), "pending renewal should be treated the same as expiry")

	cfg = &EngineConfig{AuthType: SasToken, Credential: fakeCredential{expired: false}, SasTokenAuth: fakeSasAuth{needsRenewal: false}}
	assert.False(t, cfg.isSasTokenExpired())

	cfg = &EngineConfig{AuthType: X509Certificate, SasTokenAuth: fakeSasAuth{needsRenewal: true}}
	assert.False(t, cfg.isSasTokenExpired(), "SasTokenAuth is only consulted for AuthType == SasToken")
}

func TestIsCredentialExpired(t *testing.T) {
	cfg := &EngineConfig{}
	assert.False(t, cfg.isCredentialExpired())

	cfg.Credential = fakeCredential{expired: true}
	assert.True(t, cfg.isCredentialExpired())
}
