package transport

// EngineConfig is the per-connection configuration consumed by the engine
// and handed to TransportConnection.Open. One EngineConfig is the
// "default_config" of spec §3; additional configs (e.g. module identities
// sharing one physical connection) are passed to Open alongside it.
type EngineConfig struct {
	Protocol                Protocol
	DeviceID                string
	ModuleID                string
	IotHubConnectionString  string

	AuthType AuthType
	// SasTokenAuth is consulted only when AuthType == SasToken.
	SasTokenAuth SasTokenAuthenticator
	// Credential is consulted for IsExpired regardless of AuthType.
	Credential Credential

	OperationTimeoutMs uint64
	RetryPolicy        RetryPolicy

	SendPeriodMs    uint64
	ReceivePeriodMs uint64

	// ConnectionFactory builds the concrete TransportConnection for this
	// config's Protocol. The engine treats the wire protocols as external
	// collaborators (spec §1) and never imports a concrete adapter
	// itself; callers wire in transport/mqttconn, transport/queueconn,
	// transport/httpconn, or transport/loopback (for tests) here.
	ConnectionFactory ConnectionFactory
}

// ConnectionFactory builds a TransportConnection for cfg.Protocol. Engine
// construction fails lazily -- at Open time -- with InvalidArgument if a
// config has no factory configured.
type ConnectionFactory func(cfg *EngineConfig) (TransportConnection, error)

// SasTokenAuthenticator is the narrow credential capability the engine
// needs when AuthType == SasToken: whether the current token is due for
// renewal. Renewal itself is out of scope (spec §1, external collaborator).
type SasTokenAuthenticator interface {
	NeedsRenewal() bool
}

// Credential is the narrow capability the engine needs from any credential
// kind: whether it has expired. SAS token and X.509 credential objects
// (credential package) both implement it.
type Credential interface {
	IsExpired() bool
}

// ReceivePeriodMillis* are the default receive-pump cadences named in
// spec §6, keyed by protocol family.
const (
	ReceivePeriodMillisReqResp = 25
	ReceivePeriodMillisPubSub  = 10
	ReceivePeriodMillisQueue   = 10
	SendPeriodMillisDefault    = 10
)

// receivePeriodMs resolves the configured receive cadence, falling back to
// the protocol-appropriate default from spec §6 when unset.
func (c *EngineConfig) receivePeriodMs() uint64 {
	if c.ReceivePeriodMs > 0 {
		return c.ReceivePeriodMs
	}
	switch c.Protocol {
	case ReqResp:
		return ReceivePeriodMillisReqResp
	case PubSub, PubSubWS:
		return ReceivePeriodMillisPubSub
	default:
		return ReceivePeriodMillisQueue
	}
}

func (c *EngineConfig) sendPeriodMs() uint64 {
	if c.SendPeriodMs > 0 {
		return c.SendPeriodMs
	}
	return SendPeriodMillisDefault
}

// isSasTokenExpired reports whether the current SAS token can no longer be
// trusted for a send: either the credential itself has already expired, or
// SasTokenAuth (when supplied) says renewal is due. Treating "needs renewal"
// the same as "expired" forces the same reconnect-and-reacquire cycle a hard
// expiry does, since a SAS token is validated once per connection and a
// renewed token only takes effect on the next Open.
func (c *EngineConfig) isSasTokenExpired() bool {
	if c.AuthType != SasToken {
		return false
	}
	if c.Credential != nil && c.Credential.IsExpired() {
		return true
	}
	if c.SasTokenAuth != nil && c.SasTokenAuth.NeedsRenewal() {
		return true
	}
	return false
}

func (c *EngineConfig) isCredentialExpired() bool {
	if c.Credential == nil {
		return false
	}
	return c.Credential.IsExpired()
}
