// Package credential implements the SAS-token and X.509 credential
// objects the engine consults through the narrow transport.Credential and
// transport.SasTokenAuthenticator capabilities (spec §4.8, DOMAIN STACK).
// Credential signing and renewal are external collaborators to the core
// transport state machine (spec §1): the engine only ever asks
// IsExpired/NeedsRenewal.
package credential

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// SasToken is a shared-access-signature credential, HMAC-SHA256 signed
// over the target resource URI and an expiry instant, matching the
// "SharedAccessSignature sr=...&sig=...&se=..." wire form IoT-style
// brokers expect. Generation uses stdlib crypto (crypto/hmac,
// crypto/sha256, encoding/base64) -- signing is not a concern any example
// repo's third-party stack covers, so stdlib here is the grounded choice
// (see DESIGN.md).
type SasToken struct {
	resourceURI string
	key         []byte
	ttl         time.Duration

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewSasToken builds a SasToken that signs for resourceURI using
// sharedAccessKeyBase64 (the raw key material, base64-encoded, as found in
// an IoT Hub connection string's SharedAccessKey field). ttl controls how
// long each generated token is valid.
func NewSasToken(resourceURI, sharedAccessKeyBase64 string, ttl time.Duration) (*SasToken, error) {
	key, err := base64.StdEncoding.DecodeString(sharedAccessKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("credential: invalid shared access key: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SasToken{resourceURI: resourceURI, key: key, ttl: ttl}, nil
}

// Token returns the current SAS token, regenerating it if it has expired
// or has not yet been generated.
func (c *SasToken) Token(now time.Time) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Before(c.expiresAt) && c.token != "" {
		return c.token
	}
	c.expiresAt = now.Add(c.ttl)
	c.token = c.sign(c.expiresAt)
	return c.token
}

func (c *SasToken) sign(expiresAt time.Time) string {
	se := expiresAt.Unix()
	encodedURI := url.QueryEscape(c.resourceURI)
	toSign := fmt.Sprintf("%s\n%d", encodedURI, se)

	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(toSign))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%d",
		encodedURI, url.QueryEscape(sig), se)
}

// IsExpired reports whether the most recently generated token (if any) has
// passed its expiry. A SasToken that has never generated a token is
// considered expired, forcing an initial Token() call.
func (c *SasToken) IsExpired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return true
	}
	return !time.Now().Before(c.expiresAt)
}

// NeedsRenewal reports whether less than 20% of the token's TTL remains,
// giving callers headroom to renew before the broker rejects the current
// token outright.
func (c *SasToken) NeedsRenewal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return true
	}
	remaining := time.Until(c.expiresAt)
	return remaining < c.ttl/5
}

// X509 wraps a certificate/key pair credential. Unlike SasToken, once
// loaded it does not self-renew; IsExpired reflects the certificate's own
// NotAfter field.
type X509 struct {
	cert     tls.Certificate
	notAfter time.Time
}

// NewX509 loads a PEM certificate/key pair via crypto/tls.LoadX509KeyPair
// and records its NotAfter bound from the leaf certificate.
func NewX509(certFile, keyFile string) (*X509, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("credential: loading x509 key pair: %w", err)
	}
	notAfter := time.Now().Add(24 * time.Hour) // conservative default when the leaf cannot be parsed
	if len(cert.Certificate) > 0 {
		if leaf, err := parseLeaf(cert); err == nil {
			notAfter = leaf
		}
	}
	return &X509{cert: cert, notAfter: notAfter}, nil
}

// TLSCertificate returns the certificate/key pair for use in a tls.Config.
func (c *X509) TLSCertificate() tls.Certificate { return c.cert }

// IsExpired reports whether the certificate's NotAfter bound has passed.
func (c *X509) IsExpired() bool { return time.Now().After(c.notAfter) }

func parseLeaf(cert tls.Certificate) (time.Time, error) {
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return time.Time{}, err
	}
	return leaf.NotAfter, nil
}
