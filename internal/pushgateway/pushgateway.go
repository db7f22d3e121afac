// Package pushgateway implements the optional Web Push channel. No example
// repo in the retrieval pack carries a Web Push or VAPID library, so the
// VAPID JWT is signed directly against crypto/ecdsa (see DESIGN.md); this
// package deliberately sends data-less pushes (an empty, unencrypted body)
// rather than implementing full RFC 8291 payload encryption, since the
// subscribing client is expected to re-fetch state on wakeup — spec.md §6
// treats push as best-effort and silently skippable.
package pushgateway

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/reapergt/poller/internal/model"
)

// Config holds the VAPID keypair and contact subject used to authenticate
// to push services (spec.md §6: "optionally VAPID keypair for push").
type Config struct {
	PrivateKeyB64URL string // raw 32-byte ECDSA P-256 private scalar, base64url
	PublicKeyB64URL  string
	Subject          string // mailto: or https: contact URI
}

// Client sends best-effort Web Push notifications. It satisfies
// notify.PushGateway.
type Client struct {
	httpClient *http.Client
	privateKey *ecdsa.PrivateKey
	publicKey  string
	subject    string
	logger     zerolog.Logger
}

// New parses cfg's VAPID key material and returns a Client. An error here
// means push is misconfigured; callers should fall back to
// NoopPushGateway rather than fail startup, since push is optional.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cfg.PrivateKeyB64URL)
	if err != nil {
		return nil, fmt.Errorf("pushgateway: decode vapid private key: %w", err)
	}
	curve := elliptic.P256()
	priv := new(ecdsa.PrivateKey)
	priv.PublicKey.Curve = curve
	priv.D = new(big.Int).SetBytes(raw)
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(raw)

	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		privateKey: priv,
		publicKey:  cfg.PublicKeyB64URL,
		subject:    cfg.Subject,
		logger:     logger,
	}, nil
}

// Send POSTs a data-less push to sub.Endpoint, authenticated with a VAPID
// JWT. Neither title nor body is sent in the push payload (see package
// doc); title is logged when the push service rejects the send.
func (c *Client) Send(ctx context.Context, sub *model.PushSubscription, title, body string) error {
	jwt, err := c.signVAPIDJWT(sub.Endpoint)
	if err != nil {
		return fmt.Errorf("pushgateway: sign vapid jwt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("pushgateway: build request: %w", err)
	}
	req.Header.Set("TTL", "60")
	req.Header.Set("Authorization", fmt.Sprintf("vapid t=%s, k=%s", jwt, c.publicKey))
	req.Header.Set("Content-Length", "0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pushgateway: transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Debug().Int("status", resp.StatusCode).Str("title", title).Msg("push send rejected")
		return fmt.Errorf("pushgateway: push service returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) signVAPIDJWT(endpoint string) (string, error) {
	origin, err := audienceFromEndpoint(endpoint)
	if err != nil {
		return "", err
	}

	header := map[string]string{"typ": "JWT", "alg": "ES256"}
	claims := map[string]any{
		"aud": origin,
		"exp": time.Now().Add(12 * time.Hour).Unix(),
		"sub": c.subject,
	}

	headerJSON, _ := json.Marshal(header)
	claimsJSON, _ := json.Marshal(claims)
	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON)

	digest := sha256.Sum256([]byte(signingInput))
	r, s, err := ecdsa.Sign(rand.Reader, c.privateKey, digest[:])
	if err != nil {
		return "", err
	}

	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

func audienceFromEndpoint(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("pushgateway: malformed endpoint %q: %w", endpoint, err)
	}
	return u.Scheme + "://" + u.Host, nil
}

// NoopPushGateway is the default PushGateway when no VAPID keys are
// configured. Push is silently skipped per spec.md §6.
type NoopPushGateway struct{}

func (NoopPushGateway) Send(context.Context, *model.PushSubscription, string, string) error {
	return nil
}
