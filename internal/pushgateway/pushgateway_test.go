package pushgateway

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/reapergt/poller/internal/model"
)

func generateTestKeyB64URL(t *testing.T) string {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	raw := priv.D.FillBytes(make([]byte, 32))
	return base64.RawURLEncoding.EncodeToString(raw)
}

func TestAudienceFromEndpointExtractsOrigin(t *testing.T) {
	aud, err := audienceFromEndpoint("https://fcm.googleapis.com/fcm/send/abc123")
	require.NoError(t, err)
	require.Equal(t, "https://fcm.googleapis.com", aud)
}

func TestSendPostsToSubscriptionEndpointWithVAPIDHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := New(Config{
		PrivateKeyB64URL: generateTestKeyB64URL(t),
		PublicKeyB64URL:  "pubkey",
		Subject:          "mailto:ops@example.com",
	}, zerolog.Nop())
	require.NoError(t, err)

	sub := &model.PushSubscription{Endpoint: srv.URL, P256dh: "x", Auth: "y"}
	err = c.Send(context.Background(), sub, "Course open", "CRN 12345")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(gotAuth, "vapid t="))
}

func TestNoopPushGatewayAlwaysSucceeds(t *testing.T) {
	var g NoopPushGateway
	err := g.Send(context.Background(), &model.PushSubscription{}, "t", "b")
	require.NoError(t, err)
}
