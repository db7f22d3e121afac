// Package secrets is the env-backed Secret Store (spec.md §6): a
// name→string mapping read once at startup, refreshable only by restart.
// Grounded on the teacher pack's env-override convention
// (ManuGH-xg2g/internal/config/merge_env.go's l.envString helpers),
// adapted from "override a config field" to "fail fast on a missing
// required key" per spec.md §7's config error kind.
package secrets

import (
	"fmt"
	"os"
)

const (
	// KeySMSAPIKey is required at startup; its absence is a config error
	// (spec.md §7: "Missing secret/env at startup | Fail fast").
	KeySMSAPIKey = "REAPERGT_SMS_API_KEY"
	// KeyVAPIDPrivateKey and KeyVAPIDPublicKey are optional: push is
	// silently skipped when unset (spec.md §6).
	KeyVAPIDPrivateKey = "REAPERGT_VAPID_PRIVATE_KEY"
	KeyVAPIDPublicKey  = "REAPERGT_VAPID_PUBLIC_KEY"
)

// Store resolves secret values by name from the process environment.
type Store struct {
	lookup func(string) (string, bool)
}

// New returns a Store backed by os.LookupEnv.
func New() *Store {
	return &Store{lookup: os.LookupEnv}
}

// Get returns the value of key, or ok=false if unset.
func (s *Store) Get(key string) (string, bool) {
	return s.lookup(key)
}

// Require returns the value of key, or a config error if unset. Callers
// at startup should treat a Require error as fatal per spec.md §7.
func (s *Store) Require(key string) (string, error) {
	v, ok := s.lookup(key)
	if !ok || v == "" {
		return "", fmt.Errorf("secrets: required key %s is not set", key)
	}
	return v, nil
}

// HasVAPIDKeypair reports whether both VAPID keys are configured,
// deciding whether the poller wires a real pushgateway.Client or falls
// back to pushgateway.NoopPushGateway.
func (s *Store) HasVAPIDKeypair() bool {
	priv, okP := s.lookup(KeyVAPIDPrivateKey)
	pub, okK := s.lookup(KeyVAPIDPublicKey)
	return okP && okK && priv != "" && pub != ""
}
