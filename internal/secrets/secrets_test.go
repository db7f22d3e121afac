package secrets

import "testing"

func newTestStore(values map[string]string) *Store {
	return &Store{lookup: func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}}
}

func TestRequireReturnsValueWhenSet(t *testing.T) {
	s := newTestStore(map[string]string{KeySMSAPIKey: "abc123"})
	v, err := s.Require(KeySMSAPIKey)
	if err != nil {
		t.Fatalf("Require returned error: %v", err)
	}
	if v != "abc123" {
		t.Errorf("Require = %q, want %q", v, "abc123")
	}
}

func TestRequireFailsFastWhenMissing(t *testing.T) {
	s := newTestStore(nil)
	if _, err := s.Require(KeySMSAPIKey); err == nil {
		t.Fatal("expected error for missing required key, got nil")
	}
}

func TestRequireFailsFastWhenEmpty(t *testing.T) {
	s := newTestStore(map[string]string{KeySMSAPIKey: ""})
	if _, err := s.Require(KeySMSAPIKey); err == nil {
		t.Fatal("expected error for empty required key, got nil")
	}
}

func TestHasVAPIDKeypairRequiresBothKeys(t *testing.T) {
	s := newTestStore(map[string]string{KeyVAPIDPrivateKey: "priv"})
	if s.HasVAPIDKeypair() {
		t.Error("HasVAPIDKeypair true with only private key set")
	}

	s = newTestStore(map[string]string{KeyVAPIDPrivateKey: "priv", KeyVAPIDPublicKey: "pub"})
	if !s.HasVAPIDKeypair() {
		t.Error("HasVAPIDKeypair false with both keys set")
	}
}
