package ghauth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testPrivateKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating test key: %v", err)
	}
	der := x509.MarshalPKCS1PrivateKey(key)
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})
}

func TestNewTokenCacheRejectsEmptyAppID(t *testing.T) {
	if _, err := NewTokenCache("", 1, testPrivateKeyPEM(t)); err == nil {
		t.Fatal("expected error for empty app id")
	}
}

func TestNewTokenCacheRejectsBadInstallationID(t *testing.T) {
	if _, err := NewTokenCache("app1", 0, testPrivateKeyPEM(t)); err == nil {
		t.Fatal("expected error for non-positive installation id")
	}
}

func TestNewTokenCacheRejectsInvalidKey(t *testing.T) {
	if _, err := NewTokenCache("app1", 1, []byte("not a key")); err == nil {
		t.Fatal("expected error for invalid private key")
	}
}

func TestTokenFetchesAndCaches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(InstallationToken{
			Token:     "tok-1",
			ExpiresAt: time.Now().Add(1 * time.Hour),
		})
	}))
	defer srv.Close()

	tc, err := NewTokenCache("app1", 42, testPrivateKeyPEM(t), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewTokenCache: %v", err)
	}

	tok1, err := tc.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	tok2, err := tc.Token()
	if err != nil {
		t.Fatalf("Token (cached): %v", err)
	}
	if tok1 != "tok-1" || tok2 != "tok-1" {
		t.Errorf("got %q/%q, want tok-1/tok-1", tok1, tok2)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (second Token() should hit the cache)", calls)
	}
}

func TestTokenRefreshesNearExpiry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(InstallationToken{
			Token:     "tok-fresh",
			ExpiresAt: time.Now().Add(1 * time.Hour),
		})
	}))
	defer srv.Close()

	fakeNow := time.Now()
	tc, err := NewTokenCache("app1", 42, testPrivateKeyPEM(t),
		WithBaseURL(srv.URL),
		WithNowFunc(func() time.Time { return fakeNow }))
	if err != nil {
		t.Fatalf("NewTokenCache: %v", err)
	}

	if _, err := tc.Token(); err != nil {
		t.Fatalf("Token: %v", err)
	}
	fakeNow = fakeNow.Add(56 * time.Minute) // within refreshBuffer of the 1h expiry
	if _, err := tc.Token(); err != nil {
		t.Fatalf("Token (refresh): %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (expiry-buffer refresh should re-fetch)", calls)
	}
}

func TestTokenSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "suspended"})
	}))
	defer srv.Close()

	tc, err := NewTokenCache("app1", 42, testPrivateKeyPEM(t), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewTokenCache: %v", err)
	}
	if _, err := tc.Token(); err == nil {
		t.Fatal("expected error for forbidden response")
	}
}
