package onboarding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tax-connect/pos-connector/internal/adapter"
	"github.com/tax-connect/pos-connector/internal/domain"
)

func TestStateSignerRoundTrip(t *testing.T) {
	signer := NewStateSigner("state-test-key")

	state, err := signer.Sign("session-abc", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected sign error: %s", err)
	}

	sessionID, err := signer.Verify(state)
	if err != nil {
		t.Fatalf("unexpected verify error: %s", err)
	}

	if sessionID != "session-abc" {
		t.Fatalf("expected session-abc, got %s", sessionID)
	}
}

func TestStateSignerRejectsWrongKey(t *testing.T) {
	state, err := NewStateSigner("key-one").Sign("session-abc", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected sign error: %s", err)
	}

	_, err = NewStateSigner("key-two").Verify(state)
	if !errors.Is(err, ErrInvalidOAuthState) {
		t.Fatalf("expected ErrInvalidOAuthState, got %v", err)
	}
}

func TestStateSignerRejectsExpiredState(t *testing.T) {
	signer := NewStateSigner("state-test-key")

	state, err := signer.Sign("session-abc", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("unexpected sign error: %s", err)
	}

	if _, err := signer.Verify(state); !errors.Is(err, ErrInvalidOAuthState) {
		t.Fatalf("expected ErrInvalidOAuthState, got %v", err)
	}
}

func TestStateSignerRejectsGarbage(t *testing.T) {
	if _, err := NewStateSigner("state-test-key").Verify("not-a-token"); !errors.Is(err, ErrInvalidOAuthState) {
		t.Fatalf("expected ErrInvalidOAuthState, got %v", err)
	}
}

func TestBuildAuthorizeURL(t *testing.T) {
	descriptor := &adapter.VendorDescriptor{
		OAuth: adapter.OAuthEndpoints{
			AuthorizeURLTemplate: "https://{shop_domain}/admin/oauth/authorize",
			Scopes:               []string{"read_orders", "read_products"},
		},
	}

	url := BuildAuthorizeURL(descriptor, domain.AuthCredentials{
		APIKey:     "client-123",
		ShopDomain: "acme.myshopify.com",
	}, "https://app.example.com/callback", "signed-state")

	for _, fragment := range []string{
		"https://acme.myshopify.com/admin/oauth/authorize?",
		"client_id=client-123",
		"state=signed-state",
		"scope=read_orders%2Cread_products",
		"redirect_uri=https%3A%2F%2Fapp.example.com%2Fcallback",
	} {
		if !strings.Contains(url, fragment) {
			t.Fatalf("expected %q in %s", fragment, url)
		}
	}
}

func TestHTTPTokenExchanger(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("unexpected form error: %s", err)
		}
		if r.PostFormValue("code") != "authcode-123" {
			t.Fatalf("unexpected code: %s", r.PostFormValue("code"))
		}
		if r.PostFormValue("client_secret") != "secret-456" {
			t.Fatalf("unexpected client secret: %s", r.PostFormValue("client_secret"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"token-789","refresh_token":"refresh-000"}`))
	}))
	defer server.Close()

	descriptor := &adapter.VendorDescriptor{
		OAuth: adapter.OAuthEndpoints{TokenURL: server.URL},
	}

	exchanger := NewHTTPTokenExchanger(5 * time.Second)

	creds, err := exchanger.Exchange(context.Background(), descriptor, "authcode-123", domain.AuthCredentials{
		APIKey:    "client-123",
		APISecret: "secret-456",
	})
	if err != nil {
		t.Fatalf("unexpected exchange error: %s", err)
	}

	if creds.AccessToken != "token-789" || creds.RefreshToken != "refresh-000" {
		t.Fatalf("unexpected credentials: %v", creds.FieldNames())
	}

	if creds.APIKey != "client-123" {
		t.Fatal("expected the partial credentials to be preserved")
	}
}

func TestHTTPTokenExchangerSurfacesVendorErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	descriptor := &adapter.VendorDescriptor{
		OAuth: adapter.OAuthEndpoints{TokenURL: server.URL},
	}

	exchanger := NewHTTPTokenExchanger(5 * time.Second)

	if _, err := exchanger.Exchange(context.Background(), descriptor, "authcode-123", domain.AuthCredentials{}); err == nil {
		t.Fatal("expected the vendor error to surface")
	}
}
