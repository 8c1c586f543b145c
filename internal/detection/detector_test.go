package detection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tax-connect/pos-connector/internal/adapter"
	"github.com/tax-connect/pos-connector/internal/domain"
	"github.com/tax-connect/pos-connector/internal/platform/logger"
)

func init() {
	logger.InitLogger()
}

func bearerAuth(creds domain.AuthCredentials) (string, string) {
	if creds.AccessToken == "" {
		return "Authorization", ""
	}
	return "Authorization", "Bearer " + creds.AccessToken
}

func newTestDescriptor(posType domain.POSType, baseURL string, signatureHeader string) *adapter.VendorDescriptor {
	return &adapter.VendorDescriptor{
		POSType:             posType,
		DisplayName:         string(posType),
		BaseURLTemplate:     baseURL,
		ProbeEndpoints:      []string{"/probe.json"},
		SignatureHeader:     signatureHeader,
		AuthHeaderBuilder:   bearerAuth,
		RequiredCredentials: []string{"access_token"},
		SupportedFeatures:   []string{"transactions"},
	}
}

func newTestRegistry(t *testing.T, descriptors ...*adapter.VendorDescriptor) *adapter.Registry {
	t.Helper()
	registry := adapter.NewRegistry()
	for _, descriptor := range descriptors {
		if err := registry.Register(descriptor); err != nil {
			t.Fatalf("unexpected registration error: %s", err)
		}
	}
	return registry
}

func vendorServer(t *testing.T, signatureHeader string, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if signatureHeader != "" {
			w.Header().Set(signatureHeader, "present")
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDetectShopifyFingerprint(t *testing.T) {

	shopifyServer := vendorServer(t, "X-Shopify-API-Version", http.StatusOK, `{"shop":{"id":1}}`)
	squareServer := vendorServer(t, "", http.StatusNotFound, "not found")

	registry := newTestRegistry(t,
		newTestDescriptor("shopify", shopifyServer.URL, "X-Shopify-API-Version"),
		newTestDescriptor("square", squareServer.URL, "Square-Version"),
	)

	detector := NewDetector(registry, 3, 2*time.Second)

	result, err := detector.DetectPOSSystem(context.Background(), domain.AuthCredentials{AccessToken: "shpat_test"})
	if err != nil {
		t.Fatalf("unexpected detection error: %s", err)
	}

	if result.POSType != "shopify" {
		t.Fatalf("expected shopify, got %s", result.POSType)
	}

	if result.Confidence < 0.9 {
		t.Fatalf("expected confidence >= 0.9, got %f", result.Confidence)
	}

	if result.Configuration.POSType != "shopify" {
		t.Fatalf("expected a shopify draft configuration, got %s", result.Configuration.POSType)
	}

	if result.Configuration.Enabled {
		t.Fatal("draft configuration must not be enabled")
	}
}

func TestDetectionIsDeterministic(t *testing.T) {

	server := vendorServer(t, "X-Shopify-API-Version", http.StatusOK, `{"shop":{}}`)

	registry := newTestRegistry(t, newTestDescriptor("shopify", server.URL, "X-Shopify-API-Version"))
	detector := NewDetector(registry, 3, 2*time.Second)

	first, err := detector.DetectPOSSystem(context.Background(), domain.AuthCredentials{AccessToken: "token"})
	if err != nil {
		t.Fatalf("unexpected detection error: %s", err)
	}

	second, err := detector.DetectPOSSystem(context.Background(), domain.AuthCredentials{AccessToken: "token"})
	if err != nil {
		t.Fatalf("unexpected detection error: %s", err)
	}

	if first.POSType != second.POSType || first.Confidence != second.Confidence {
		t.Fatalf("expected identical results, got %v / %v", first, second)
	}
}

func TestCandidatesAreSortedByConfidence(t *testing.T) {

	// full fingerprint match
	strongServer := vendorServer(t, "X-Strong-Sig", http.StatusOK, `{"ok":true}`)
	// auth challenge only
	weakServer := vendorServer(t, "", http.StatusUnauthorized, "denied")

	registry := newTestRegistry(t,
		newTestDescriptor("weak", weakServer.URL, "X-Weak-Sig"),
		newTestDescriptor("strong", strongServer.URL, "X-Strong-Sig"),
	)

	detector := NewDetector(registry, 3, 2*time.Second)

	candidates, err := detector.DetectCandidates(context.Background(), domain.AuthCredentials{AccessToken: "token"})
	if err != nil {
		t.Fatalf("unexpected detection error: %s", err)
	}

	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}

	if candidates[0].POSType != "strong" || candidates[1].POSType != "weak" {
		t.Fatalf("expected strong before weak, got %s / %s", candidates[0].POSType, candidates[1].POSType)
	}

	if candidates[0].Confidence <= candidates[1].Confidence {
		t.Fatalf("expected descending confidence, got %f / %f", candidates[0].Confidence, candidates[1].Confidence)
	}
}

func TestTiesBreakByRegistrationOrder(t *testing.T) {

	firstServer := vendorServer(t, "", http.StatusUnauthorized, "denied")
	secondServer := vendorServer(t, "", http.StatusUnauthorized, "denied")

	registry := newTestRegistry(t,
		newTestDescriptor("first_vendor", firstServer.URL, "X-First-Sig"),
		newTestDescriptor("second_vendor", secondServer.URL, "X-Second-Sig"),
	)

	detector := NewDetector(registry, 3, 2*time.Second)

	candidates, err := detector.DetectCandidates(context.Background(), domain.AuthCredentials{AccessToken: "token"})
	if err != nil {
		t.Fatalf("unexpected detection error: %s", err)
	}

	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}

	if candidates[0].POSType != "first_vendor" {
		t.Fatalf("expected registration order to break the tie, got %s first", candidates[0].POSType)
	}
}

func TestNoMatchesFailsDetection(t *testing.T) {

	server := vendorServer(t, "", http.StatusNotFound, "not found")

	registry := newTestRegistry(t, newTestDescriptor("shopify", server.URL, "X-Shopify-API-Version"))
	detector := NewDetector(registry, 3, 2*time.Second)

	_, err := detector.DetectPOSSystem(context.Background(), domain.AuthCredentials{AccessToken: "token"})
	if !errors.Is(err, ErrDetectionFailed) {
		t.Fatalf("expected ErrDetectionFailed, got %v", err)
	}
}

func TestUnreachableVendorDoesNotAffectOthers(t *testing.T) {

	liveServer := vendorServer(t, "X-Live-Sig", http.StatusOK, `{"ok":true}`)

	deadServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadServer.Close()

	registry := newTestRegistry(t,
		newTestDescriptor("dead_vendor", deadServer.URL, "X-Dead-Sig"),
		newTestDescriptor("live_vendor", liveServer.URL, "X-Live-Sig"),
	)

	detector := NewDetector(registry, 3, 2*time.Second)

	candidates, err := detector.DetectCandidates(context.Background(), domain.AuthCredentials{AccessToken: "token"})
	if err != nil {
		t.Fatalf("unexpected detection error: %s", err)
	}

	if len(candidates) != 1 || candidates[0].POSType != "live_vendor" {
		t.Fatalf("expected only the live vendor to match, got %v", candidates)
	}
}

func TestCandidateListIsTruncatedToParallelLimit(t *testing.T) {

	firstServer := vendorServer(t, "", http.StatusUnauthorized, "denied")
	secondServer := vendorServer(t, "", http.StatusUnauthorized, "denied")

	var thirdProbes int
	thirdServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		thirdProbes++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(thirdServer.Close)

	registry := newTestRegistry(t,
		newTestDescriptor("vendor_a", firstServer.URL, "X-A-Sig"),
		newTestDescriptor("vendor_b", secondServer.URL, "X-B-Sig"),
		newTestDescriptor("vendor_c", thirdServer.URL, "X-C-Sig"),
	)

	detector := NewDetector(registry, 2, 2*time.Second)

	candidates, err := detector.DetectCandidates(context.Background(), domain.AuthCredentials{AccessToken: "token"})
	if err != nil {
		t.Fatalf("unexpected detection error: %s", err)
	}

	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}

	if thirdProbes != 0 {
		t.Fatalf("expected the third vendor to be skipped, got %d probes", thirdProbes)
	}
}
