package detection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/tax-connect/pos-connector/internal/adapter"
	"github.com/tax-connect/pos-connector/internal/domain"
	"github.com/tax-connect/pos-connector/internal/platform/logger"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// ErrDetectionFailed means the credentials matched no known fingerprint.
// Non-retryable: the input is bad or ambiguous, not the network.
var ErrDetectionFailed = errors.New("unable to detect pos system")

// Scoring weights. Heuristic constants: the ordering (signature header
// dominates, a 200 beats an auth challenge) is what matters, the exact
// values are tunable.
const (
	scoreSignatureHeader = 0.6
	scoreHTTPOK          = 0.3
	scoreAuthChallenge   = 0.2
	scoreStructuredBody  = 0.1

	maxProbeBodyBytes = 64 * 1024
)

// Detector fingerprints a credential set against the registered vendors.
// It is a heuristic classifier, not a proof of identity: callers still
// validate inside the chosen adapter during the test-connection step.
type Detector struct {
	registry         *adapter.Registry
	client           *http.Client
	maxParallelTests int
	probeTimeout     time.Duration
}

func NewDetector(registry *adapter.Registry, maxParallelTests int, probeTimeout time.Duration) *Detector {
	if maxParallelTests <= 0 {
		maxParallelTests = 3
	}
	if probeTimeout <= 0 {
		probeTimeout = 10 * time.Second
	}
	return &Detector{
		registry:         registry,
		client:           &http.Client{},
		maxParallelTests: maxParallelTests,
		probeTimeout:     probeTimeout,
	}
}

// DetectPOSSystem returns the highest-confidence candidate or fails with
// ErrDetectionFailed. It never returns a zero-confidence result.
func (d *Detector) DetectPOSSystem(ctx context.Context, creds domain.AuthCredentials) (domain.DetectionResult, error) {
	candidates, err := d.DetectCandidates(ctx, creds)
	if err != nil {
		return domain.DetectionResult{}, err
	}
	return candidates[0], nil
}

// DetectCandidates probes up to maxParallelTests vendors concurrently and
// returns every candidate that scored above zero, ranked descending by
// confidence. Ties go to the earlier-registered vendor.
func (d *Detector) DetectCandidates(ctx context.Context, creds domain.AuthCredentials) ([]domain.DetectionResult, error) {

	descriptors := d.registry.All()
	if len(descriptors) > d.maxParallelTests {
		// remaining candidates are not attempted - latency over exhaustiveness
		descriptors = descriptors[:d.maxParallelTests]
	}

	type scoredCandidate struct {
		order      int
		descriptor *adapter.VendorDescriptor
		confidence float64
	}

	scored := make([]scoredCandidate, len(descriptors))

	var wg sync.WaitGroup
	for i, descriptor := range descriptors {
		wg.Add(1)
		go func(order int, descriptor *adapter.VendorDescriptor) {
			defer wg.Done()

			timer := prometheus.NewTimer(metrics.probeDuration.WithLabelValues(string(descriptor.POSType)))
			defer timer.ObserveDuration()

			confidence := d.probeVendor(ctx, descriptor, creds)
			scored[order] = scoredCandidate{order: order, descriptor: descriptor, confidence: confidence}

			outcome := "miss"
			if confidence > 0 {
				outcome = "match"
			}
			metrics.probeOutcomeCounter.WithLabelValues(string(descriptor.POSType), outcome).Inc()
		}(i, descriptor)
	}
	wg.Wait()

	matches := make([]scoredCandidate, 0, len(scored))
	for _, candidate := range scored {
		if candidate.confidence > 0 {
			matches = append(matches, candidate)
		}
	}

	if len(matches) == 0 {
		logger.Log.WithFields(logrus.Fields{"credential_fields": creds.FieldNames()}).Info("POS detection failed")
		return nil, ErrDetectionFailed
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].confidence != matches[j].confidence {
			return matches[i].confidence > matches[j].confidence
		}
		return matches[i].order < matches[j].order
	})

	results := make([]domain.DetectionResult, len(matches))
	for i, match := range matches {
		results[i] = buildDetectionResult(match.descriptor, match.confidence, creds)
	}

	logger.Log.WithFields(logrus.Fields{
		"pos_type":   results[0].POSType,
		"confidence": results[0].Confidence,
		"candidates": len(results),
	}).Info("POS detection succeeded")

	return results, nil
}

// probeVendor scores one vendor fingerprint. A probe that errors or times
// out scores zero and drops out of the ranking; one vendor's failure never
// affects another's probe.
func (d *Detector) probeVendor(ctx context.Context, descriptor *adapter.VendorDescriptor, creds domain.AuthCredentials) float64 {
	baseURL := descriptor.BaseURL(creds)

	for _, endpoint := range descriptor.ProbeEndpoints {
		probeCtx, cancel := context.WithTimeout(ctx, d.probeTimeout)
		confidence, reachable := d.probeEndpoint(probeCtx, descriptor, baseURL+endpoint, creds)
		cancel()

		if reachable {
			return confidence
		}
	}

	return 0
}

func (d *Detector) probeEndpoint(ctx context.Context, descriptor *adapter.VendorDescriptor, url string, creds domain.AuthCredentials) (confidence float64, reachable bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, false
	}

	req.Header.Set("Accept", "application/json")
	headerName, headerValue := descriptor.AuthHeaderBuilder(creds)
	if headerValue != "" {
		req.Header.Set(headerName, headerValue)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()

	score := 0.0

	if resp.Header.Get(descriptor.SignatureHeader) != "" {
		score += scoreSignatureHeader
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		score += scoreHTTPOK
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// an auth challenge still confirms the endpoint shape
		score += scoreAuthChallenge
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBodyBytes))
	if err == nil && isStructuredObject(body) {
		score += scoreStructuredBody
	}

	if score > 1.0 {
		score = 1.0
	}

	return score, true
}

func isStructuredObject(body []byte) bool {
	var parsed map[string]interface{}
	return json.Unmarshal(body, &parsed) == nil && parsed != nil
}

func buildDetectionResult(descriptor *adapter.VendorDescriptor, confidence float64, creds domain.AuthCredentials) domain.DetectionResult {
	now := time.Now()

	return domain.DetectionResult{
		POSType:             descriptor.POSType,
		Confidence:          confidence,
		SupportedFeatures:   descriptor.SupportedFeatures,
		RequiredCredentials: descriptor.RequiredCredentials,
		Configuration: domain.AdapterConfiguration{
			ID:          uuid.NewString(),
			POSType:     descriptor.POSType,
			Name:        descriptor.DisplayName,
			Enabled:     false,
			Credentials: creds,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
}
