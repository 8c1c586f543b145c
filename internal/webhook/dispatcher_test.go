package webhook

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tax-connect/pos-connector/internal/platform/logger"
	"github.com/tax-connect/pos-connector/internal/resilience"
)

func init() {
	logger.InitLogger()
}

type mockJobPublisher struct {
	mutex sync.Mutex
	jobs  []string
}

func (m *mockJobPublisher) PublishJob(ctx context.Context, jobType string, payload []byte, metadata map[string]string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.jobs = append(m.jobs, jobType)
	return nil
}

func (m *mockJobPublisher) jobCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.jobs)
}

func newTestDispatcher(publisher JobPublisher) *Dispatcher {
	policy := resilience.NewRetryPolicy("webhook-test", 3, time.Millisecond, 2, 5*time.Millisecond)
	return NewDispatcher(time.Second, policy, publisher)
}

func TestDeliverPostsSignedPayload(t *testing.T) {
	payload := []byte(`{"event":"sync.completed"}`)

	var receivedSignature string
	var receivedBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedSignature = r.Header.Get(SignatureHeader)
		receivedBody, _ = ioutil.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher := newTestDispatcher(nil)
	result := <-dispatcher.Deliver(context.TODO(), server.URL, payload, DeliveryOptions{Secret: testSecret})

	if !result.Delivered {
		t.Fatalf("Expected delivery to succeed, got %v", result.Error)
	}
	if !Verify(receivedBody, receivedSignature, testSecret) {
		t.Fatalf("Expected the delivered payload to carry a verifiable signature")
	}
}

func TestDeliverRetriesTransientFailures(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher := newTestDispatcher(nil)
	result := <-dispatcher.Deliver(context.TODO(), server.URL, []byte(`{}`), DeliveryOptions{Secret: testSecret})

	if !result.Delivered {
		t.Fatalf("Expected delivery to eventually succeed, got %v", result.Error)
	}
	if result.Attempts != 3 {
		t.Fatalf("Expected 3 attempts, got %d", result.Attempts)
	}
}

func TestDeliverDoesNotRetryRejections(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	dispatcher := newTestDispatcher(nil)
	result := <-dispatcher.Deliver(context.TODO(), server.URL, []byte(`{}`), DeliveryOptions{Secret: testSecret})

	if result.Delivered {
		t.Fatalf("Expected delivery to fail")
	}
	if calls != 1 {
		t.Fatalf("Expected a 410 to not be retried, got %d calls", calls)
	}
}

func TestExhaustedDeliveryIsHandedToRedeliveryQueue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	publisher := &mockJobPublisher{}
	dispatcher := newTestDispatcher(publisher)
	result := <-dispatcher.Deliver(context.TODO(), server.URL, []byte(`{}`), DeliveryOptions{Secret: testSecret})

	if result.Delivered {
		t.Fatalf("Expected delivery to fail")
	}
	if result.Attempts != 3 {
		t.Fatalf("Expected retries to be exhausted, got %d attempts", result.Attempts)
	}
	if publisher.jobCount() != 1 {
		t.Fatalf("Expected 1 redelivery job, got %d", publisher.jobCount())
	}
}

func TestDeliverDoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher := newTestDispatcher(nil)

	start := time.Now()
	results := dispatcher.Deliver(context.TODO(), server.URL, []byte(`{}`), DeliveryOptions{Secret: testSecret})
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Expected Deliver to return immediately, took %s", elapsed)
	}

	close(release)
	if result := <-results; !result.Delivered {
		t.Fatalf("Expected delivery to succeed, got %v", result.Error)
	}
}
