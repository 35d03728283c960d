package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// noopValidator allows any URL (including loopback) for test servers.
func noopValidator(_ string) error { return nil }

// newTestDispatcher creates a dispatcher that skips SSRF checks for localhost test servers.
func newTestDispatcher(store Store) *Dispatcher {
	d := NewDispatcherWithRetry(store, RetryConfig{
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
	})
	d.urlValidator = noopValidator
	return d
}

// ---------------------------------------------------------------------------
// MemoryStore tests
// ---------------------------------------------------------------------------

func TestMemoryStore_CRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sub := &Subscription{
		ID:        "wh_test1",
		TenantID:  "ten_1",
		URL:       "https://example.com/hook",
		Secret:    "secret123",
		Events:    []EventType{EventConfigurationUpdated},
		Active:    true,
		CreatedAt: time.Now(),
	}

	// Create
	if err := store.Create(ctx, sub); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Get
	got, err := store.Get(ctx, "wh_test1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.URL != "https://example.com/hook" {
		t.Errorf("Expected URL, got %s", got.URL)
	}

	// Update
	sub.Active = false
	store.Update(ctx, sub)
	got, _ = store.Get(ctx, "wh_test1")
	if got.Active {
		t.Error("Expected inactive after update")
	}

	// Delete
	store.Delete(ctx, "wh_test1")
	_, err = store.Get(ctx, "wh_test1")
	if err == nil {
		t.Error("Expected error after delete")
	}
}

func TestMemoryStore_GetByTenant(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Create(ctx, &Subscription{ID: "wh1", TenantID: "ten_a", Events: []EventType{EventPlanCreated}})
	store.Create(ctx, &Subscription{ID: "wh2", TenantID: "ten_b", Events: []EventType{EventPlanCreated}})
	store.Create(ctx, &Subscription{ID: "wh3", TenantID: "ten_a", Events: []EventType{EventUsageRecorded}})

	subs, _ := store.GetByTenant(ctx, "ten_a")
	if len(subs) != 2 {
		t.Errorf("Expected 2 subs for ten_a, got %d", len(subs))
	}
}

func TestMemoryStore_GetByEvent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Create(ctx, &Subscription{ID: "wh1", TenantID: "ten_a", Events: []EventType{EventPlanCreated, EventPlanArchived}})
	store.Create(ctx, &Subscription{ID: "wh2", TenantID: "ten_a", Events: []EventType{EventUsageRecorded}})
	store.Create(ctx, &Subscription{ID: "wh3", TenantID: "ten_a", Events: []EventType{EventPlanCreated}})
	store.Create(ctx, &Subscription{ID: "wh4", TenantID: "ten_b", Events: []EventType{EventPlanCreated}})

	subs, _ := store.GetByEvent(ctx, "ten_a", EventPlanCreated)
	if len(subs) != 2 {
		t.Errorf("Expected 2 subs for plan.created, got %d", len(subs))
	}
}

// ---------------------------------------------------------------------------
// Event type tests
// ---------------------------------------------------------------------------

func TestValidEventType(t *testing.T) {
	for _, et := range KnownEventTypes {
		if !ValidEventType(et) {
			t.Errorf("Expected %s to be valid", et)
		}
	}
	if ValidEventType("payment.received") {
		t.Error("Expected unknown event type to be invalid")
	}
}

// ---------------------------------------------------------------------------
// Signature tests
// ---------------------------------------------------------------------------

func TestSign(t *testing.T) {
	d := newTestDispatcher(NewMemoryStore())

	payload := []byte(`{"type":"configuration.updated","data":{}}`)
	secret := "test_secret_key"

	sig := d.sign(payload, secret)

	// Verify manually
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	expected := hex.EncodeToString(h.Sum(nil))

	if sig != expected {
		t.Errorf("Signature mismatch: got %s, want %s", sig, expected)
	}
}

func TestSign_DifferentSecrets(t *testing.T) {
	d := newTestDispatcher(NewMemoryStore())

	payload := []byte(`{"test": true}`)
	sig1 := d.sign(payload, "secret1")
	sig2 := d.sign(payload, "secret2")

	if sig1 == sig2 {
		t.Error("Different secrets should produce different signatures")
	}
}

// ---------------------------------------------------------------------------
// Dispatch tests
// ---------------------------------------------------------------------------

func TestDispatch_SendsToSubscribers(t *testing.T) {
	store := NewMemoryStore()

	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:       "wh1",
		TenantID: "ten_1",
		URL:      server.URL,
		Events:   []EventType{EventConfigurationUpdated},
		Active:   true,
	})

	d := newTestDispatcher(store)
	event := &Event{
		Type:      EventConfigurationUpdated,
		TenantID:  "ten_1",
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"configurationId": "cfg_1"},
	}

	err := d.Dispatch(ctx, event)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	// Wait for async delivery
	time.Sleep(200 * time.Millisecond)

	if received.Load() != 1 {
		t.Errorf("Expected 1 webhook delivery, got %d", received.Load())
	}
}

func TestDispatch_ScopedToTenant(t *testing.T) {
	store := NewMemoryStore()

	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:       "wh1",
		TenantID: "ten_other",
		URL:      server.URL,
		Events:   []EventType{EventConfigurationUpdated},
		Active:   true,
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{Type: EventConfigurationUpdated, TenantID: "ten_1", Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)

	if received.Load() != 0 {
		t.Errorf("Expected 0 deliveries to another tenant's endpoint, got %d", received.Load())
	}
}

func TestDispatch_SkipsInactiveSubscribers(t *testing.T) {
	store := NewMemoryStore()

	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:       "wh1",
		TenantID: "ten_1",
		URL:      server.URL,
		Events:   []EventType{EventConfigurationUpdated},
		Active:   false, // Inactive
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{Type: EventConfigurationUpdated, TenantID: "ten_1", Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)

	if received.Load() != 0 {
		t.Errorf("Expected 0 deliveries for inactive sub, got %d", received.Load())
	}
}

func TestDispatch_IncludesSignature(t *testing.T) {
	store := NewMemoryStore()

	var mu sync.Mutex
	var gotSig string
	var gotBody []byte
	secret := "test_webhook_secret" //nolint:gosec // test credential

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotSig = r.Header.Get("X-Ratecard-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:       "wh1",
		TenantID: "ten_1",
		URL:      server.URL,
		Events:   []EventType{EventConfigurationUpdated},
		Active:   true,
		Secret:   secret,
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{
		Type:      EventConfigurationUpdated,
		TenantID:  "ten_1",
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"configurationId": "cfg_1"},
	})

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if gotSig == "" {
		t.Fatal("Expected signature header")
	}

	// Verify signature
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(gotBody)
	expected := hex.EncodeToString(h.Sum(nil))

	if gotSig != expected {
		t.Errorf("Signature mismatch: %s != %s", gotSig, expected)
	}
}

func TestDispatch_IncludesEventHeaders(t *testing.T) {
	store := NewMemoryStore()

	var mu sync.Mutex
	var gotEventType string
	var gotTimestamp string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotEventType = r.Header.Get("X-Ratecard-Event")
		gotTimestamp = r.Header.Get("X-Ratecard-Timestamp")
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:       "wh1",
		TenantID: "ten_1",
		URL:      server.URL,
		Events:   []EventType{EventBucketThreshold},
		Active:   true,
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{Type: EventBucketThreshold, TenantID: "ten_1", Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if gotEventType != "bucket.threshold" {
		t.Errorf("Expected event type bucket.threshold, got %s", gotEventType)
	}
	if gotTimestamp == "" {
		t.Error("Expected timestamp header")
	}
}

func TestDispatch_PayloadFormat(t *testing.T) {
	store := NewMemoryStore()

	var mu sync.Mutex
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:       "wh1",
		TenantID: "ten_1",
		URL:      server.URL,
		Events:   []EventType{EventUsageRecorded},
		Active:   true,
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{
		Type:      EventUsageRecorded,
		TenantID:  "ten_1",
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"serviceId": "svc_1", "units": 42},
	})

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	var parsed Event
	if err := json.Unmarshal(gotBody, &parsed); err != nil {
		t.Fatalf("Failed to parse webhook payload: %v", err)
	}
	if parsed.Type != EventUsageRecorded {
		t.Errorf("Expected type usage.recorded, got %s", parsed.Type)
	}
	if parsed.TenantID != "ten_1" {
		t.Errorf("Expected tenantId ten_1, got %s", parsed.TenantID)
	}
}

func TestDispatch_ErrorUpdatesSubscription(t *testing.T) {
	store := NewMemoryStore()

	// Server that returns 500
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:       "wh1",
		TenantID: "ten_1",
		URL:      server.URL,
		Events:   []EventType{EventConfigurationUpdated},
		Active:   true,
	})

	d := NewDispatcherWithRetry(store, RetryConfig{
		MaxAttempts: 1,
		BaseDelay:   10 * time.Millisecond,
		MaxFailures: 50,
	})
	d.urlValidator = noopValidator
	d.Dispatch(ctx, &Event{Type: EventConfigurationUpdated, TenantID: "ten_1", Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)

	sub, _ := store.Get(ctx, "wh1")
	if sub.LastError == "" {
		t.Error("Expected lastError to be set after 500 response")
	}
	if sub.ConsecutiveFailures != 1 {
		t.Errorf("Expected 1 consecutive failure, got %d", sub.ConsecutiveFailures)
	}
}

func TestDispatch_SuccessUpdatesSubscription(t *testing.T) {
	store := NewMemoryStore()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:       "wh1",
		TenantID: "ten_1",
		URL:      server.URL,
		Events:   []EventType{EventConfigurationUpdated},
		Active:   true,
	})

	d := newTestDispatcher(store)
	d.Dispatch(ctx, &Event{Type: EventConfigurationUpdated, TenantID: "ten_1", Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)

	sub, _ := store.Get(ctx, "wh1")
	if sub.LastSuccess == nil {
		t.Error("Expected lastSuccess to be set after successful delivery")
	}
}

func TestDispatch_RetriesServerErrors(t *testing.T) {
	store := NewMemoryStore()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(500)
			return
		}
		w.WriteHeader(200)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:       "wh1",
		TenantID: "ten_1",
		URL:      server.URL,
		Events:   []EventType{EventConfigurationUpdated},
		Active:   true,
	})

	d := NewDispatcherWithRetry(store, RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	})
	d.urlValidator = noopValidator
	d.Dispatch(ctx, &Event{Type: EventConfigurationUpdated, TenantID: "ten_1", Timestamp: time.Now()})

	time.Sleep(300 * time.Millisecond)

	if calls.Load() != 2 {
		t.Errorf("Expected 2 delivery attempts, got %d", calls.Load())
	}
	sub, _ := store.Get(ctx, "wh1")
	if sub.LastSuccess == nil {
		t.Error("Expected lastSuccess after retry recovered")
	}
}

func TestDispatch_DoesNotRetryClientErrors(t *testing.T) {
	store := NewMemoryStore()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(410)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:       "wh1",
		TenantID: "ten_1",
		URL:      server.URL,
		Events:   []EventType{EventConfigurationUpdated},
		Active:   true,
	})

	d := NewDispatcherWithRetry(store, RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	})
	d.urlValidator = noopValidator
	d.Dispatch(ctx, &Event{Type: EventConfigurationUpdated, TenantID: "ten_1", Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)

	if calls.Load() != 1 {
		t.Errorf("Expected 1 delivery attempt for 410, got %d", calls.Load())
	}
}

func TestDispatch_DisablesAfterMaxFailures(t *testing.T) {
	store := NewMemoryStore()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer server.Close()

	ctx := context.Background()
	store.Create(ctx, &Subscription{
		ID:       "wh1",
		TenantID: "ten_1",
		URL:      server.URL,
		Events:   []EventType{EventConfigurationUpdated},
		Active:   true,
	})

	d := NewDispatcherWithRetry(store, RetryConfig{
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
		MaxFailures: 2,
	})
	d.urlValidator = noopValidator

	for i := 0; i < 2; i++ {
		d.Dispatch(ctx, &Event{Type: EventConfigurationUpdated, TenantID: "ten_1", Timestamp: time.Now()})
		time.Sleep(100 * time.Millisecond)
	}

	sub, _ := store.Get(ctx, "wh1")
	if sub.Active {
		t.Error("Expected subscription disabled after consecutive failures")
	}
	if sub.ConsecutiveFailures != 2 {
		t.Errorf("Expected 2 consecutive failures, got %d", sub.ConsecutiveFailures)
	}
}

func TestDispatch_RejectsUnsafeURL(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Create(ctx, &Subscription{
		ID:       "wh1",
		TenantID: "ten_1",
		URL:      "http://169.254.169.254/latest/meta-data",
		Events:   []EventType{EventConfigurationUpdated},
		Active:   true,
	})

	// Real validator this time: the link-local address must be blocked.
	d := NewDispatcherWithRetry(store, RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond})
	d.Dispatch(ctx, &Event{Type: EventConfigurationUpdated, TenantID: "ten_1", Timestamp: time.Now()})

	time.Sleep(200 * time.Millisecond)

	sub, _ := store.Get(ctx, "wh1")
	if sub.LastError == "" {
		t.Error("Expected lastError for blocked endpoint")
	}
	if sub.LastSuccess != nil {
		t.Error("Expected no delivery to blocked endpoint")
	}
}
