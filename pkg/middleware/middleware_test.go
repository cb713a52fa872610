package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type memoryStore struct {
	values map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: make(map[string]string)}
}

func (s *memoryStore) Get(_ context.Context, key string) (string, error) {
	return s.values[key], nil
}

func (s *memoryStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.values[key] = value
	return nil
}

func TestIdempotency_ReplaysOriginalStatus(t *testing.T) {
	calls := 0
	handler := Idempotency(newMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":1}`))
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/borrows", nil)
		req.Header.Set("Idempotency-Key", "order-42")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("request %d: expected 201, got %d", i+1, rec.Code)
		}
		if body := rec.Body.String(); body != `{"id":1}` {
			t.Fatalf("request %d: unexpected body %q", i+1, body)
		}
	}

	if calls != 1 {
		t.Fatalf("expected the handler to run once, ran %d times", calls)
	}
}

func TestIdempotency_ErrorsAreNotCached(t *testing.T) {
	calls := 0
	handler := Idempotency(newMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"bad"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":2}`))
	}))

	for _, want := range []int{http.StatusBadRequest, http.StatusCreated} {
		req := httptest.NewRequest(http.MethodPost, "/api/borrows", nil)
		req.Header.Set("Idempotency-Key", "order-7")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("expected %d, got %d", want, rec.Code)
		}
	}

	if calls != 2 {
		t.Fatalf("expected the handler to run twice, ran %d times", calls)
	}
}

func TestSplitCachedResponse(t *testing.T) {
	status, body := splitCachedResponse("201\n{\"id\":1}")
	if status != http.StatusCreated || body != `{"id":1}` {
		t.Fatalf("got status %d body %q", status, body)
	}

	// Entries written without a status line replay as 200.
	status, body = splitCachedResponse(`{"id":1}`)
	if status != http.StatusOK || body != `{"id":1}` {
		t.Fatalf("got status %d body %q", status, body)
	}
}
