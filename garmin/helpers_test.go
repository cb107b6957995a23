package garmin

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// stubExchange hands out handles carrying "Bearer tok-N" where N counts calls
type stubExchange struct {
	mu    sync.Mutex
	calls int
	// failFrom makes every call from this number on fail; 0 never fails.
	failFrom int
	delay    time.Duration
	account  AccountID
}

func newStubExchange() *stubExchange {
	return &stubExchange{account: AccountID{DisplayName: "runner", UserName: "runner@example.com"}}
}

func (s *stubExchange) Exchange(ctx context.Context, email, password string) (*Handle, AccountID, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	fail := s.failFrom > 0 && n >= s.failFrom
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if fail {
		return nil, AccountID{}, fmt.Errorf("bad credentials")
	}

	header := http.Header{}
	header.Set("Authorization", fmt.Sprintf("Bearer tok-%d", n))
	return NewHandle(nil, header), s.account, nil
}

func (s *stubExchange) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type step struct {
	status int
	body   string
}

// scriptedServer answers the n-th request with steps[n], repeating the last
// step once the script runs out.
type scriptedServer struct {
	*httptest.Server
	hits  atomic.Int32
	mu    sync.Mutex
	auths []string
	paths []string
}

func newScriptedServer(t *testing.T, steps ...step) *scriptedServer {
	t.Helper()
	s := &scriptedServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := int(s.hits.Add(1)) - 1
		s.mu.Lock()
		s.auths = append(s.auths, r.Header.Get("Authorization"))
		s.paths = append(s.paths, r.URL.RequestURI())
		s.mu.Unlock()

		if idx >= len(steps) {
			idx = len(steps) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(steps[idx].status)
		_, _ = w.Write([]byte(steps[idx].body))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *scriptedServer) Hits() int {
	return int(s.hits.Load())
}

func (s *scriptedServer) Auths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auths...)
}

func (s *scriptedServer) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}
