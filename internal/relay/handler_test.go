// AngelaMos | 2026
// handler_test.go

package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkkgraphics/lucia-backend/internal/config"
	"github.com/arkkgraphics/lucia-backend/internal/core"
	"github.com/arkkgraphics/lucia-backend/internal/entitlement"
	"github.com/arkkgraphics/lucia-backend/internal/middleware"
	"github.com/arkkgraphics/lucia-backend/internal/profile"
	"github.com/arkkgraphics/lucia-backend/internal/quota"
)

type memStore struct {
	mu       sync.Mutex
	accounts map[string]*profile.Account
}

func newMemStore() *memStore {
	return &memStore{accounts: make(map[string]*profile.Account)}
}

func (m *memStore) GetOrCreate(
	_ context.Context,
	uid string,
) (*profile.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[uid]
	if !ok {
		a = &profile.Account{UID: uid, Tier: "free", CourtesyUsed: "false"}
		m.accounts[uid] = a
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) Mutate(
	_ context.Context,
	uid string,
	fn func(*profile.Account) error,
) (*profile.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[uid]
	if !ok {
		return nil, core.ErrNotFound
	}

	cp := *a
	if err := fn(&cp); err != nil {
		return nil, err
	}
	*a = cp

	out := cp
	return &out, nil
}

func (m *memStore) used(uid string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[uid].ExchangesUsed
}

// staleReadStore hands out a fixed stale snapshot for the first read,
// mimicking another session consuming the last message between this
// request's check and its commit.
type staleReadStore struct {
	*memStore
	stale     *profile.Account
	staleLeft atomic.Int32
}

func (s *staleReadStore) GetOrCreate(
	ctx context.Context,
	uid string,
) (*profile.Account, error) {
	if s.staleLeft.Add(-1) >= 0 {
		cp := *s.stale
		return &cp, nil
	}
	return s.memStore.GetOrCreate(ctx, uid)
}

func newChatHandler(
	store quota.ProfileStore,
	upstreamURL string,
) *Handler {
	cfg := config.GatewayConfig{
		URL:          upstreamURL,
		APIKey:       "gw_test_key",
		Model:        "test-model",
		Timeout:      2 * time.Second,
		HistoryLimit: 20,
	}

	resolver := entitlement.NewResolver(entitlement.DefaultAliases())
	quotaSvc := quota.NewService(store, resolver)

	return NewHandler(quotaSvc, NewClient(cfg), cfg)
}

func chatRequest(t *testing.T, uid, body string) *http.Request {
	t.Helper()

	req := httptest.NewRequest(
		http.MethodPost,
		"/v1/chat",
		strings.NewReader(body),
	)
	req.Header.Set("Content-Type", "application/json")

	ctx := context.WithValue(req.Context(), middleware.UserIDKey, uid)
	return req.WithContext(ctx)
}

func TestChatCommitsOnlyAfterUpstreamSuccess(t *testing.T) {
	var upstreamCalls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			upstreamCalls.Add(1)
			assert.Equal(t, "Bearer gw_test_key", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			//nolint:errcheck // test server write
			_, _ = w.Write([]byte(
				`{"choices":[{"message":{"role":"assistant","content":"hola"}}]}`,
			))
		},
	))
	defer upstream.Close()

	store := newMemStore()
	handler := newChatHandler(store, upstream.URL)

	rec := httptest.NewRecorder()
	handler.Chat(rec, chatRequest(t, "u1", `{"message":"hello"}`))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reply":"hola"`)
	assert.Equal(t, int32(1), upstreamCalls.Load())
	assert.Equal(t, 1, store.used("u1"))
}

func TestChatBlockedAccountNeverReachesUpstream(t *testing.T) {
	var upstreamCalls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			upstreamCalls.Add(1)
		},
	))
	defer upstream.Close()

	store := newMemStore()
	store.accounts["u1"] = &profile.Account{
		UID:           "u1",
		Tier:          "free",
		ExchangesUsed: 12,
		CourtesyUsed:  "true",
	}
	handler := newChatHandler(store, upstream.URL)

	rec := httptest.NewRecorder()
	handler.Chat(rec, chatRequest(t, "u1", `{"message":"hello"}`))

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), "quota_exceeded")
	assert.Equal(t, int32(0), upstreamCalls.Load())
	assert.Equal(t, 12, store.used("u1"))
}

func TestChatCourtesyOfferRequiresDecision(t *testing.T) {
	var upstreamCalls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			upstreamCalls.Add(1)
		},
	))
	defer upstream.Close()

	store := newMemStore()
	store.accounts["u1"] = &profile.Account{
		UID:           "u1",
		Tier:          "free",
		ExchangesUsed: 10,
		CourtesyUsed:  "false",
	}
	handler := newChatHandler(store, upstream.URL)

	rec := httptest.NewRecorder()
	handler.Chat(rec, chatRequest(t, "u1", `{"message":"hello"}`))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "courtesy_decision_required")
	assert.Equal(t, int32(0), upstreamCalls.Load())
	assert.Equal(t, 10, store.used("u1"))
}

func TestChatUpstreamFailureLeavesCounterUntouched(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		},
	))
	defer upstream.Close()

	store := newMemStore()
	handler := newChatHandler(store, upstream.URL)

	rec := httptest.NewRecorder()
	handler.Chat(rec, chatRequest(t, "u1", `{"message":"hello"}`))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "relay_failed")
	assert.Equal(t, 0, store.used("u1"))
}

func TestChatCommitRaceReportsFreshQuotaState(t *testing.T) {
	var upstreamCalls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			upstreamCalls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			//nolint:errcheck // test server write
			_, _ = w.Write([]byte(
				`{"choices":[{"message":{"role":"assistant","content":"hola"}}]}`,
			))
		},
	))
	defer upstream.Close()

	store := newMemStore()
	store.accounts["u1"] = &profile.Account{
		UID:           "u1",
		Tier:          "free",
		ExchangesUsed: 12,
		CourtesyUsed:  "true",
	}

	raced := &staleReadStore{
		memStore: store,
		stale: &profile.Account{
			UID:           "u1",
			Tier:          "free",
			ExchangesUsed: 9,
			CourtesyUsed:  "false",
		},
	}
	raced.staleLeft.Store(1)

	handler := newChatHandler(raced, upstream.URL)

	rec := httptest.NewRecorder()
	handler.Chat(rec, chatRequest(t, "u1", `{"message":"hello"}`))

	// the reply is delivered, but the quota block reflects the row as
	// it stands after the lost race, not the stale pre-check snapshot
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reply":"hola"`)
	assert.Contains(t, rec.Body.String(), `"allowed":false`)
	assert.Contains(t, rec.Body.String(), `"exchanges_used":12`)
	assert.Equal(t, int32(1), upstreamCalls.Load())
	assert.Equal(t, 12, store.used("u1"))
}

func TestChatValidation(t *testing.T) {
	store := newMemStore()
	handler := newChatHandler(store, "http://unused.invalid")

	rec := httptest.NewRecorder()
	handler.Chat(rec, chatRequest(t, "u1", `{"message":""}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler.Chat(rec, chatRequest(t, "u1", `not-json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuildMessagesTruncatesHistory(t *testing.T) {
	handler := newChatHandler(newMemStore(), "http://unused.invalid")

	history := make([]Message, 30)
	for i := range history {
		history[i] = Message{Role: "user", Content: "m"}
	}

	messages := handler.buildMessages(ChatRequest{
		Message: "latest",
		History: history,
		System:  "be helpful",
	})

	// system + trimmed history + new message
	assert.Len(t, messages, 22)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, "latest", messages[len(messages)-1].Content)
}
