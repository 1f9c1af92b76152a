package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akagifreeez/relay-gateway/internal/handlers"
	"github.com/akagifreeez/relay-gateway/internal/services"
	"github.com/akagifreeez/relay-gateway/pkg/relay"
)

const testMasterKey = "master-test-key"

type fixture struct {
	store      *services.MemoryCredentialStore
	tokens     *services.TokenService
	dispatcher *services.Dispatcher
	router     chi.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"accepted":true}`))
	}))
	t.Cleanup(downstream.Close)

	store := services.NewMemoryCredentialStore(5000)
	require.NoError(t, store.EnsureMaster(ctx, testMasterKey, "admin", 10000))

	tokens := services.NewTokenService("handler-test-secret")
	limiter := services.NewMemoryRateLimiter(time.Hour, 100)
	validator := services.NewValidator(store, tokens, limiter)

	relayClient := relay.NewClient(downstream.URL, 5*time.Second)
	dispatcher := services.NewDispatcher(relayClient, 5*time.Second, 100, 2, nil)
	dispatcher.Start(ctx)
	t.Cleanup(dispatcher.Stop)

	dispatchHandler := handlers.NewDispatchHandler(validator, dispatcher)
	statsHandler := handlers.NewStatsHandler(store, dispatcher)
	keyHandler := handlers.NewKeyHandler(store, tokens)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/dispatch", dispatchHandler.Dispatch)

		r.Group(func(r chi.Router) {
			r.Use(handlers.AuthMiddleware(validator))

			r.Get("/dispatch/{requestId}", dispatchHandler.GetStatus)
			r.Get("/stats", statsHandler.GetStats)

			r.Group(func(r chi.Router) {
				r.Use(handlers.RequireMaster)

				r.Post("/keys", keyHandler.CreateKey)
				r.Delete("/keys/{id}", keyHandler.RevokeKey)
				r.Post("/tokens", keyHandler.IssueToken)
			})
		})
	})

	return &fixture{
		store:      store,
		tokens:     tokens,
		dispatcher: dispatcher,
		router:     r,
	}
}

func (f *fixture) request(t *testing.T, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestDispatchEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cred, err := f.store.Create(ctx, "alice", 10)
	require.NoError(t, err)

	t.Run("Success", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/v1/dispatch", cred.ID,
			map[string]any{"target": "98765 43210", "iterations": 3})

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["success"])

		data := body["data"].(map[string]any)
		assert.Equal(t, "9876543210", data["target"])
		assert.Equal(t, float64(3), data["iterations"])
		assert.Equal(t, "processing", data["status"])
		assert.NotEmpty(t, data["requestId"])

		usage := body["usage"].(map[string]any)
		assert.Equal(t, float64(1), usage["requests"])
		assert.Equal(t, float64(9), usage["remaining"])
	})

	t.Run("MissingCredential", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/v1/dispatch", "",
			map[string]any{"target": "9876543210"})

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "missing_credential", decodeBody(t, rec)["code"])
	})

	t.Run("UnknownCredential", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/v1/dispatch", "sk_bogus",
			map[string]any{"target": "9876543210"})

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "unknown_credential", decodeBody(t, rec)["code"])
	})

	t.Run("InvalidTargetConsumesNoQuota", func(t *testing.T) {
		before, err := f.store.Get(ctx, cred.ID)
		require.NoError(t, err)
		logLen := f.dispatcher.Len()

		rec := f.request(t, http.MethodPost, "/api/v1/dispatch", cred.ID,
			map[string]any{"target": "1234567890"})

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_input", decodeBody(t, rec)["code"])

		after, err := f.store.Get(ctx, cred.ID)
		require.NoError(t, err)
		assert.Equal(t, before.RequestCount, after.RequestCount)
		assert.Equal(t, logLen, f.dispatcher.Len())
	})

	t.Run("QuotaExceeded", func(t *testing.T) {
		small, err := f.store.Create(ctx, "small", 1)
		require.NoError(t, err)

		rec := f.request(t, http.MethodPost, "/api/v1/dispatch", small.ID,
			map[string]any{"target": "9876543210"})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.request(t, http.MethodPost, "/api/v1/dispatch", small.ID,
			map[string]any{"target": "9876543210"})
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "quota_exceeded", decodeBody(t, rec)["code"])

		got, err := f.store.Get(ctx, small.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.RequestCount)
	})

	t.Run("DeactivatedCredential", func(t *testing.T) {
		revoked, err := f.store.Create(ctx, "revoked", 10)
		require.NoError(t, err)
		require.NoError(t, f.store.SetActive(ctx, revoked.ID, false))

		rec := f.request(t, http.MethodPost, "/api/v1/dispatch", revoked.ID,
			map[string]any{"target": "9876543210"})

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "deactivated_credential", decodeBody(t, rec)["code"])
	})

	t.Run("TokenCredentialOmitsUsage", func(t *testing.T) {
		token, err := f.tokens.Issue("tok-user", 100, time.Hour)
		require.NoError(t, err)

		rec := f.request(t, http.MethodPost, "/api/v1/dispatch", token,
			map[string]any{"target": "9876543210"})

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["success"])
		assert.NotContains(t, body, "usage")
	})
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice, err := f.store.Create(ctx, "alice", 10)
	require.NoError(t, err)
	bob, err := f.store.Create(ctx, "bob", 10)
	require.NoError(t, err)

	rec := f.request(t, http.MethodPost, "/api/v1/dispatch", alice.ID,
		map[string]any{"target": "9876543210"})
	require.Equal(t, http.StatusOK, rec.Code)
	requestID := decodeBody(t, rec)["data"].(map[string]any)["requestId"].(string)

	t.Run("OwnEntry", func(t *testing.T) {
		rec := f.request(t, http.MethodGet, "/api/v1/dispatch/"+requestID, alice.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		data := decodeBody(t, rec)["data"].(map[string]any)
		assert.Equal(t, "9876543210", data["target"])
	})

	t.Run("ForeignEntryHidden", func(t *testing.T) {
		rec := f.request(t, http.MethodGet, "/api/v1/dispatch/"+requestID, bob.ID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("MasterSeesAll", func(t *testing.T) {
		rec := f.request(t, http.MethodGet, "/api/v1/dispatch/"+requestID, testMasterKey, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("UnknownID", func(t *testing.T) {
		rec := f.request(t, http.MethodGet, "/api/v1/dispatch/ffffffffffffffff", alice.ID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestMasterEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	standard, err := f.store.Create(ctx, "standard", 10)
	require.NoError(t, err)

	t.Run("CreateKeyRequiresMaster", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/v1/keys", standard.ID,
			map[string]any{"owner": "eve", "limit": 100})
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "unauthorized", decodeBody(t, rec)["code"])
	})

	t.Run("CreateKeyAndUseIt", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/v1/keys", testMasterKey,
			map[string]any{"owner": "carol", "limit": 50})
		require.Equal(t, http.StatusCreated, rec.Code)

		body := decodeBody(t, rec)
		newKey := body["key"].(string)
		assert.Equal(t, "carol", body["owner"])
		assert.Equal(t, float64(50), body["limit"])

		rec = f.request(t, http.MethodPost, "/api/v1/dispatch", newKey,
			map[string]any{"target": "9876543210"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("RevokeKey", func(t *testing.T) {
		victim, err := f.store.Create(ctx, "victim", 10)
		require.NoError(t, err)

		rec := f.request(t, http.MethodDelete, "/api/v1/keys/"+victim.ID, testMasterKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.request(t, http.MethodPost, "/api/v1/dispatch", victim.ID,
			map[string]any{"target": "9876543210"})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "deactivated_credential", decodeBody(t, rec)["code"])
	})

	t.Run("IssueTokenAndUseIt", func(t *testing.T) {
		rec := f.request(t, http.MethodPost, "/api/v1/tokens", testMasterKey,
			map[string]any{"owner": "dave", "limit": 200, "expiresIn": 3600})
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		token := body["token"].(string)
		require.NotEmpty(t, token)
		assert.Equal(t, float64(3600), body["expiresIn"])

		rec = f.request(t, http.MethodPost, "/api/v1/dispatch", token,
			map[string]any{"target": "9876543210"})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cred, err := f.store.Create(ctx, "alice", 10)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		rec := f.request(t, http.MethodPost, "/api/v1/dispatch", cred.ID,
			map[string]any{"target": "9876543210"})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	t.Run("OwnUsage", func(t *testing.T) {
		rec := f.request(t, http.MethodGet, "/api/v1/stats", cred.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		stats := decodeBody(t, rec)["stats"].(map[string]any)
		yourKey := stats["yourKey"].(map[string]any)
		assert.Equal(t, "alice", yourKey["owner"])
		assert.Equal(t, float64(2), yourKey["requests"])
		assert.Equal(t, float64(8), yourKey["remaining"])

		recent := stats["recentDispatches"].([]any)
		assert.Len(t, recent, 2)
		assert.NotContains(t, stats, "system")
	})

	t.Run("StatsDoNotConsumeQuota", func(t *testing.T) {
		before, err := f.store.Get(ctx, cred.ID)
		require.NoError(t, err)

		rec := f.request(t, http.MethodGet, "/api/v1/stats", cred.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		after, err := f.store.Get(ctx, cred.ID)
		require.NoError(t, err)
		assert.Equal(t, before.RequestCount, after.RequestCount)
	})

	t.Run("MasterGetsSystemTotals", func(t *testing.T) {
		rec := f.request(t, http.MethodGet, "/api/v1/stats", testMasterKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		stats := body["stats"].(map[string]any)
		system := stats["system"].(map[string]any)
		assert.GreaterOrEqual(t, system["totalKeys"].(float64), float64(2))
		assert.Equal(t, float64(2), system["totalRequests"])
		assert.Equal(t, "You have master credential privileges", body["note"])
	})
}

func TestExtractCredential(t *testing.T) {
	t.Run("ApiKeyHeaderWins", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Api-Key", "from-api-key")
		req.Header.Set("Authorization", "Bearer from-bearer")
		assert.Equal(t, "from-api-key", handlers.ExtractCredential(req))
	})

	t.Run("BearerFallback", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer from-bearer")
		assert.Equal(t, "from-bearer", handlers.ExtractCredential(req))
	})

	t.Run("NonePresent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		assert.Equal(t, "", handlers.ExtractCredential(req))
	})
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:    "forwarded-for first entry",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"},
			remote:  "192.0.2.1:1234",
			want:    "203.0.113.5",
		},
		{
			name:    "real-ip fallback",
			headers: map[string]string{"X-Real-Ip": "203.0.113.9"},
			remote:  "192.0.2.1:1234",
			want:    "203.0.113.9",
		},
		{
			name:   "remote addr fallback",
			remote: "192.0.2.1:1234",
			want:   "192.0.2.1",
		},
		{
			name:    "ipv6 mapped prefix stripped",
			headers: map[string]string{"X-Real-Ip": "::ffff:203.0.113.7"},
			remote:  "192.0.2.1:1234",
			want:    "203.0.113.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, handlers.ClientIP(req))
		})
	}
}
