package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/go-jose/go-jose/v4"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voiceplane/pkg/config"
	"voiceplane/pkg/health"
	"voiceplane/pkg/livekit"
	"voiceplane/pkg/server"
	"voiceplane/services/auth"
	"voiceplane/services/ephemeralkey"
	"voiceplane/services/room"
	"voiceplane/services/testutil"
)

const testSessionSecret = "0123456789abcdef0123456789abcdef"

func init() {
	gin.SetMode(gin.TestMode)
	zap.ReplaceGlobals(zap.NewNop())
}

type nopEnqueuer struct{}

func (nopEnqueuer) Enqueue(t *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	return &asynq.TaskInfo{}, nil
}

type testEnv struct {
	engine *gin.Engine
	keys   *ephemeralkey.Service
	rooms  *room.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewTestDB(t, &ephemeralkey.EphemeralKey{}, &room.Room{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Session.Secret = testSessionSecret
	cfg.Session.CookieName = "session"
	cfg.EphemeralKeys.CreatePerMinute = 30
	cfg.Rooms.TTL = 4 * time.Hour

	keys := ephemeralkey.NewService(ephemeralkey.ServiceParams{DB: db, Node: node})
	rooms := room.NewService(room.ServiceParams{
		Cfg:      cfg,
		DB:       db,
		Node:     node,
		Tokens:   livekit.NewTokenBuilder("lk-key", "lk-secret"),
		Enqueuer: nopEnqueuer{},
	})

	resolver := auth.NewResolver(auth.ResolverParams{
		Sessions: auth.NewJWSProvider(cfg),
		Keys:     keys,
	})

	engine := server.NewRouter(cfg)
	RegisterRoutes(RouterParams{
		Cfg:    cfg,
		Engine: engine,
		Health: health.ProvideHealth(health.HealthParams{}),
		// Unreachable redis: the limiter fails open, which keeps these
		// tests independent of a running instance.
		Redis:    redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}),
		Resolver: resolver,
		Keys:     keys,
		Rooms:    rooms,
	})

	return &testEnv{engine: engine, keys: keys, rooms: rooms}
}

func (e *testEnv) sessionToken(t *testing.T, userID string) string {
	t.Helper()

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.HS256,
		Key:       []byte(testSessionSecret),
	}, nil)
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]any{
		"sub": userID,
		"sid": "sess-" + userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	sig, err := signer.Sign(payload)
	require.NoError(t, err)
	token, err := sig.CompactSerialize()
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCreateKeyRequiresSession(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/ephemeral-keys", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	body := decode(t, w)
	require.Contains(t, body, "error")
}

func TestCreateKeyReturnsSecretOnce(t *testing.T) {
	env := newTestEnv(t)
	token := env.sessionToken(t, "user-1")

	w := env.do(t, http.MethodPost, "/ephemeral-keys", token, map[string]any{
		"name":       "browser voice session",
		"scopes":     []string{"voice:connect", "voice:speak"},
		"ttlSeconds": 600,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	body := decode(t, w)
	secret, _ := body["key"].(string)
	require.True(t, strings.HasPrefix(secret, ephemeralkey.SecretPrefix))
	require.NotEmpty(t, body["id"])
	require.NotEmpty(t, body["expiresAt"])
	require.Len(t, body["scopes"], 2)

	// The listing is a bare array and never echoes the secret or its digest.
	w = env.do(t, http.MethodGet, "/ephemeral-keys", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), secret)
	require.NotContains(t, w.Body.String(), "keyHash")
	require.NotContains(t, w.Body.String(), "key_hash")

	var listed []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 1)

	item := listed[0]
	require.Equal(t, body["id"], item["id"])
	for _, field := range []string{"name", "scopes", "expiresAt", "usageCount", "createdAt"} {
		require.Contains(t, item, field)
	}
	require.NotContains(t, item, "key")
}

func TestCreateKeyDefaultsAndClampsTTL(t *testing.T) {
	env := newTestEnv(t)
	token := env.sessionToken(t, "user-1")

	before := time.Now()
	w := env.do(t, http.MethodPost, "/ephemeral-keys", token, map[string]any{
		"ttlSeconds": 999999,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	body := decode(t, w)
	expiresAt, err := time.Parse(time.RFC3339Nano, body["expiresAt"].(string))
	require.NoError(t, err)
	require.WithinDuration(t, before.Add(maxKeyTTLSeconds*time.Second), expiresAt, time.Minute)

	// No ttl in the request falls back to an hour.
	w = env.do(t, http.MethodPost, "/ephemeral-keys", token, map[string]any{})
	require.Equal(t, http.StatusCreated, w.Code)
	body = decode(t, w)
	expiresAt, err = time.Parse(time.RFC3339Nano, body["expiresAt"].(string))
	require.NoError(t, err)
	require.WithinDuration(t, before.Add(defaultKeyTTLSeconds*time.Second), expiresAt, time.Minute)
}

func TestCreateKeyRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	token := env.sessionToken(t, "user-1")

	w := env.do(t, http.MethodPost, "/ephemeral-keys", token, map[string]any{
		"scopes": []string{"root:everything"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/ephemeral-keys", token, map[string]any{
		"ttlSeconds": -5,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/ephemeral-keys", token, map[string]any{
		"maxUsage": 0,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestKeyManagementRejectsEphemeralCredential(t *testing.T) {
	env := newTestEnv(t)
	token := env.sessionToken(t, "user-1")

	w := env.do(t, http.MethodPost, "/ephemeral-keys", token, map[string]any{
		"scopes": []string{"*"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	secret := decode(t, w)["key"].(string)

	// Even a wildcard key cannot mint or list keys.
	w = env.do(t, http.MethodPost, "/ephemeral-keys", secret, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/ephemeral-keys", secret, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRevokeKeyFlows(t *testing.T) {
	env := newTestEnv(t)
	owner := env.sessionToken(t, "user-1")
	other := env.sessionToken(t, "user-2")

	w := env.do(t, http.MethodPost, "/ephemeral-keys", owner, map[string]any{})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["id"].(string)

	w = env.do(t, http.MethodDelete, "/ephemeral-keys/unknown-id", owner, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodDelete, "/ephemeral-keys/"+id, other, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodDelete, "/ephemeral-keys/"+id, owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decode(t, w)["success"])

	w = env.do(t, http.MethodDelete, "/ephemeral-keys/"+id, owner, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoomLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	token := env.sessionToken(t, "user-1")

	w := env.do(t, http.MethodPost, "/rooms", token, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode(t, w)
	roomID := created["id"].(string)
	require.True(t, strings.HasPrefix(created["name"].(string), "room-"))

	w = env.do(t, http.MethodGet, "/rooms", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), roomID)

	w = env.do(t, http.MethodPost, "/rooms/"+roomID+"/token", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, decode(t, w)["token"])

	w = env.do(t, http.MethodDelete, "/rooms/"+roomID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/rooms/"+roomID+"/token", token, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoomJoinWithEphemeralKey(t *testing.T) {
	env := newTestEnv(t)
	session := env.sessionToken(t, "user-1")

	w := env.do(t, http.MethodPost, "/rooms", session, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	roomID := decode(t, w)["id"].(string)

	w = env.do(t, http.MethodPost, "/ephemeral-keys", session, map[string]any{
		"scopes": []string{"voice:connect"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	secret := decode(t, w)["key"].(string)

	w = env.do(t, http.MethodPost, "/rooms/"+roomID+"/token", secret, nil)
	require.Equal(t, http.StatusOK, w.Code)

	joinToken := decode(t, w)["token"].(string)
	require.NotContains(t, joinToken, secret)
}

func TestRoomAccessNeedsVoiceConnectScope(t *testing.T) {
	env := newTestEnv(t)
	session := env.sessionToken(t, "user-1")

	w := env.do(t, http.MethodPost, "/ephemeral-keys", session, map[string]any{
		"scopes": []string{"memory:read"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	secret := decode(t, w)["key"].(string)

	w = env.do(t, http.MethodGet, "/rooms", secret, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestRoomOwnershipEnforced(t *testing.T) {
	env := newTestEnv(t)
	owner := env.sessionToken(t, "user-1")
	other := env.sessionToken(t, "user-2")

	w := env.do(t, http.MethodPost, "/rooms", owner, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	roomID := decode(t, w)["id"].(string)

	w = env.do(t, http.MethodPost, "/rooms/"+roomID+"/token", other, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodDelete, "/rooms/"+roomID, other, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}
