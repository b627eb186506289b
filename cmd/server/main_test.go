package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/imagechat/internal/config"
	"github.com/soaringjerry/imagechat/internal/services"
)

type staticBackend struct{}

func (staticBackend) GroupsStartingID() int { return 2 }

func (staticBackend) LoadChat(context.Context, services.LoadChatRequest) (*services.LoadChatResult, error) {
	return nil, nil
}

func (staticBackend) Chat(context.Context, services.ChatRequest) (*services.ChatResult, error) {
	panic("unexpected")
}

func TestHandlerHealthStaticAndHeaders(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>chat</h1>"), 0o644))
	h := newHandler(staticBackend{}, dir, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, true, health["ok"])
	require.Equal(t, "imagechat", health["name"])
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "chat")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	require.JSONEq(t, `{"GROUPS_STARTING_ID":2}`, rec.Body.String())
	require.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandlerRecoversFromPanics(t *testing.T) {
	h := newHandler(staticBackend{}, "", zerolog.Nop())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat",
		bytes.NewBufferString(`{"message":{"role":"user","content":"x"}}`)))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"Server error"}`, rec.Body.String())
}

func TestOpenStoreSeedsMockPool(t *testing.T) {
	mockDir := t.TempDir()
	for _, name := range []string{"1.png", "2.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(mockDir, name), []byte(name), 0o644))
	}
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "chat.db")
	cfg.Chat.MockDir = mockDir

	store, n, err := openStore(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, store.Close())

	// Reopening keeps the pool and does not reseed.
	store, n, err = openStore(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, store.Close())
}

func TestChatServiceUsesConfiguredPoolSize(t *testing.T) {
	mockDir := t.TempDir()
	for _, name := range []string{"1.png", "2.png", "3.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(mockDir, name), []byte(name), 0o644))
	}
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "chat.db")
	cfg.Chat.MockDir = mockDir
	cfg.Chat.MockDelay = "0"
	require.Equal(t, 5, cfg.Chat.MockPoolSize)

	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	store, n, err := openStore(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.Equal(t, 3, n)

	chat := newChatService(cfg, store, nil, n, logger)
	require.Contains(t, logs.String(), "mock pool image count differs from configured pool size")

	// Ordinals 4 and 5 were never seeded.
	res, err := chat.Chat(context.Background(), services.ChatRequest{
		Prompt:      "design a playground",
		Group:       "1",
		Member:      "A",
		SeenMockIDs: []int{1, 2, 3},
	})
	require.NoError(t, err)
	require.Equal(t, services.OutcomePoolExhausted, res.Outcome)
	require.Equal(t, services.PoolExhaustedMessage, res.Text)
}

func TestSeedCommand(t *testing.T) {
	mockDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(mockDir, "a.jpg"), []byte{1}, 0o644))
	dbPath := filepath.Join(t.TempDir(), "chat.db")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"seed", "--db", dbPath, "--mock-dir", mockDir})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "mock pool holds 1 images")
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")

	require.Equal(t, zerolog.InfoLevel, newLogger(config.LoggingConfig{Level: "bogus"}, &buf).GetLevel())
}
