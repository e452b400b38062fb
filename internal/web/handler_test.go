package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/videorelay/internal/database"
	"github.com/blockedby/videorelay/internal/repository"
	"github.com/blockedby/videorelay/internal/scheduler"
	"github.com/blockedby/videorelay/internal/stats"
	"github.com/blockedby/videorelay/internal/telegram"
)

type fakeProcessor struct {
	running bool
}

func (f *fakeProcessor) Start()        { f.running = true }
func (f *fakeProcessor) Stop()         { f.running = false }
func (f *fakeProcessor) Running() bool { return f.running }

type fakeQueue struct {
	active int
	queued int
}

func (f *fakeQueue) ActiveCount() int { return f.active }
func (f *fakeQueue) QueueDepth() int  { return f.queued }
func (f *fakeQueue) CountsByPlatform() map[string]scheduler.PlatformCounts {
	return map[string]scheduler.PlatformCounts{
		"youtube": {Active: f.active, Queued: f.queued},
	}
}

type fakeTelegram struct {
	status  telegram.Status
	dialogs []telegram.Chat
}

func (f *fakeTelegram) GetStatus() telegram.Status { return f.status }
func (f *fakeTelegram) Dialogs(_ context.Context, _ int) ([]telegram.Chat, error) {
	return f.dialogs, nil
}

type env struct {
	router    http.Handler
	processor *fakeProcessor
	ledger    *stats.Ledger
	repo      *repository.Repository
}

func newEnv(t *testing.T) *env {
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	repo, err := repository.New(db)
	require.NoError(t, err)

	e := &env{
		processor: &fakeProcessor{},
		ledger:    stats.NewLedger(),
		repo:      repo,
	}
	handler := NewHandler(e.processor, &fakeQueue{active: 2, queued: 7}, e.ledger, repo,
		&fakeTelegram{status: telegram.StatusReady, dialogs: []telegram.Chat{{ID: 1, Title: "alice"}}})
	e.router = NewRouter(handler, nil)
	return e
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestProcessingToggle(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/processing/start", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, e.processor.running)

	rec = e.do(t, http.MethodGet, "/api/v1/processing/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, true, status["running"])
	assert.Equal(t, float64(2), status["active"])
	assert.Equal(t, float64(7), status["queued"])
	assert.Equal(t, "READY", status["telegram"])

	rec = e.do(t, http.MethodPost, "/api/v1/processing/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, e.processor.running)
}

func TestStatsEndpoint(t *testing.T) {
	e := newEnv(t)
	e.ledger.AddProcessed(10)
	e.ledger.AddError(10)

	rec := e.do(t, http.MethodGet, "/api/v1/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Totals stats.Entry           `json:"totals"`
		Chats  map[int64]stats.Entry `json:"chats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, stats.Entry{Processed: 1, Errors: 1}, body.Totals)
	assert.Equal(t, stats.Entry{Processed: 1, Errors: 1}, body.Chats[10])
}

func TestChatsCRUD(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/chats", `{"chat_id": 10, "title": "friends", "kind": "group"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/chats/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "friends")

	rec = e.do(t, http.MethodPost, "/api/v1/chats", `{"title": "no id"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodDelete, "/api/v1/chats/10", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	selected, err := e.repo.IsSelected(10)
	require.NoError(t, err)
	assert.False(t, selected)
}

func TestAvailableChats(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/v1/chats/available", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alice")
}

func TestParticipantsRoundTrip(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPut, "/api/v1/chats/10/participants",
		`{"participants": [{"user_id": 1, "username": "alice"}, {"user_id": 2, "username": "bob"}]}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/chats/10/participants", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alice")
	assert.Contains(t, rec.Body.String(), "bob")

	// replacing with an empty roster clears the chat
	rec = e.do(t, http.MethodPut, "/api/v1/chats/10/participants", `{"participants": []}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rows, err := e.repo.Participants(10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPlatformToggle(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPut, "/api/v1/platforms/youtube", `{"enabled": true}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPut, "/api/v1/platforms/myspace", `{"enabled": true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/platforms/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var flags map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flags))
	assert.True(t, flags["youtube"])
	assert.False(t, flags["tiktok"])
}

func TestResponsesCRUD(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/responses", `{"text": "brb"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]uint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = e.do(t, http.MethodPost, "/api/v1/responses", `{"text": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/responses/", "")
	assert.Contains(t, rec.Body.String(), "brb")

	rec = e.do(t, http.MethodDelete, "/api/v1/responses/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOnlySelfSetting(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/settings/only-self", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "false")

	rec = e.do(t, http.MethodPut, "/api/v1/settings/only-self", `{"enabled": true}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	only, err := e.repo.OnlySelf()
	require.NoError(t, err)
	assert.True(t, only)
}
