package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/archive"
	"github.com/dmitrijs2005/chatkeeper/internal/server/cachestore"
	"github.com/dmitrijs2005/chatkeeper/internal/server/delivery"
	"github.com/dmitrijs2005/chatkeeper/internal/server/entitycache"
	"github.com/dmitrijs2005/chatkeeper/internal/server/jobs"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/memrepo"
	"github.com/dmitrijs2005/chatkeeper/internal/server/services"
	"github.com/dmitrijs2005/chatkeeper/internal/server/signature"
	"github.com/dmitrijs2005/chatkeeper/internal/server/syncengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const signingKey = "current"

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, jobs.Job, time.Duration) (string, error) {
	return "msg", nil
}

type recordingArchive struct {
	mu      sync.Mutex
	records []archive.Record
}

func (a *recordingArchive) Put(_ context.Context, r archive.Record) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, r)
	return "failed-jobs/" + r.ID + ".json", nil
}

func (a *recordingArchive) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

type fixture struct {
	repos   *memrepo.Manager
	archive *recordingArchive
	mock    sqlmock.Sqlmock
	handler http.Handler
}

func newFixture(t *testing.T, apiToken string, checks map[string]HealthCheck) *fixture {
	t.Helper()
	log := logging.NewNopLogger()

	mr := miniredis.RunT(t)
	store, err := cachestore.NewRedisStoreFromURL("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repos := memrepo.New()
	arc := &recordingArchive{}
	engine := syncengine.NewEngine(db, repos, arc, 2, log)
	receiver := delivery.NewReceiver(signature.NewVerifier(signingKey, ""), engine, log)

	d := nopDispatcher{}
	accounts := services.NewAccountService(db, repos, entitycache.NewAccounts(store, d), nil, log)
	personas := services.NewPersonaService(db, repos, entitycache.NewPersonas(store, d), accounts, log)
	conversations := services.NewConversationService(db, repos, entitycache.NewConversations(store, d), accounts, personas, log)
	messages := services.NewMessageService(db, repos, entitycache.NewMessages(store, d), conversations, log)

	srv := NewServer(":0", apiToken, log, receiver, Services{
		Accounts:      accounts,
		Personas:      personas,
		Conversations: conversations,
		Messages:      messages,
	}, checks)
	return &fixture{repos: repos, archive: arc, mock: mock, handler: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func sign(t *testing.T, body []byte) map[string]string {
	t.Helper()
	tok, err := signature.NewSigner(signingKey).Sign("http://localhost"+common.SyncPath, body)
	require.NoError(t, err)
	return map[string]string{common.SignatureHeaderName: tok}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func createJob(t *testing.T, id string) []byte {
	t.Helper()
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	body, err := jobs.Encode(jobs.NewCreate(jobs.TableAccounts, &models.Account{
		Base:       models.Base{ID: id, CreatedAt: at, UpdatedAt: at},
		ExternalID: "ext-" + id,
		Email:      id + "@example.com",
		Username:   id,
	}, at))
	require.NoError(t, err)
	return body
}

func TestSync(t *testing.T) {
	f := newFixture(t, "", nil)
	body := createJob(t, "a1")

	rec := f.do(t, http.MethodPost, common.SyncPath, body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, common.SyncPath, body, map[string]string{common.SignatureHeaderName: "bogus"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, f.repos.AccountRows.Len())

	rec = f.do(t, http.MethodPost, common.SyncPath, body, sign(t, body))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[syncResponse](t, rec)
	assert.Equal(t, "a1", resp.JobID)
	assert.Equal(t, syncengine.OutcomeApplied, resp.Outcome)

	rec = f.do(t, http.MethodPost, common.SyncPath, body, sign(t, body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, syncengine.OutcomeDuplicate, decode[syncResponse](t, rec).Outcome)
	assert.Equal(t, 1, f.repos.AccountRows.Len())
}

func TestSync_Failures(t *testing.T) {
	t.Run("malformed", func(t *testing.T) {
		f := newFixture(t, "", nil)
		body := []byte(`{"operation":`)
		rec := f.do(t, http.MethodPost, common.SyncPath, body, sign(t, body))
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[syncResponse](t, rec)
		assert.Equal(t, syncengine.OutcomeRejected, resp.Outcome)
		assert.Contains(t, resp.Error, "malformed envelope")
		assert.Equal(t, 1, f.archive.len())
	})

	t.Run("unknown table is rejected", func(t *testing.T) {
		f := newFixture(t, "", nil)
		body := []byte(`{"operation":"create","table":"users","id":"u1","data":{},"timestamp":0}`)
		rec := f.do(t, http.MethodPost, common.SyncPath, body, sign(t, body))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, syncengine.OutcomeRejected, decode[syncResponse](t, rec).Outcome)
	})

	t.Run("not found is dropped", func(t *testing.T) {
		f := newFixture(t, "", nil)
		name := "x"
		body, err := jobs.Encode(jobs.NewUpdate(jobs.TablePersonas, "p404", &models.PersonaPatch{Name: &name}, time.Now()))
		require.NoError(t, err)

		rec := f.do(t, http.MethodPost, common.SyncPath, body, sign(t, body))
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[syncResponse](t, rec)
		assert.Equal(t, syncengine.OutcomeNotFound, resp.Outcome)
		assert.NotEmpty(t, resp.Error)
	})

	t.Run("transient asks for redelivery", func(t *testing.T) {
		f := newFixture(t, "", nil)
		f.repos.AccountRows.Err = errors.New("db error: connection refused")
		body := createJob(t, "a1")

		rec := f.do(t, http.MethodPost, common.SyncPath, body, sign(t, body))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestBatchSync(t *testing.T) {
	f := newFixture(t, "", nil)
	body := []byte("[" + string(createJob(t, "a1")) + "," + string(createJob(t, "a2")) +
		`,{"operation":"create","table":"users","id":"u","timestamp":0}]`)

	rec := f.do(t, http.MethodPost, common.BatchSyncPath, body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, common.BatchSyncPath, body, sign(t, body))
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[syncengine.BatchResult](t, rec)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)

	notArray := []byte(`{}`)
	rec = f.do(t, http.MethodPost, common.BatchSyncPath, notArray, sign(t, notArray))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, syncengine.OutcomeRejected, decode[syncResponse](t, rec).Outcome)
	assert.Equal(t, 2, f.archive.len())
}

func TestHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	f := newFixture(t, "secret", map[string]HealthCheck{"cache": ok})
	rec := f.do(t, http.MethodGet, common.HealthPath, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])

	f = newFixture(t, "", map[string]HealthCheck{"cache": ok, "database": down})
	rec = f.do(t, http.MethodGet, common.HealthPath, nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "connection refused", body["checks"].(map[string]any)["database"])
}

func TestAuthMiddleware(t *testing.T) {
	f := newFixture(t, "secret", nil)

	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"scheme", map[string]string{"Authorization": "Basic secret"}, http.StatusUnauthorized},
		{"wrong", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"ok", map[string]string{"Authorization": "Bearer secret"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/api/v1/accounts/nobody", nil, tt.header)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAccountRoutes(t *testing.T) {
	f := newFixture(t, "", nil)

	rec := f.do(t, http.MethodPost, "/api/v1/accounts",
		[]byte(`{"externalId":"fb-1","email":"a@example.com","username":"alice"}`), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	a := decode[models.Account](t, rec)
	assert.NotEmpty(t, a.ID)

	rec = f.do(t, http.MethodPost, "/api/v1/accounts",
		[]byte(`{"externalId":"fb-2","email":"a@example.com","username":"other"}`), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/accounts", []byte(`{"nope":1}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/accounts/by/email/a@example.com", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, a.ID, decode[models.Account](t, rec).ID)

	rec = f.do(t, http.MethodGet, "/api/v1/accounts/by/phone/1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, "/api/v1/accounts/"+a.ID, []byte(`{"displayName":"Alice"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[services.UpdateResult](t, rec)
	assert.Equal(t, "Alice", *res.Account.DisplayName)
	assert.Empty(t, res.Warnings)

	rec = f.do(t, http.MethodPatch, "/api/v1/accounts/"+a.ID, []byte(`{"clear":["displayName"]}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[services.UpdateResult](t, rec).Account.DisplayName)

	rec = f.do(t, http.MethodPatch, "/api/v1/accounts/"+a.ID, []byte(`{"clear":["username"]}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/accounts/"+a.ID+"/invalidate", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/accounts/"+a.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationRoutes(t *testing.T) {
	f := newFixture(t, "", nil)

	rec := f.do(t, http.MethodPost, "/api/v1/accounts",
		[]byte(`{"externalId":"fb-1","email":"a@example.com","username":"alice"}`), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	a := decode[models.Account](t, rec)

	rec = f.do(t, http.MethodPost, "/api/v1/personas",
		[]byte(`{"accountId":"`+a.ID+`","name":"Bot","systemPrompt":"be brief"}`), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	p := decode[models.Persona](t, rec)

	rec = f.do(t, http.MethodPost, "/api/v1/conversations",
		[]byte(`{"accountId":"`+a.ID+`","personaId":"`+p.ID+`"}`), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	c := decode[models.Conversation](t, rec)

	rec = f.do(t, http.MethodPost, "/api/v1/conversations/"+c.ID+"/messages",
		[]byte(`{"role":"user","content":"hello"}`), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	m := decode[models.Message](t, rec)
	assert.Equal(t, c.ID, m.ConversationID)

	rec = f.do(t, http.MethodPost, "/api/v1/conversations/"+c.ID+"/messages",
		[]byte(`{"role":"robot","content":"x"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/conversations/"+c.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[models.Conversation](t, rec).MessageCount)

	rec = f.do(t, http.MethodPatch, "/api/v1/messages/"+m.ID, []byte(`{"content":"hello!"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello!", decode[models.Message](t, rec).Content)

	rec = f.do(t, http.MethodDelete, "/api/v1/messages/"+m.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/messages/"+m.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPatch, "/api/v1/personas/"+p.ID, []byte(`{"isPublic":true}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[models.Persona](t, rec).IsPublic)

	rec = f.do(t, http.MethodDelete, "/api/v1/conversations/"+c.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/v1/personas/"+p.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/v1/accounts/"+a.ID, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(common.ErrorValidation))
	assert.Equal(t, http.StatusNotFound, statusFor(common.ErrorNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(common.ErrorAlreadyExists))
	assert.Equal(t, http.StatusConflict, statusFor(common.ErrorConflict))
	assert.Equal(t, http.StatusUnauthorized, statusFor(common.ErrorUnauthorized))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
	assert.True(t, strings.HasPrefix(common.SyncPath, common.InternalPrefix))
}
