package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/cachestore"
	"github.com/dmitrijs2005/chatkeeper/internal/server/entitycache"
	"github.com/dmitrijs2005/chatkeeper/internal/server/jobs"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/memrepo"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []jobs.Job
}

func (f *fakeDispatcher) Dispatch(_ context.Context, job jobs.Job, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return "msg", nil
}

func (f *fakeDispatcher) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.jobs))
	for i, j := range f.jobs {
		out[i] = string(j.Table) + ":" + string(j.Operation)
	}
	return out
}

type fakeIdentity struct {
	updateErr error
	deleteErr error
	deleted   []string
}

func (f *fakeIdentity) UpdateProfile(context.Context, string, *models.AccountPatch) error {
	return f.updateErr
}

func (f *fakeIdentity) DeleteUser(_ context.Context, externalID string) error {
	f.deleted = append(f.deleted, externalID)
	return f.deleteErr
}

type fixture struct {
	repos         *memrepo.Manager
	d             *fakeDispatcher
	idp           *fakeIdentity
	accounts      *AccountService
	personas      *PersonaService
	conversations *ConversationService
	messages      *MessageService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := cachestore.NewRedisStoreFromURL("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	log := logging.NewNopLogger()
	f := &fixture{repos: memrepo.New(), d: &fakeDispatcher{}, idp: &fakeIdentity{}}
	f.accounts = NewAccountService(nil, f.repos, entitycache.NewAccounts(store, f.d), f.idp, log)
	f.personas = NewPersonaService(nil, f.repos, entitycache.NewPersonas(store, f.d), f.accounts, log)
	f.conversations = NewConversationService(nil, f.repos, entitycache.NewConversations(store, f.d), f.accounts, f.personas, log)
	f.messages = NewMessageService(nil, f.repos, entitycache.NewMessages(store, f.d), f.conversations, log)
	return f
}

func (f *fixture) register(t *testing.T, name string) *models.Account {
	t.Helper()
	a, err := f.accounts.Register(context.Background(), RegisterInput{
		ExternalID: "ext-" + name,
		Email:      name + "@example.com",
		Username:   name,
	})
	require.NoError(t, err)
	return a
}

func stored(id string) *models.Account {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return &models.Account{
		Base:       models.Base{ID: id, CreatedAt: at, UpdatedAt: at},
		ExternalID: "ext-" + id,
		Email:      id + "@example.com",
		Username:   id,
	}
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	a := f.register(t, "alice")

	parsed, err := uuid.Parse(a.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.False(t, a.CreatedAt.IsZero())
	assert.Equal(t, []string{"accounts:create"}, f.d.ops())

	got, err := f.accounts.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
}

func TestRegister_Taken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "alice")
	require.NoError(t, f.repos.AccountRows.Insert(ctx, stored("bob")))

	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"email in cache", RegisterInput{ExternalID: "x1", Email: "alice@example.com", Username: "new1"}},
		{"username in store", RegisterInput{ExternalID: "x2", Email: "new2@example.com", Username: "bob"}},
		{"external id in cache", RegisterInput{ExternalID: "ext-alice", Email: "new3@example.com", Username: "new3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.accounts.Register(ctx, tt.in)
			require.ErrorIs(t, err, common.ErrorAlreadyExists)
		})
	}
	assert.Len(t, f.d.ops(), 1)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.accounts.Register(context.Background(), RegisterInput{Email: "a@example.com"})
	require.ErrorIs(t, err, common.ErrorValidation)
	assert.Empty(t, f.d.ops())
}

func TestGet_ReadThrough(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.repos.AccountRows.Insert(ctx, stored("carol")))

	a, err := f.accounts.GetByEmail(ctx, "carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, "carol", a.ID)

	// cached now: the store is no longer consulted
	f.repos.AccountRows.Err = errors.New("store down")
	a, err = f.accounts.Get(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, "carol", a.Username)
	assert.Empty(t, f.d.ops())
}

func TestGet_Missing(t *testing.T) {
	f := newFixture(t)
	_, err := f.accounts.Get(context.Background(), "nobody")
	require.ErrorIs(t, err, common.ErrorNotFound)

	_, err = f.accounts.GetBy(context.Background(), "phone", "1")
	require.ErrorIs(t, err, common.ErrorValidation)
}

func TestUpdateProfile_IdentityFailureIsWarning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.register(t, "alice")
	f.idp.updateErr = errors.New("provider unavailable")

	name := "Alice"
	res, err := f.accounts.UpdateProfile(ctx, a.ID, &models.AccountPatch{DisplayName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Alice", *res.Account.DisplayName)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "provider unavailable")
	assert.Equal(t, []string{"accounts:create", "accounts:update"}, f.d.ops())
}

func TestUpdateProfile_ClearsBio(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.register(t, "alice")

	bio := "hi"
	_, err := f.accounts.UpdateProfile(ctx, a.ID, &models.AccountPatch{Bio: &bio})
	require.NoError(t, err)

	res, err := f.accounts.UpdateProfile(ctx, a.ID, &models.AccountPatch{Clear: models.Clear{models.FieldBio}})
	require.NoError(t, err)
	assert.Nil(t, res.Account.Bio)

	got, err := f.accounts.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Bio)

	_, err = f.accounts.UpdateProfile(ctx, a.ID, &models.AccountPatch{Clear: models.Clear{"email"}})
	require.ErrorIs(t, err, common.ErrorValidation)
	assert.Equal(t, []string{"accounts:create", "accounts:update", "accounts:update"}, f.d.ops())

	last := f.d.jobs[len(f.d.jobs)-1]
	assert.Equal(t, models.Clear{models.FieldBio}, last.Data.(*models.AccountPatch).Clear)
}

func TestUpdateProfile_EmailTaken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.register(t, "alice")
	f.register(t, "bob")

	email := "bob@example.com"
	_, err := f.accounts.UpdateProfile(ctx, a.ID, &models.AccountPatch{Email: &email})
	require.ErrorIs(t, err, common.ErrorAlreadyExists)

	own := "alice@example.com"
	_, err = f.accounts.UpdateProfile(ctx, a.ID, &models.AccountPatch{Email: &own})
	require.NoError(t, err)
}

func TestUpdateProfile_CacheMissFillsFromStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.repos.AccountRows.Insert(ctx, stored("dave")))

	bio := "hi"
	res, err := f.accounts.UpdateProfile(ctx, "dave", &models.AccountPatch{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "hi", *res.Account.Bio)
	assert.True(t, res.Account.UpdatedAt.After(stored("dave").UpdatedAt))
	assert.Equal(t, []string{"accounts:update"}, f.d.ops())
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.register(t, "alice")
	f.idp.deleteErr = errors.New("provider unavailable")

	res, err := f.accounts.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, res.Warnings, 1)
	assert.Equal(t, []string{"ext-alice"}, f.idp.deleted)
	assert.Equal(t, []string{"accounts:create", "accounts:delete"}, f.d.ops())

	_, err = f.accounts.Delete(ctx, a.ID)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDeleteAccount_PendingDeleteNotReloaded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.repos.AccountRows.Insert(ctx, stored("erin")))

	_, err := f.accounts.Get(ctx, "erin")
	require.NoError(t, err)
	_, err = f.accounts.Delete(ctx, "erin")
	require.NoError(t, err)

	// the row stays live until the delete job is applied
	require.Equal(t, 1, f.repos.AccountRows.Len())

	_, err = f.accounts.Get(ctx, "erin")
	require.ErrorIs(t, err, common.ErrorNotFound)
	_, err = f.accounts.GetByEmail(ctx, "erin@example.com")
	require.ErrorIs(t, err, common.ErrorNotFound)
	_, err = f.accounts.UpdateProfile(ctx, "erin", &models.AccountPatch{})
	require.ErrorIs(t, err, common.ErrorNotFound)
	_, err = f.accounts.Delete(ctx, "erin")
	require.ErrorIs(t, err, common.ErrorNotFound)

	assert.Equal(t, []string{"accounts:delete"}, f.d.ops())
}

func TestPersonaDelete_PendingDeleteNotReloaded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.register(t, "alice")
	p, err := f.personas.Create(ctx, &models.Persona{AccountID: owner.ID, Name: "Sage"})
	require.NoError(t, err)
	require.NoError(t, f.repos.PersonaRows.Insert(ctx, p))

	require.NoError(t, f.personas.Delete(ctx, p.ID))
	_, err = f.personas.Get(ctx, p.ID)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.register(t, "alice")

	require.NoError(t, f.accounts.Invalidate(ctx, a.ID))
	_, err := f.accounts.Get(ctx, a.ID)
	require.ErrorIs(t, err, common.ErrorNotFound)
	assert.Len(t, f.d.ops(), 1)
}

func TestPersonaLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.register(t, "alice")

	_, err := f.personas.Create(ctx, &models.Persona{AccountID: "nobody", Name: "Bot"})
	require.ErrorIs(t, err, common.ErrorValidation)

	_, err = f.personas.Create(ctx, &models.Persona{AccountID: a.ID})
	require.ErrorIs(t, err, common.ErrorValidation)

	p, err := f.personas.Create(ctx, &models.Persona{AccountID: a.ID, Name: "Bot", SystemPrompt: "be nice"})
	require.NoError(t, err)

	public := true
	p, err = f.personas.Update(ctx, p.ID, &models.PersonaPatch{IsPublic: &public})
	require.NoError(t, err)
	assert.True(t, p.IsPublic)
	assert.Equal(t, "be nice", p.SystemPrompt)

	require.NoError(t, f.personas.Delete(ctx, p.ID))
	_, err = f.personas.Get(ctx, p.ID)
	require.ErrorIs(t, err, common.ErrorNotFound)

	assert.Equal(t, []string{
		"accounts:create", "personas:create", "personas:update", "personas:delete",
	}, f.d.ops())
}

func TestAppendMessage_BumpsConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.register(t, "alice")
	p, err := f.personas.Create(ctx, &models.Persona{AccountID: a.ID, Name: "Bot"})
	require.NoError(t, err)
	c, err := f.conversations.Create(ctx, &models.Conversation{AccountID: a.ID, PersonaID: p.ID, MessageCount: 9})
	require.NoError(t, err)
	assert.Equal(t, 0, c.MessageCount)

	m1, err := f.messages.Append(ctx, c.ID, &models.Message{Role: models.RoleUser, Content: "hello"})
	require.NoError(t, err)
	m2, err := f.messages.Create(ctx, &models.Message{ConversationID: c.ID, Role: models.RoleAssistant, Content: "hi"})
	require.NoError(t, err)

	c, err = f.conversations.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, c.MessageCount)
	assert.True(t, m2.CreatedAt.Equal(c.LastMessageAt))
	assert.Equal(t, c.ID, m1.ConversationID)

	_, err = f.messages.Append(ctx, c.ID, &models.Message{Role: "system", Content: "x"})
	require.ErrorIs(t, err, common.ErrorValidation)
	_, err = f.messages.Append(ctx, "nope", &models.Message{Role: models.RoleUser, Content: "x"})
	require.ErrorIs(t, err, common.ErrorValidation)
}

func TestConversationUpdate_CountersReadOnly(t *testing.T) {
	f := newFixture(t)
	n := 5
	_, err := f.conversations.Update(context.Background(), "c1", &models.ConversationPatch{MessageCount: &n})
	require.ErrorIs(t, err, common.ErrorValidation)
}

func TestMessageUpdateAndDelete_Missing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	content := "x"
	_, err := f.messages.Update(ctx, "m404", &models.MessagePatch{Content: &content})
	require.ErrorIs(t, err, common.ErrorNotFound)
	require.ErrorIs(t, f.messages.Delete(ctx, "m404"), common.ErrorNotFound)
	assert.Empty(t, f.d.ops())
}
