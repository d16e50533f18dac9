package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wacampaign/internal/lock"
	"wacampaign/internal/models"
	"wacampaign/internal/provider"
)

type sessionFixture struct {
	store *memStore
	a     *MockProvider
	c     *MockDiscoverer
	svc   *SessionService
	now   time.Time
}

func newSessionFixture() *sessionFixture {
	f := &sessionFixture{
		store: newMemStore(),
		a:     NewMockProvider(),
		c:     NewMockDiscoverer(),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	providers := provider.NewSet()
	providers.Register(models.ProviderA, f.a)
	providers.Register(models.ProviderC, f.c)

	syncer := NewSynchronizer(f.store.sessionRepo(), providers, lock.NewLocalLocker(), time.Minute)
	f.svc = NewSessionService(f.store.sessionRepo(), providers, syncer, 45*time.Second)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func TestSessionService_Create(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()

	session, err := f.svc.Create(ctx, 7, CreateSessionRequest{Slug: "Sales", Provider: models.ProviderA})
	require.NoError(t, err)
	assert.Equal(t, "t7_sales", session.Name)
	assert.Equal(t, "sales", session.DisplayName)
	assert.Equal(t, models.SessionStatusConnectingQR, session.Status)
	assert.Equal(t, 7, session.TenantID)

	_, err = f.svc.Create(ctx, 7, CreateSessionRequest{Slug: "sales", Provider: models.ProviderA})
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)

	cSession, err := f.svc.Create(ctx, 7, CreateSessionRequest{Slug: "support", Provider: models.ProviderC})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusStopped, cSession.Status)
}

func TestSessionService_CreateValidation(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateSessionRequest
	}{
		{"bad slug", CreateSessionRequest{Slug: "no spaces!", Provider: models.ProviderA}},
		{"unknown provider", CreateSessionRequest{Slug: "x", Provider: "z"}},
		{"provider not configured", CreateSessionRequest{Slug: "x", Provider: models.ProviderB}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, 1, tt.req)
			var validation *ValidationError
			assert.ErrorAs(t, err, &validation)
		})
	}
	assert.Equal(t, 0, f.a.calls("CreateSession"))
}

func TestSessionService_StartCachesQR(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, 1, CreateSessionRequest{Slug: "sales", Provider: models.ProviderA})
	require.NoError(t, err)

	session, err := f.svc.Start(ctx, 1, "t1_sales")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusConnectingQR, session.Status)
	require.NotNil(t, session.QR)
	assert.Contains(t, *session.QR, "data:image/png")
	assert.Equal(t, f.now.Add(45*time.Second), *session.QRExpiresAt)
}

func TestSessionService_StartWorkingFetchesIdentity(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, 1, CreateSessionRequest{Slug: "sales", Provider: models.ProviderA})
	require.NoError(t, err)
	f.a.StartFunc = func(ctx context.Context, ref provider.SessionRef) (provider.PairingResult, error) {
		return provider.PairingResult{Status: models.SessionStatusWorking}, nil
	}

	session, err := f.svc.Start(ctx, 1, "t1_sales")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusWorking, session.Status)
	require.NotNil(t, session.Identity)
	assert.Equal(t, "254700000000", session.Identity.RemoteID)

	_, err = f.svc.Start(ctx, 1, "t1_sales")
	var business *BusinessLogicError
	assert.ErrorAs(t, err, &business)
}

func TestSessionService_StartMintsProviderCCredential(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, 1, CreateSessionRequest{Slug: "support", Provider: models.ProviderC})
	require.NoError(t, err)

	var startedWith string
	f.c.StartFunc = func(ctx context.Context, ref provider.SessionRef) (provider.PairingResult, error) {
		startedWith = ref.Credential
		return provider.PairingResult{Status: models.SessionStatusConnectingQR, QR: []byte("png")}, nil
	}

	session, err := f.svc.Start(ctx, 1, "t1_support")
	require.NoError(t, err)
	assert.Equal(t, "minted-1", startedWith)
	assert.Equal(t, "minted-1", session.CredentialValue())
	assert.Equal(t, models.SessionStatusConnectingQR, session.Status)
}

func TestSessionService_SerializesProviderCPairing(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()

	for _, slug := range []string{"first", "second"} {
		_, err := f.svc.Create(ctx, 1, CreateSessionRequest{Slug: slug, Provider: models.ProviderC})
		require.NoError(t, err)
	}

	_, err := f.svc.Start(ctx, 1, "t1_first")
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, 1, "t1_second")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	// once the first code expires the slot is free again
	f.now = f.now.Add(time.Minute)
	_, err = f.svc.Start(ctx, 1, "t1_second")
	assert.NoError(t, err)
}

func TestSessionService_StopClearsPairingState(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, 1, CreateSessionRequest{Slug: "sales", Provider: models.ProviderA})
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, 1, "t1_sales")
	require.NoError(t, err)

	session, err := f.svc.Stop(ctx, 1, "t1_sales")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusStopped, session.Status)
	assert.Nil(t, session.QR)
	assert.Nil(t, session.QRExpiresAt)
	assert.Equal(t, 1, f.a.calls("StopSession"))
}

func TestSessionService_TenantIsolation(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()

	_, err := f.svc.Create(ctx, 1, CreateSessionRequest{Slug: "sales", Provider: models.ProviderA})
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, 2, "t1_sales")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)

	err = f.svc.Delete(ctx, 2, "t1_sales")
	assert.ErrorAs(t, err, &notFound)

	sessions, err := f.svc.List(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	require.NoError(t, f.svc.Delete(ctx, 1, "t1_sales"))
	assert.Nil(t, f.store.session("t1_sales"))
	assert.Equal(t, 1, f.a.calls("DeleteSession"))
}
