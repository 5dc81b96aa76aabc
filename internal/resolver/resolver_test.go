package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/suteetoe/lavadero/internal/apperr"
	"github.com/suteetoe/lavadero/internal/model"
	"github.com/suteetoe/lavadero/pkg/database"
	"github.com/suteetoe/lavadero/pkg/database/dbtest"
	"github.com/suteetoe/lavadero/pkg/jwtutil"
)

const legacyAddress = "postgres://legacy/lavadero"

// fakeConnector serves sqlmock handles. errs makes an address fail its reachability check.
type fakeConnector struct {
	dbs       map[string]*gorm.DB
	errs      map[string]error
	requested []string
	pinged    []string
}

func newFakeConnector(t *testing.T, addresses ...string) *fakeConnector {
	f := &fakeConnector{dbs: map[string]*gorm.DB{}, errs: map[string]error{}}
	for _, address := range append(addresses, legacyAddress) {
		db, _ := dbtest.NewMock(t)
		f.dbs[address] = db
	}
	return f
}

func (f *fakeConnector) Get(ctx context.Context, address string) (*gorm.DB, error) {
	f.requested = append(f.requested, address)
	f.pinged = append(f.pinged, address)
	if err := f.errs[address]; err != nil {
		return nil, err
	}
	db, ok := f.dbs[address]
	if !ok {
		return nil, fmt.Errorf("unknown address %q", address)
	}
	return db, nil
}

func (f *fakeConnector) Handle(address string) (*gorm.DB, error) {
	f.requested = append(f.requested, address)
	db, ok := f.dbs[address]
	if !ok {
		return nil, fmt.Errorf("unknown address %q", address)
	}
	return db, nil
}

func codec() *jwtutil.JWTUtil {
	return jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "test-secret", TTL: 7 * 24 * time.Hour})
}

func tenantToken(t *testing.T, id uint, branchURL string) string {
	t.Helper()
	token, err := codec().Encode(jwtutil.Claims{
		TenantID:   &id,
		TenantSlug: fmt.Sprintf("tenant-%d", id),
		UserID:     1,
		Email:      "admin@example.com",
		Role:       jwtutil.RoleAdmin,
		BranchURL:  branchURL,
	})
	require.NoError(t, err)
	return token
}

func TestResolveWithoutTokenUsesLegacy(t *testing.T) {
	stores := newFakeConnector(t)
	r := New(codec(), stores, legacyAddress)

	store, err := r.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, store.Legacy)
	assert.False(t, store.IsTenant())
	assert.False(t, store.Authenticated())
	assert.Equal(t, legacyAddress, store.Address)
	assert.Equal(t, []string{legacyAddress}, stores.requested)
	assert.Empty(t, stores.pinged)
}

func TestLegacyOutageDoesNotFailResolution(t *testing.T) {
	stores := newFakeConnector(t)
	stores.errs[legacyAddress] = errors.New("dial tcp: connection refused")
	r := New(codec(), stores, legacyAddress)

	for _, raw := range []string{"", "garbage"} {
		store, err := r.Resolve(context.Background(), raw)
		require.NoError(t, err, "token %q", raw)
		assert.True(t, store.Legacy)
		assert.NotNil(t, store.DB)
	}
	assert.Empty(t, stores.pinged)
}

func TestMisconfiguredLegacyStoreIsUnavailable(t *testing.T) {
	stores := newFakeConnector(t)
	r := New(codec(), stores, "postgres://nowhere")

	store, err := r.Resolve(context.Background(), "")
	require.Error(t, err)
	assert.Nil(t, store)
	assert.ErrorIs(t, err, apperr.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, apperr.ErrTenantStoreUnreachable)
}

func TestResolveInvalidTokensUseLegacy(t *testing.T) {
	id := uint(3)
	claims := jwtutil.Claims{TenantID: &id, BranchURL: "postgres://tenant-3"}

	expired, err := codec().WithClock(func() time.Time {
		return time.Now().Add(-8 * 24 * time.Hour)
	}).Encode(claims)
	require.NoError(t, err)

	foreign, err := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "other-secret", TTL: time.Hour}).Encode(claims)
	require.NoError(t, err)

	cases := map[string]string{
		"garbage":       "not-a-token",
		"truncated":     tenantToken(t, 3, "postgres://tenant-3")[:20],
		"expired":       expired,
		"bad signature": foreign,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			stores := newFakeConnector(t, "postgres://tenant-3")
			r := New(codec(), stores, legacyAddress)

			store, err := r.Resolve(context.Background(), raw)
			require.NoError(t, err)
			assert.True(t, store.Legacy)
			assert.Nil(t, store.Claims)
			assert.Equal(t, []string{legacyAddress}, stores.requested)
		})
	}
}

func TestResolveTokenWithoutTenantUsesLegacy(t *testing.T) {
	raw, err := codec().Encode(jwtutil.Claims{UserID: 4, Email: "ops@example.com", Role: jwtutil.RoleOperator})
	require.NoError(t, err)

	stores := newFakeConnector(t)
	store, err := New(codec(), stores, legacyAddress).Resolve(context.Background(), raw)
	require.NoError(t, err)
	assert.True(t, store.Legacy)
	assert.True(t, store.Authenticated())
	assert.Equal(t, uint(4), store.Claims.UserID)
	assert.Nil(t, store.TenantID)
}

func TestResolveTenantUsesClaimedAddress(t *testing.T) {
	address := "postgres://user:pw@ep-tenant-7.example.com/neondb?sslmode=require"
	stores := newFakeConnector(t, address)

	store, err := New(codec(), stores, legacyAddress).Resolve(context.Background(), tenantToken(t, 7, address))
	require.NoError(t, err)
	assert.False(t, store.Legacy)
	assert.True(t, store.IsTenant())
	assert.Equal(t, address, store.Address)
	assert.Equal(t, uint(7), *store.TenantID)
	assert.Equal(t, "tenant-7", store.TenantSlug)
	assert.Equal(t, []string{address}, stores.requested)
}

func TestResolveTenantWithoutAddressFails(t *testing.T) {
	stores := newFakeConnector(t)

	store, err := New(codec(), stores, legacyAddress).Resolve(context.Background(), tenantToken(t, 9, ""))
	require.Error(t, err)
	assert.Nil(t, store)
	assert.ErrorIs(t, err, apperr.ErrTenantNotProvisioned)
	assert.NotErrorIs(t, err, apperr.ErrTenantStoreUnreachable)
	assert.Empty(t, stores.requested)
}

func TestResolveUnreachableTenantFails(t *testing.T) {
	address := "postgres://tenant-5"
	cause := errors.New("dial tcp: connection refused")
	stores := newFakeConnector(t, address)
	stores.errs[address] = cause

	store, err := New(codec(), stores, legacyAddress).Resolve(context.Background(), tenantToken(t, 5, address))
	require.Error(t, err)
	assert.Nil(t, store)
	assert.ErrorIs(t, err, apperr.ErrTenantStoreUnreachable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, apperr.ErrTenantNotProvisioned)
	assert.Equal(t, []string{address}, stores.requested)
}

type blockingConnector struct{}

func (blockingConnector) Get(ctx context.Context, address string) (*gorm.DB, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingConnector) Handle(address string) (*gorm.DB, error) {
	return nil, errors.New("not used")
}

func TestResolveTimeoutIsUnreachable(t *testing.T) {
	r := New(codec(), blockingConnector{}, legacyAddress, WithTimeout(10*time.Millisecond))

	_, err := r.Resolve(context.Background(), tenantToken(t, 5, "postgres://slow"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrTenantStoreUnreachable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolvedHandleOutlivesConnectTimeout(t *testing.T) {
	address := "postgres://tenant-2"
	r := New(codec(), newFakeConnector(t, address), legacyAddress, WithTimeout(time.Millisecond))

	store, err := r.Resolve(context.Background(), tenantToken(t, 2, address))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	assert.NoError(t, store.DB.Statement.Context.Err())
}

// Wires the resolver to a real pool whose stores answer pings through sqlmock.
func TestResolveThroughPool(t *testing.T) {
	mocks := map[string]sqlmock.Sqlmock{}
	opened := map[string]int{}
	pool := database.NewPoolWithOpener(func(address string) (*gorm.DB, error) {
		db, mock := dbtest.NewMock(t)
		mocks[address] = mock
		opened[address]++
		switch address {
		case "store-7":
			mock.ExpectPing()
			mock.ExpectPing()
		case "store-down":
			mock.ExpectPing().WillReturnError(errors.New("password authentication failed"))
		}
		return db, nil
	})
	r := New(codec(), pool, legacyAddress)
	ctx := context.Background()

	store, err := r.Resolve(ctx, tenantToken(t, 7, "store-7"))
	require.NoError(t, err)
	assert.Equal(t, "store-7", store.Address)

	noTenant, err := codec().Encode(jwtutil.Claims{UserID: 1})
	require.NoError(t, err)
	store, err = r.Resolve(ctx, noTenant)
	require.NoError(t, err)
	assert.True(t, store.Legacy)

	store, err = r.Resolve(ctx, "")
	require.NoError(t, err)
	assert.True(t, store.Legacy)

	_, err = r.Resolve(ctx, tenantToken(t, 9, ""))
	assert.ErrorIs(t, err, apperr.ErrTenantNotProvisioned)

	_, err = r.Resolve(ctx, tenantToken(t, 8, "store-down"))
	assert.ErrorIs(t, err, apperr.ErrTenantStoreUnreachable)

	_, err = r.Resolve(ctx, tenantToken(t, 7, "store-7"))
	require.NoError(t, err)

	assert.Equal(t, 1, opened["store-7"])
	assert.Equal(t, 1, opened[legacyAddress])
	assert.Equal(t, 3, pool.Len())
	for address, mock := range mocks {
		assert.NoError(t, mock.ExpectationsWereMet(), address)
	}
}

type fakeDirectory map[string]*model.Tenant

func (d fakeDirectory) LookupBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	tenant, ok := d[slug]
	if !ok {
		return nil, apperr.NotFound("business")
	}
	return tenant, nil
}

func TestResolveSlug(t *testing.T) {
	address := "postgres://tenant-11"
	archivedAddress := "postgres://tenant-12"
	directory := fakeDirectory{
		"lavadero-sol":   {ID: 11, Slug: "lavadero-sol", State: model.TenantActive, BranchURL: &address},
		"lavadero-luna":  {ID: 12, Slug: "lavadero-luna", State: model.TenantArchived, BranchURL: &archivedAddress},
		"lavadero-nuevo": {ID: 13, Slug: "lavadero-nuevo", State: model.TenantActive},
	}
	stores := newFakeConnector(t, address)
	r := New(codec(), stores, legacyAddress, WithDirectory(directory))
	ctx := context.Background()

	store, err := r.ResolveSlug(ctx, "lavadero-sol")
	require.NoError(t, err)
	assert.Equal(t, address, store.Address)
	assert.Equal(t, uint(11), *store.TenantID)
	assert.False(t, store.Authenticated())

	_, err = r.ResolveSlug(ctx, "lavadero-luna")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = r.ResolveSlug(ctx, "lavadero-nuevo")
	assert.ErrorIs(t, err, apperr.ErrTenantNotProvisioned)

	_, err = r.ResolveSlug(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	stores.errs[address] = errors.New("timeout")
	_, err = r.ResolveSlug(ctx, "lavadero-sol")
	assert.ErrorIs(t, err, apperr.ErrTenantStoreUnreachable)

	assert.NotContains(t, stores.requested, legacyAddress)
}
