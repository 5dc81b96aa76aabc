package directory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suteetoe/lavadero/internal/apperr"
	"github.com/suteetoe/lavadero/internal/directory"
	"github.com/suteetoe/lavadero/internal/directory/repofakes"
	"github.com/suteetoe/lavadero/internal/model"
	"github.com/suteetoe/lavadero/internal/provisioner"
	"github.com/suteetoe/lavadero/pkg/jwtutil"
)

type fakeProvisioner struct {
	mu           sync.Mutex
	provisionErr error
	deleteErr    error
	deleted      []string
}

func (p *fakeProvisioner) Provision(ctx context.Context, slug string) (*provisioner.Branch, error) {
	if p.provisionErr != nil {
		return nil, p.provisionErr
	}
	return &provisioner.Branch{ID: "br-" + slug, ConnectionURI: "postgres://" + slug + ".example.com/neondb"}, nil
}

func (p *fakeProvisioner) Delete(ctx context.Context, branchID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, branchID)
	return p.deleteErr
}

type fakeEvictor struct {
	evicted []string
}

func (e *fakeEvictor) Evict(address string) {
	e.evicted = append(e.evicted, address)
}

func newService(p provisioner.Provisioner, opts ...directory.Option) (*directory.Service, *repofakes.FakeDirectoryRepo) {
	repo := repofakes.NewFakeDirectoryRepo()
	return directory.NewService(repo, p, opts...), repo
}

func TestCreateAllocatesDistinctSlugs(t *testing.T) {
	svc, _ := newService(&fakeProvisioner{})
	ctx := context.Background()

	first, err := svc.Create(ctx, "Lavadero Sol", "")
	require.NoError(t, err)
	second, err := svc.Create(ctx, "lavadero sol", "")
	require.NoError(t, err)
	third, err := svc.Create(ctx, "  Lavadero  Sól! ", "")
	require.NoError(t, err)

	assert.Equal(t, "lavadero-sol", first.Slug)
	assert.Equal(t, "lavadero-sol-2", second.Slug)
	assert.Equal(t, "lavadero-sol-3", third.Slug)
	assert.Equal(t, model.PlanTrial, first.Plan)
	assert.Equal(t, model.TenantActive, first.State)
	assert.False(t, first.Provisioned())
}

func TestCreateRetriesOnConcurrentSlug(t *testing.T) {
	svc, repo := newService(&fakeProvisioner{})
	ctx := context.Background()

	_, err := svc.Create(ctx, "Sol", "")
	require.NoError(t, err)

	repo.StaleSlugReads = 1
	tenant, err := svc.Create(ctx, "Sol", "")
	require.NoError(t, err)
	assert.Equal(t, "sol-2", tenant.Slug)
}

func TestCreateRequiresName(t *testing.T) {
	svc, _ := newService(&fakeProvisioner{})
	_, err := svc.Create(context.Background(), "   ", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreateSetsTrialExpiration(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newService(&fakeProvisioner{}, directory.WithTrialDays(15), directory.WithClock(func() time.Time { return now }))

	tenant, err := svc.Create(context.Background(), "Sol", "")
	require.NoError(t, err)
	require.NotNil(t, tenant.ExpiresAt)
	assert.Equal(t, now.AddDate(0, 0, 15), *tenant.ExpiresAt)
}

func TestRegisterProvisionsAndInitializesStore(t *testing.T) {
	var initialized []string
	initStore := directory.InitializerFunc(func(ctx context.Context, address string) error {
		initialized = append(initialized, address)
		return nil
	})
	svc, repo := newService(&fakeProvisioner{}, directory.WithInitializer(initStore))
	ctx := context.Background()

	tenant, err := svc.Register(ctx, "Lavadero Luna", model.PlanTrial)
	require.NoError(t, err)
	assert.True(t, tenant.Provisioned())
	assert.Equal(t, "postgres://lavadero-luna.example.com/neondb", tenant.Address())
	assert.Equal(t, []string{tenant.Address()}, initialized)

	stored, err := repo.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.Address(), stored.Address())
	assert.Equal(t, "br-lavadero-luna", *stored.BranchID)
}

func TestRegisterToleratesProvisionerFailure(t *testing.T) {
	svc, repo := newService(&fakeProvisioner{provisionErr: errors.New("quota exceeded")})
	ctx := context.Background()

	tenant, err := svc.Register(ctx, "Lavadero Luna", model.PlanTrial)
	require.NoError(t, err)
	assert.False(t, tenant.Provisioned())

	stored, err := repo.GetTenantBySlug(ctx, "lavadero-luna")
	require.NoError(t, err)
	assert.Nil(t, stored.BranchURL)
	assert.Equal(t, model.TenantActive, stored.State)
}

func TestRegisterToleratesInitializerFailure(t *testing.T) {
	initStore := directory.InitializerFunc(func(ctx context.Context, address string) error {
		return errors.New("migration failed")
	})
	svc, _ := newService(&fakeProvisioner{}, directory.WithInitializer(initStore))

	tenant, err := svc.Register(context.Background(), "Sol", "")
	require.NoError(t, err)
	assert.True(t, tenant.Provisioned())
}

func TestArchiveSurvivesDeleteFailure(t *testing.T) {
	p := &fakeProvisioner{}
	evictor := &fakeEvictor{}
	svc, repo := newService(p, directory.WithEvictor(evictor))
	ctx := context.Background()

	tenant, err := svc.Register(ctx, "Sol", "")
	require.NoError(t, err)
	address := tenant.Address()

	p.deleteErr = errors.New("provider unavailable")
	archived, err := svc.Archive(ctx, tenant.ID)
	require.NoError(t, err)
	assert.True(t, archived.Archived())

	stored, err := repo.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TenantArchived, stored.State)
	assert.Nil(t, stored.BranchURL)
	require.NotNil(t, stored.BranchID)
	assert.Equal(t, "br-sol", *stored.BranchID)

	assert.Equal(t, []string{"br-sol"}, p.deleted)
	assert.Equal(t, []string{address}, evictor.evicted)
}

func TestArchiveClearsBranchAfterDeletion(t *testing.T) {
	p := &fakeProvisioner{}
	svc, repo := newService(p)
	ctx := context.Background()

	tenant, err := svc.Register(ctx, "Sol", "")
	require.NoError(t, err)

	_, err = svc.Archive(ctx, tenant.ID)
	require.NoError(t, err)

	stored, err := repo.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.BranchURL)
	assert.Nil(t, stored.BranchID)

	_, err = svc.Archive(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Len(t, p.deleted, 1)
}

func TestArchiveUnprovisionedTenant(t *testing.T) {
	p := &fakeProvisioner{}
	svc, _ := newService(p)
	ctx := context.Background()

	tenant, err := svc.Create(ctx, "Sol", "")
	require.NoError(t, err)

	archived, err := svc.Archive(ctx, tenant.ID)
	require.NoError(t, err)
	assert.True(t, archived.Archived())
	assert.Empty(t, p.deleted)
}

func TestPurgeRequiresArchive(t *testing.T) {
	svc, _ := newService(&fakeProvisioner{})
	ctx := context.Background()

	tenant, _, err := svc.Signup(ctx, directory.SignupInput{Business: "Sol", Email: "a@sol.com", Password: "secret1"})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Purge(ctx, tenant.ID), apperr.ErrConflict)

	_, err = svc.Archive(ctx, tenant.ID)
	require.NoError(t, err)
	require.NoError(t, svc.Purge(ctx, tenant.ID))

	_, err = svc.LookupByID(ctx, tenant.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, _, err = svc.Authenticate(ctx, "a@sol.com", "secret1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSetConnectionAddressEvictsPrevious(t *testing.T) {
	evictor := &fakeEvictor{}
	svc, _ := newService(&fakeProvisioner{}, directory.WithEvictor(evictor))
	ctx := context.Background()

	tenant, err := svc.Register(ctx, "Sol", "")
	require.NoError(t, err)
	old := tenant.Address()

	updated, err := svc.SetConnectionAddress(ctx, tenant.ID, " postgres://manual.example.com/db ")
	require.NoError(t, err)
	assert.Equal(t, "postgres://manual.example.com/db", updated.Address())
	assert.Equal(t, []string{old}, evictor.evicted)

	_, err = svc.SetConnectionAddress(ctx, tenant.ID, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSignupAndAuthenticate(t *testing.T) {
	svc, _ := newService(&fakeProvisioner{})
	ctx := context.Background()

	tenant, admin, err := svc.Signup(ctx, directory.SignupInput{
		Business: "Lavadero Sol",
		Name:     "Ana",
		Email:    " Ana@Sol.com ",
		Password: "secret1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ana@sol.com", admin.Email)
	assert.Equal(t, jwtutil.RoleAdmin, admin.Role)
	assert.Equal(t, tenant.ID, admin.TenantID)

	user, owner, err := svc.Authenticate(ctx, "ana@sol.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, user.ID)
	assert.Equal(t, tenant.Slug, owner.Slug)
	assert.Equal(t, tenant.Address(), owner.Address())

	_, _, err = svc.Authenticate(ctx, "ana@sol.com", "wrong-password")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, _, err = svc.Signup(ctx, directory.SignupInput{Business: "Otro", Email: "ana@sol.com", Password: "secret1"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, _, err = svc.Signup(ctx, directory.SignupInput{Business: "Otro", Email: "b@sol.com", Password: "123"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestAuthenticateRejectsArchivedTenant(t *testing.T) {
	svc, _ := newService(&fakeProvisioner{})
	ctx := context.Background()

	tenant, _, err := svc.Signup(ctx, directory.SignupInput{Business: "Sol", Email: "a@sol.com", Password: "secret1"})
	require.NoError(t, err)
	_, err = svc.Archive(ctx, tenant.ID)
	require.NoError(t, err)

	_, _, err = svc.Authenticate(ctx, "a@sol.com", "secret1")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestUsersAreScopedToTenant(t *testing.T) {
	svc, _ := newService(&fakeProvisioner{})
	ctx := context.Background()

	sol, _, err := svc.Signup(ctx, directory.SignupInput{Business: "Sol", Email: "a@sol.com", Password: "secret1"})
	require.NoError(t, err)
	luna, _, err := svc.Signup(ctx, directory.SignupInput{Business: "Luna", Email: "a@luna.com", Password: "secret1"})
	require.NoError(t, err)

	operator, err := svc.CreateUser(ctx, sol.ID, directory.UserInput{Name: "Op", Email: "op@sol.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, jwtutil.RoleOperator, operator.Role)

	_, err = svc.CreateUser(ctx, sol.ID, directory.UserInput{Email: "x@sol.com", Password: "secret1", Role: "owner"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.UpdateUserRole(ctx, luna.ID, operator.ID, jwtutil.RoleAdmin)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteUser(ctx, luna.ID, operator.ID), apperr.ErrNotFound)

	promoted, err := svc.UpdateUserRole(ctx, sol.ID, operator.ID, jwtutil.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, jwtutil.RoleAdmin, promoted.Role)

	users, err := svc.ListUsers(ctx, sol.ID)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	require.NoError(t, svc.DeleteUser(ctx, sol.ID, operator.ID))
	users, err = svc.ListUsers(ctx, sol.ID)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestRecordPaymentExtendsPaidPeriod(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newService(&fakeProvisioner{}, directory.WithTrialDays(10), directory.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	tenant, err := svc.Create(ctx, "Sol", "")
	require.NoError(t, err)

	payment, err := svc.RecordPayment(ctx, tenant.ID, directory.PaymentInput{Amount: 15000, Method: "transferencia", PeriodMonths: 2})
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, 10).AddDate(0, 2, 0), payment.PaidUntil)
	assert.Equal(t, model.PlanBasic, payment.Plan)

	status, err := svc.Billing(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanBasic, status.Plan)
	assert.False(t, status.Expired)
	assert.Equal(t, payment.PaidUntil, *status.ExpiresAt)
	assert.Len(t, status.Payments, 1)

	_, err = svc.RecordPayment(ctx, tenant.ID, directory.PaymentInput{Amount: 0})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestExtendTrialFromNowWhenExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	svc, _ := newService(&fakeProvisioner{}, directory.WithTrialDays(1), directory.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	tenant, err := svc.Create(ctx, "Sol", "")
	require.NoError(t, err)

	clock = now.AddDate(0, 0, 30)
	extended, err := svc.ExtendTrial(ctx, tenant.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, clock.AddDate(0, 0, 7), *extended.ExpiresAt)
}
