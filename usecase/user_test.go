package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	domainUser "github.com/zapa-ai/zapa/domains/user"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
)

func ptr[T any](v T) *T { return &v }

type fakeUserRepo struct {
	byPhone map[string]domainUser.User
	byID    map[int64]domainUser.User
	nextID  int64
	creates int

	// conflictOnce simula otro proceso ganando el insert.
	conflictOnce bool

	listLimit  int
	listOffset int
	listQuery  string

	touched map[int64]time.Time
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		byPhone: map[string]domainUser.User{},
		byID:    map[int64]domainUser.User{},
		touched: map[int64]time.Time{},
	}
}

func (f *fakeUserRepo) Create(ctx context.Context, u domainUser.User) (domainUser.User, error) {
	f.creates++
	if f.conflictOnce {
		f.conflictOnce = false
		winner := domainUser.User{ID: 99, PhoneNumber: u.PhoneNumber, IsActive: true}
		f.byPhone[winner.PhoneNumber] = winner
		f.byID[winner.ID] = winner
		return domainUser.User{}, pkgError.ConflictError("duplicate phone")
	}
	if _, ok := f.byPhone[u.PhoneNumber]; ok {
		return domainUser.User{}, pkgError.ConflictError("duplicate phone")
	}
	f.nextID++
	u.ID = f.nextID
	u.CreatedAt = time.Now().UTC()
	f.byPhone[u.PhoneNumber] = u
	f.byID[u.ID] = u
	return u, nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id int64) (domainUser.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return domainUser.User{}, pkgError.NotFoundError("user not found")
	}
	return u, nil
}

func (f *fakeUserRepo) GetByPhone(ctx context.Context, phone string) (domainUser.User, error) {
	u, ok := f.byPhone[phone]
	if !ok {
		return domainUser.User{}, pkgError.NotFoundError("user not found")
	}
	return u, nil
}

func (f *fakeUserRepo) List(ctx context.Context, limit, offset int, query string) ([]domainUser.User, int64, error) {
	f.listLimit = limit
	f.listOffset = offset
	f.listQuery = query
	return nil, 0, nil
}

func (f *fakeUserRepo) Update(ctx context.Context, u domainUser.User) (domainUser.User, error) {
	if _, ok := f.byID[u.ID]; !ok {
		return domainUser.User{}, pkgError.NotFoundError("user not found")
	}
	f.byID[u.ID] = u
	f.byPhone[u.PhoneNumber] = u
	return u, nil
}

func (f *fakeUserRepo) Delete(ctx context.Context, id int64) error {
	u, ok := f.byID[id]
	if !ok {
		return pkgError.NotFoundError("user not found")
	}
	delete(f.byID, id)
	delete(f.byPhone, u.PhoneNumber)
	return nil
}

func (f *fakeUserRepo) TouchLastActive(ctx context.Context, id int64, at time.Time) error {
	f.touched[id] = at
	return nil
}

func TestGetOrCreateByPhoneCreatesOnce(t *testing.T) {
	repo := newFakeUserRepo()
	svc := NewUserService(repo)
	ctx := context.Background()

	u, err := svc.GetOrCreateByPhone(ctx, "+34 612-345-678")
	if err != nil {
		t.Fatalf("GetOrCreateByPhone: %v", err)
	}
	if u.PhoneNumber != "34612345678" {
		t.Fatalf("phone not normalized, got %q", u.PhoneNumber)
	}
	if !u.IsActive || u.IsAdmin {
		t.Fatalf("new user should be active and non-admin, got active=%v admin=%v", u.IsActive, u.IsAdmin)
	}

	again, err := svc.GetOrCreateByPhone(ctx, "34612345678")
	if err != nil {
		t.Fatalf("second GetOrCreateByPhone: %v", err)
	}
	if again.ID != u.ID {
		t.Fatalf("expected same user, got %d and %d", u.ID, again.ID)
	}
	if repo.creates != 1 {
		t.Fatalf("expected exactly one create, got %d", repo.creates)
	}
}

func TestGetOrCreateByPhoneBlank(t *testing.T) {
	svc := NewUserService(newFakeUserRepo())

	_, err := svc.GetOrCreateByPhone(context.Background(), "  +- ")
	var verr pkgError.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetOrCreateByPhoneLosesInsertRace(t *testing.T) {
	repo := newFakeUserRepo()
	repo.conflictOnce = true
	svc := NewUserService(repo)

	u, err := svc.GetOrCreateByPhone(context.Background(), "5215512345678")
	if err != nil {
		t.Fatalf("GetOrCreateByPhone after race: %v", err)
	}
	if u.ID != 99 {
		t.Fatalf("expected the winning row, got id %d", u.ID)
	}
}

func TestUpdateAppliesOnlyProvidedFields(t *testing.T) {
	repo := newFakeUserRepo()
	svc := NewUserService(repo)
	ctx := context.Background()

	created, err := svc.GetOrCreateByPhone(ctx, "14155550100")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	updated, err := svc.Update(ctx, created.ID, domainUser.UpdateUserRequest{
		FirstName: ptr("  Ada "),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.FirstName != "Ada" {
		t.Fatalf("first name not trimmed, got %q", updated.FirstName)
	}
	if updated.LastName != "" {
		t.Fatalf("last name should be untouched, got %q", updated.LastName)
	}
	if !updated.IsActive {
		t.Fatal("is_active flipped without being requested")
	}

	deactivated, err := svc.Update(ctx, created.ID, domainUser.UpdateUserRequest{
		IsActive: ptr(false),
	})
	if err != nil {
		t.Fatalf("Update is_active: %v", err)
	}
	if deactivated.IsActive {
		t.Fatal("is_active should be false")
	}
	if deactivated.FirstName != "Ada" {
		t.Fatalf("first name lost on second update, got %q", deactivated.FirstName)
	}
}

func TestListClampsPagination(t *testing.T) {
	repo := newFakeUserRepo()
	svc := NewUserService(repo)
	ctx := context.Background()

	if _, err := svc.List(ctx, domainUser.ListUsersRequest{}); err != nil {
		t.Fatalf("List defaults: %v", err)
	}
	if repo.listLimit != 50 {
		t.Fatalf("default limit should be 50, got %d", repo.listLimit)
	}

	if _, err := svc.List(ctx, domainUser.ListUsersRequest{Limit: 9999, Offset: -3, Query: " ada "}); err != nil {
		t.Fatalf("List oversized: %v", err)
	}
	if repo.listLimit != 200 {
		t.Fatalf("limit should clamp to 200, got %d", repo.listLimit)
	}
	if repo.listOffset != 0 {
		t.Fatalf("negative offset should clamp to 0, got %d", repo.listOffset)
	}
	if repo.listQuery != "ada" {
		t.Fatalf("query should be trimmed, got %q", repo.listQuery)
	}
}

func TestDeleteValidatesID(t *testing.T) {
	svc := NewUserService(newFakeUserRepo())

	err := svc.Delete(context.Background(), 0)
	var verr pkgError.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
