package user

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/hitoshi/rankinge/internal/model"
	"github.com/hitoshi/rankinge/internal/repository"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn   func(ctx context.Context, id string) (*model.User, error)
	deleteByIDFn func(ctx context.Context, id string) error
	listFn       func(ctx context.Context, limit, offset int) ([]*model.User, error)
	updateRoleFn func(ctx context.Context, id string, role model.Role) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	return nil
}
func (m *mockUserRepo) List(ctx context.Context, limit, offset int) ([]*model.User, error) {
	if m.listFn != nil {
		return m.listFn(ctx, limit, offset)
	}
	return nil, nil
}
func (m *mockUserRepo) UpdateRole(ctx context.Context, id string, role model.Role) error {
	if m.updateRoleFn != nil {
		return m.updateRoleFn(ctx, id, role)
	}
	return nil
}
func (m *mockUserRepo) DeleteByID(ctx context.Context, id string) error {
	return m.deleteByIDFn(ctx, id)
}

type mockSessionRepo struct {
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	return nil
}
func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return nil, nil
}
func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	return nil
}
func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	return m.deleteByUserIDFn(ctx, userID)
}

type mockRetractor struct {
	retractAllFn func(ctx context.Context, userID string) (int, error)
}

func (m *mockRetractor) RetractAll(ctx context.Context, userID string) (int, error) {
	return m.retractAllFn(ctx, userID)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

// --- テスト ---

// TestService_Withdraw はセッション削除、投票の取り消し、ユーザー削除の順に実行されることを検証する。
// セッションが残ったまま取り消すと、その後の投票がユーザー削除のCASCADEで投票数を減らさずに消える。
func TestService_Withdraw(t *testing.T) {
	var calls []string

	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "test@example.com"}, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			calls = append(calls, "user")
			return nil
		},
	}
	sessionRepo := &mockSessionRepo{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			calls = append(calls, "sessions")
			return nil
		},
	}
	votes := &mockRetractor{
		retractAllFn: func(ctx context.Context, userID string) (int, error) {
			calls = append(calls, "votes")
			return 3, nil
		},
	}

	svc := NewService(userRepo, sessionRepo, votes, testLogger())
	if err := svc.Withdraw(context.Background(), "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"sessions", "votes", "user"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("calls = %v, want %v", calls, want)
			break
		}
	}
}

// TestService_Withdraw_UserNotFound は存在しないユーザーの退会がエラーになることを検証する。
func TestService_Withdraw_UserNotFound(t *testing.T) {
	svc := NewService(&mockUserRepo{}, nil, nil, testLogger())

	err := svc.Withdraw(context.Background(), "missing")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Errorf("expected USER_NOT_FOUND, got %v", err)
	}
}

// TestService_Withdraw_StopsWhenRetractFails は投票の取り消しに失敗した場合にユーザーを削除しないことを検証する。
func TestService_Withdraw_StopsWhenRetractFails(t *testing.T) {
	deleted := false
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id}, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			deleted = true
			return nil
		},
	}
	votes := &mockRetractor{
		retractAllFn: func(ctx context.Context, userID string) (int, error) {
			return 0, model.NewTransientStoreError("retract", errors.New("timeout"))
		},
	}

	svc := NewService(userRepo, nil, votes, testLogger())
	if err := svc.Withdraw(context.Background(), "user-1"); err == nil {
		t.Fatal("expected error")
	}
	if deleted {
		t.Error("user must not be deleted when vote retraction fails")
	}
}

func TestService_List_ClampsLimit(t *testing.T) {
	var gotLimit, gotOffset int
	repo := &mockUserRepo{
		listFn: func(ctx context.Context, limit, offset int) ([]*model.User, error) {
			gotLimit, gotOffset = limit, offset
			return nil, nil
		},
	}
	svc := NewService(repo, nil, nil, testLogger())

	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, 50, 0},
		{1000, -5, 200, 0},
		{20, 40, 20, 40},
	}
	for _, tt := range tests {
		if _, err := svc.List(context.Background(), tt.limit, tt.offset); err != nil {
			t.Fatal(err)
		}
		if gotLimit != tt.wantLimit || gotOffset != tt.wantOffset {
			t.Errorf("List(%d, %d) used (%d, %d), want (%d, %d)", tt.limit, tt.offset, gotLimit, gotOffset, tt.wantLimit, tt.wantOffset)
		}
	}
}

func TestService_SetRole(t *testing.T) {
	roles := map[string]model.Role{"u1": model.RoleUser}
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			r, ok := roles[id]
			if !ok {
				return nil, nil
			}
			return &model.User{ID: id, Role: r}, nil
		},
		updateRoleFn: func(ctx context.Context, id string, role model.Role) error {
			if _, ok := roles[id]; !ok {
				return repository.ErrNotFound
			}
			roles[id] = role
			return nil
		},
	}
	svc := NewService(repo, nil, nil, testLogger())
	admin := &model.User{ID: "admin-1", Role: model.RoleAdmin}
	ctx := context.Background()

	updated, err := svc.SetRole(ctx, admin, "u1", "admin")
	if err != nil || updated.Role != model.RoleAdmin {
		t.Fatalf("SetRole = %+v, %v", updated, err)
	}

	tests := []struct {
		name     string
		userID   string
		role     string
		wantCode string
	}{
		{"不正な権限", "u1", "owner", model.ErrCodeValidationFailed},
		{"自分の降格", "admin-1", "user", model.ErrCodeValidationFailed},
		{"存在しないユーザー", "ghost", "user", model.ErrCodeUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SetRole(ctx, admin, tt.userID, tt.role)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != tt.wantCode {
				t.Errorf("expected %s, got %v", tt.wantCode, err)
			}
		})
	}
}
