// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/rankinge/internal/model"
	"github.com/hitoshi/rankinge/internal/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// VoteRetractor はユーザーの全投票の取り消しインターフェース。vote.Ledgerが実装する。
type VoteRetractor interface {
	RetractAll(ctx context.Context, userID string) (int, error)
}

// Service はユーザー管理のサービス層。
// 退会処理と管理者によるユーザー一覧・権限変更を提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	votes       VoteRetractor
	logger      *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	votes VoteRetractor,
	logger *slog.Logger,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		votes:       votes,
		logger:      logger,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → votes（投票数を減算） → user（+ CASCADE: identities）
// votesをCASCADEに任せるとアイテムの投票数が減らないため、ユーザー削除の前にLedger経由で取り消す。
// 取り消し後に投票されないよう、セッションを先に削除する。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return model.NewTransientStoreError("get user", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	s.logger.Info("退会処理を開始します", slog.String("user_id", userID))

	// 1. セッションを削除（以降の新しい投票を受け付けない）
	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return model.NewTransientStoreError("delete sessions", fmt.Errorf("セッションの削除に失敗しました: %w", err))
		}
	}

	// 2. 投票を取り消す
	if s.votes != nil {
		n, err := s.votes.RetractAll(ctx, userID)
		if err != nil {
			return err
		}
		s.logger.Info("投票を取り消しました",
			slog.String("user_id", userID),
			slog.Int("votes", n),
		)
	}

	// 3. ユーザーを削除（identitiesはCASCADE削除）
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return model.NewTransientStoreError("delete user", fmt.Errorf("ユーザーの削除に失敗しました: %w", err))
	}

	s.logger.Info("退会処理が完了しました", slog.String("user_id", userID))
	return nil
}

// List はユーザー一覧を作成日時の降順で返す。
func (s *Service) List(ctx context.Context, limit, offset int) ([]*model.User, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	users, err := s.userRepo.List(ctx, limit, offset)
	if err != nil {
		return nil, model.NewTransientStoreError("list users", err)
	}
	return users, nil
}

// SetRole はユーザーの権限を変更する。管理者が自分自身の権限を外すことはできない。
func (s *Service) SetRole(ctx context.Context, actor *model.User, userID, role string) (*model.User, error) {
	parsed, err := model.ParseRole(role)
	if err != nil {
		return nil, model.NewValidationError("role", "userまたはadminを指定してください")
	}
	if actor != nil && actor.ID == userID && parsed != model.RoleAdmin {
		return nil, model.NewValidationError("role", "自分自身の管理者権限は外せません")
	}

	if err := s.userRepo.UpdateRole(ctx, userID, parsed); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewUserNotFoundError()
		}
		return nil, model.NewTransientStoreError("update role", err)
	}

	updated, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, model.NewTransientStoreError("get user", err)
	}
	if updated == nil {
		return nil, model.NewUserNotFoundError()
	}
	s.logger.Info("ユーザー権限を変更しました",
		slog.String("user_id", userID),
		slog.String("role", string(parsed)),
	)
	return updated, nil
}
