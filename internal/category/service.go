// Package category はランキングカテゴリの投稿・承認・編集を扱う。
package category

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/hitoshi/rankinge/internal/model"
	"github.com/hitoshi/rankinge/internal/repository"
	"github.com/hitoshi/rankinge/internal/security"
)

const (
	maxNameLength    = 255
	maxSlugLength    = 255
	maxSlugSuffixTry = 100
)

// Service はカテゴリのビジネスロジックを提供する。
type Service struct {
	repo      repository.CategoryRepository
	sanitizer security.Sanitizer
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.CategoryRepository, sanitizer security.Sanitizer) *Service {
	return &Service{repo: repo, sanitizer: sanitizer, now: time.Now}
}

// List はカテゴリ一覧を返す。管理者以外には承認済みのカテゴリだけを返す。
func (s *Service) List(ctx context.Context, viewer *model.User, filter repository.CategoryFilter) ([]*model.Category, error) {
	if viewer == nil || !viewer.IsAdmin() {
		filter.Status = model.ApprovalApproved
	}
	categories, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, model.NewTransientStoreError("list categories", err)
	}
	return categories, nil
}

// Get はIDまたはスラッグでカテゴリを取得する。
// 未承認のカテゴリは投稿者と管理者にだけ見える。
func (s *Service) Get(ctx context.Context, viewer *model.User, idOrSlug string) (*model.Category, error) {
	var (
		c   *model.Category
		err error
	)
	if _, parseErr := uuid.Parse(idOrSlug); parseErr == nil {
		c, err = s.repo.FindByID(ctx, idOrSlug)
	} else {
		c, err = s.repo.FindBySlug(ctx, idOrSlug)
	}
	if err != nil {
		return nil, model.NewTransientStoreError("get category", err)
	}
	if c == nil || !canView(viewer, c) {
		return nil, model.NewCategoryNotFoundError(idOrSlug)
	}
	return c, nil
}

// Submit はカテゴリを作成する。一般ユーザーの投稿は承認待ち、管理者の作成は承認済みになる。
func (s *Service) Submit(ctx context.Context, author *model.User, input model.CategoryInput) (*model.Category, error) {
	if author == nil {
		return nil, model.NewUnauthenticatedError()
	}
	if input.Name == nil {
		return nil, model.NewValidationError("name", "必須です")
	}

	now := s.now().UTC()
	c := &model.Category{
		ID:          uuid.NewString(),
		Status:      model.ApprovalPending,
		DisplayMode: model.DisplayBoth,
		CreatedBy:   author.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if author.IsAdmin() {
		c.Status = model.ApprovalApproved
	}
	if err := s.apply(ctx, c, input); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, model.NewTransientStoreError("create category", err)
	}
	return c, nil
}

// Update はカテゴリを部分更新する。投稿者は承認前のみ、管理者はいつでも編集できる。
func (s *Service) Update(ctx context.Context, editor *model.User, id string, input model.CategoryInput) (*model.Category, error) {
	if editor == nil {
		return nil, model.NewUnauthenticatedError()
	}
	c, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canEdit(editor, c) {
		return nil, model.NewForbiddenError()
	}
	if err := s.apply(ctx, c, input); err != nil {
		return nil, err
	}
	c.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, c); err != nil {
		return nil, model.NewTransientStoreError("update category", err)
	}
	return c, nil
}

// Approve は承認待ちのカテゴリを承認する。承認済みなら何もしない。
func (s *Service) Approve(ctx context.Context, id string) (*model.Category, error) {
	c, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.IsApproved() {
		return c, nil
	}
	c.Status = model.ApprovalApproved
	c.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, model.NewTransientStoreError("approve category", err)
	}
	return c, nil
}

// Delete はカテゴリを削除する。アイテム、投票、スナップショットも削除される。
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.find(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return model.NewTransientStoreError("delete category", err)
	}
	return nil
}

// ListApprovedIDs はスナップショット対象となる承認済みカテゴリのIDを返す。
func (s *Service) ListApprovedIDs(ctx context.Context) ([]string, error) {
	categories, err := s.repo.List(ctx, repository.CategoryFilter{Status: model.ApprovalApproved})
	if err != nil {
		return nil, model.NewTransientStoreError("list approved categories", err)
	}
	ids := make([]string, len(categories))
	for i, c := range categories {
		ids[i] = c.ID
	}
	return ids, nil
}

func (s *Service) find(ctx context.Context, id string) (*model.Category, error) {
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, model.NewTransientStoreError("get category", err)
	}
	if c == nil {
		return nil, model.NewCategoryNotFoundError(id)
	}
	return c, nil
}

func canView(viewer *model.User, c *model.Category) bool {
	if c.IsApproved() {
		return true
	}
	return viewer != nil && (viewer.IsAdmin() || viewer.ID == c.CreatedBy)
}

func canEdit(editor *model.User, c *model.Category) bool {
	if editor.IsAdmin() {
		return true
	}
	return !c.IsApproved() && editor.ID == c.CreatedBy
}

// apply は入力値を検証してカテゴリに反映する。nilのフィールドは変更しない。
func (s *Service) apply(ctx context.Context, c *model.Category, input model.CategoryInput) error {
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return model.NewValidationError("name", "必須です")
		}
		if utf8.RuneCountInString(name) > maxNameLength {
			return model.NewValidationError("name", "255文字以内で入力してください")
		}
		c.Name = name
	}
	if input.Description != nil {
		c.Description = s.sanitizer.SanitizeDescription(*input.Description)
	}
	if input.GroupTag != nil {
		c.GroupTag = strings.TrimSpace(*input.GroupTag)
	}
	if input.DisplayMode != nil {
		mode, err := model.ParseDisplayMode(string(*input.DisplayMode))
		if err != nil {
			return model.NewInvalidDisplayModeError(string(*input.DisplayMode))
		}
		c.DisplayMode = mode
	}
	if input.ParentID != nil {
		if err := s.applyParent(ctx, c, *input.ParentID); err != nil {
			return err
		}
	}

	switch {
	case input.Slug != nil && strings.TrimSpace(*input.Slug) != "":
		return s.applyExplicitSlug(ctx, c, strings.TrimSpace(*input.Slug))
	case c.Slug == "":
		generated, err := s.uniqueSlug(ctx, c.ID, c.Name)
		if err != nil {
			return err
		}
		c.Slug = generated
	}
	return nil
}

func (s *Service) applyParent(ctx context.Context, c *model.Category, parentID string) error {
	parentID = strings.TrimSpace(parentID)
	if parentID == "" {
		c.ParentID = nil
		return nil
	}
	if parentID == c.ID {
		return model.NewValidationError("parent_id", "自分自身は親にできません")
	}
	parent, err := s.repo.FindByID(ctx, parentID)
	if err != nil {
		return model.NewTransientStoreError("get parent category", err)
	}
	if parent == nil {
		return model.NewValidationError("parent_id", "親カテゴリが存在しません")
	}
	c.ParentID = &parentID
	return nil
}

func (s *Service) applyExplicitSlug(ctx context.Context, c *model.Category, requested string) error {
	if len(requested) > maxSlugLength || !slug.IsSlug(requested) {
		return model.NewValidationError("slug", "英小文字・数字・ハイフンのみ使用できます")
	}
	if requested == c.Slug {
		return nil
	}
	existing, err := s.repo.FindBySlug(ctx, requested)
	if err != nil {
		return model.NewTransientStoreError("check slug", err)
	}
	if existing != nil && existing.ID != c.ID {
		return model.NewDuplicateSlugError(requested)
	}
	c.Slug = requested
	return nil
}

// uniqueSlug は名前からスラッグを作り、使用済みなら -2, -3 ... を付ける。
func (s *Service) uniqueSlug(ctx context.Context, selfID, name string) (string, error) {
	base := slug.Make(name)
	if base == "" {
		// 記号のみの名前など
		base = "category-" + selfID[:8]
	}
	if len(base) > maxSlugLength-4 {
		base = strings.TrimRight(base[:maxSlugLength-4], "-")
	}

	candidate := base
	for n := 2; n <= maxSlugSuffixTry+1; n++ {
		existing, err := s.repo.FindBySlug(ctx, candidate)
		if err != nil {
			return "", model.NewTransientStoreError("check slug", err)
		}
		if existing == nil || existing.ID == selfID {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
	return "", model.NewDuplicateSlugError(base)
}
