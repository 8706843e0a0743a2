package item

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/rankinge/internal/model"
	"github.com/hitoshi/rankinge/internal/repository"
	"github.com/hitoshi/rankinge/internal/security"
)

const maxNameLength = 255

// Service は管理者によるアイテムの作成・更新・削除を扱う。
// vote_countはここからは変更できない。
type Service struct {
	categories repository.CategoryRepository
	items      repository.ItemRepository
	sanitizer  security.Sanitizer
	guard      security.URLGuard
	previewer  *Previewer
	now        func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	categories repository.CategoryRepository,
	items repository.ItemRepository,
	sanitizer security.Sanitizer,
	guard security.URLGuard,
	previewer *Previewer,
) *Service {
	return &Service{
		categories: categories,
		items:      items,
		sanitizer:  sanitizer,
		guard:      guard,
		previewer:  previewer,
		now:        time.Now,
	}
}

// List はカテゴリ内のアイテムをランキング順に返す。
func (s *Service) List(ctx context.Context, categoryID string) ([]*model.Item, error) {
	if _, err := s.requireCategory(ctx, categoryID); err != nil {
		return nil, err
	}
	items, err := s.items.ListByCategory(ctx, categoryID)
	if err != nil {
		return nil, model.NewTransientStoreError("list items", err)
	}
	return items, nil
}

// Get は指定IDのアイテムを返す。
func (s *Service) Get(ctx context.Context, itemID string) (*model.Item, error) {
	it, err := s.items.FindByID(ctx, itemID)
	if err != nil {
		return nil, model.NewTransientStoreError("get item", err)
	}
	if it == nil {
		return nil, model.NewItemNotFoundError(itemID)
	}
	return it, nil
}

// Create はカテゴリにアイテムを追加する。投票数は0から始まる。
func (s *Service) Create(ctx context.Context, categoryID string, input model.ItemInput) (*model.Item, error) {
	if _, err := s.requireCategory(ctx, categoryID); err != nil {
		return nil, err
	}
	if input.Name == nil {
		return nil, model.NewValidationError("name", "必須です")
	}

	now := s.now().UTC()
	it := &model.Item{
		ID:         uuid.NewString(),
		CategoryID: categoryID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.apply(it, input); err != nil {
		return nil, err
	}

	if err := s.items.Create(ctx, it); err != nil {
		return nil, model.NewTransientStoreError("create item", err)
	}
	return it, nil
}

// Update はアイテムの属性を部分更新する。
func (s *Service) Update(ctx context.Context, itemID string, input model.ItemInput) (*model.Item, error) {
	it, err := s.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.apply(it, input); err != nil {
		return nil, err
	}
	it.UpdatedAt = s.now().UTC()

	if err := s.items.Update(ctx, it); err != nil {
		return nil, model.NewTransientStoreError("update item", err)
	}
	return it, nil
}

// Delete はアイテムを削除する。このアイテムへの投票も削除される。
func (s *Service) Delete(ctx context.Context, itemID string) error {
	if _, err := s.Get(ctx, itemID); err != nil {
		return err
	}
	if err := s.items.Delete(ctx, itemID); err != nil {
		return model.NewTransientStoreError("delete item", err)
	}
	return nil
}

// Recount はカテゴリ内の投票数をvotesテーブルから再計算し、修正したアイテム数を返す。
func (s *Service) Recount(ctx context.Context, categoryID string) (int64, error) {
	if _, err := s.requireCategory(ctx, categoryID); err != nil {
		return 0, err
	}
	n, err := s.items.RecountByCategory(ctx, categoryID)
	if err != nil {
		return 0, model.NewTransientStoreError("recount votes", err)
	}
	return n, nil
}

// Preview は商品ページからアイテム入力の下書きを作る。
func (s *Service) Preview(ctx context.Context, productURL string) (*model.ItemPreview, error) {
	preview, err := s.previewer.Preview(ctx, productURL)
	if err != nil {
		return nil, err
	}
	preview.Description = s.sanitizer.SanitizeDescription(preview.Description)
	return preview, nil
}

func (s *Service) requireCategory(ctx context.Context, categoryID string) (*model.Category, error) {
	c, err := s.categories.FindByID(ctx, categoryID)
	if err != nil {
		return nil, model.NewTransientStoreError("get category", err)
	}
	if c == nil {
		return nil, model.NewCategoryNotFoundError(categoryID)
	}
	return c, nil
}

// apply は入力値を検証してアイテムに反映する。nilのフィールドは変更しない。
func (s *Service) apply(it *model.Item, input model.ItemInput) error {
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return model.NewValidationError("name", "必須です")
		}
		if utf8.RuneCountInString(name) > maxNameLength {
			return model.NewValidationError("name", "255文字以内で入力してください")
		}
		it.Name = name
	}
	if input.Description != nil {
		it.Description = s.sanitizer.SanitizeDescription(*input.Description)
	}

	urls := []struct {
		in  *string
		out *string
	}{
		{input.ImageURL, &it.ImageURL},
		{input.ProductURL, &it.ProductURL},
		{input.AffiliateURL, &it.AffiliateURL},
	}
	for _, u := range urls {
		if u.in == nil {
			continue
		}
		v := strings.TrimSpace(*u.in)
		// 空文字はURLの削除
		if v != "" {
			if err := validateExternalURL(s.guard, v); err != nil {
				return err
			}
		}
		*u.out = v
	}
	return nil
}
