package content

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
)

const (
	maxTitleLength   = 255
	maxSlugSuffixTry = 100
)

// Service はブログ記事・固定ページの作成、更新、公開を扱う。
// 未公開の記事は管理者にだけ見える。
type Service struct {
	repo     repository.PostRepository
	renderer *Renderer
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.PostRepository, renderer *Renderer) *Service {
	return &Service{repo: repo, renderer: renderer, now: time.Now}
}

// List は記事一覧を新しい順に返す。includeDraftsがfalseなら公開済みのみ。
func (s *Service) List(ctx context.Context, kind model.PostKind, includeDrafts bool) ([]*model.Post, error) {
	posts, err := s.repo.List(ctx, kind, !includeDrafts)
	if err != nil {
		return nil, model.NewTransientStoreError("list posts", err)
	}
	return posts, nil
}

// GetBySlug は種別とスラッグで記事を取得する。
func (s *Service) GetBySlug(ctx context.Context, kind model.PostKind, postSlug string, includeDrafts bool) (*model.Post, error) {
	p, err := s.repo.FindBySlug(ctx, kind, postSlug)
	if err != nil {
		return nil, model.NewTransientStoreError("get post", err)
	}
	if p == nil || (!p.Published && !includeDrafts) {
		return nil, model.NewPostNotFoundError(postSlug)
	}
	return p, nil
}

// Create は記事を作成する。スラッグ省略時はタイトルから生成する。
func (s *Service) Create(ctx context.Context, input model.PostInput) (*model.Post, error) {
	kind := model.PostBlog
	if input.Kind != nil {
		parsed, err := model.ParsePostKind(string(*input.Kind))
		if err != nil {
			return nil, model.NewValidationError("kind", "blogまたはpageを指定してください")
		}
		kind = parsed
	}
	if input.Title == nil {
		return nil, model.NewValidationError("title", "必須です")
	}

	now := s.now().UTC()
	p := &model.Post{
		ID:        uuid.NewString(),
		Kind:      kind,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.apply(ctx, p, input); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, model.NewTransientStoreError("create post", err)
	}
	return p, nil
}

// Update は記事を部分更新する。本文が変わればHTMLを再生成する。
func (s *Service) Update(ctx context.Context, id string, input model.PostInput) (*model.Post, error) {
	p, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, p, input); err != nil {
		return nil, err
	}
	p.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, model.NewTransientStoreError("update post", err)
	}
	return p, nil
}

// Delete は記事を削除する。
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.find(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return model.NewTransientStoreError("delete post", err)
	}
	return nil
}

func (s *Service) find(ctx context.Context, id string) (*model.Post, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, model.NewTransientStoreError("get post", err)
	}
	if p == nil {
		return nil, model.NewPostNotFoundError(id)
	}
	return p, nil
}

func (s *Service) apply(ctx context.Context, p *model.Post, input model.PostInput) error {
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return model.NewValidationError("title", "必須です")
		}
		if utf8.RuneCountInString(title) > maxTitleLength {
			return model.NewValidationError("title", "255文字以内で入力してください")
		}
		p.Title = title
	}
	if input.Body != nil {
		rendered, err := s.renderer.Render(*input.Body)
		if err != nil {
			return model.NewValidationError("body", err.Error())
		}
		p.BodyMarkdown = *input.Body
		p.BodyHTML = rendered
	}
	if input.Published != nil {
		p.Published = *input.Published
	}

	if input.Slug != nil && strings.TrimSpace(*input.Slug) != "" {
		requested := strings.TrimSpace(*input.Slug)
		if !slug.IsSlug(requested) {
			return model.NewValidationError("slug", "英小文字・数字・ハイフンのみ使用できます")
		}
		if requested != p.Slug {
			existing, err := s.repo.FindBySlug(ctx, p.Kind, requested)
			if err != nil {
				return model.NewTransientStoreError("check slug", err)
			}
			if existing != nil && existing.ID != p.ID {
				return model.NewDuplicateSlugError(requested)
			}
			p.Slug = requested
		}
		return nil
	}
	if p.Slug == "" {
		generated, err := s.uniqueSlug(ctx, p)
		if err != nil {
			return err
		}
		p.Slug = generated
	}
	return nil
}

func (s *Service) uniqueSlug(ctx context.Context, p *model.Post) (string, error) {
	base := slug.Make(p.Title)
	if base == "" {
		base = string(p.Kind) + "-" + p.ID[:8]
	}
	candidate := base
	for n := 2; n <= maxSlugSuffixTry+1; n++ {
		existing, err := s.repo.FindBySlug(ctx, p.Kind, candidate)
		if err != nil {
			return "", model.NewTransientStoreError("check slug", err)
		}
		if existing == nil || existing.ID == p.ID {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
	return "", model.NewDuplicateSlugError(base)
}
