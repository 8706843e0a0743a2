package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/rankinge/internal/model"
)

type mockPostService struct {
	listFn      func(ctx context.Context, kind model.PostKind, includeDrafts bool) ([]*model.Post, error)
	getBySlugFn func(ctx context.Context, kind model.PostKind, slug string, includeDrafts bool) (*model.Post, error)
	createFn    func(ctx context.Context, input model.PostInput) (*model.Post, error)
	updateFn    func(ctx context.Context, id string, input model.PostInput) (*model.Post, error)
	deleteFn    func(ctx context.Context, id string) error
}

func (m *mockPostService) List(ctx context.Context, kind model.PostKind, includeDrafts bool) ([]*model.Post, error) {
	if m.listFn != nil {
		return m.listFn(ctx, kind, includeDrafts)
	}
	return nil, nil
}

func (m *mockPostService) GetBySlug(ctx context.Context, kind model.PostKind, slug string, includeDrafts bool) (*model.Post, error) {
	if m.getBySlugFn != nil {
		return m.getBySlugFn(ctx, kind, slug, includeDrafts)
	}
	return nil, model.NewPostNotFoundError(slug)
}

func (m *mockPostService) Create(ctx context.Context, input model.PostInput) (*model.Post, error) {
	if m.createFn != nil {
		return m.createFn(ctx, input)
	}
	return nil, nil
}

func (m *mockPostService) Update(ctx context.Context, id string, input model.PostInput) (*model.Post, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, input)
	}
	return nil, nil
}

func (m *mockPostService) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func samplePost() *model.Post {
	return &model.Post{
		ID:           "p1",
		Kind:         model.PostBlog,
		Slug:         "hello",
		Title:        "Hello",
		BodyMarkdown: "# Hello",
		BodyHTML:     "<h1>Hello</h1>",
		Published:    true,
	}
}

func TestPostHandler_List_DraftsOnlyForAdmin(t *testing.T) {
	tests := []struct {
		name       string
		viewer     *model.User
		wantDrafts bool
	}{
		{"匿名", nil, false},
		{"一般ユーザー", testUser, false},
		{"管理者", testAdmin, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotDrafts bool
			var gotKind model.PostKind
			h := NewPostHandler(&mockPostService{
				listFn: func(ctx context.Context, kind model.PostKind, includeDrafts bool) ([]*model.Post, error) {
					gotKind, gotDrafts = kind, includeDrafts
					return []*model.Post{samplePost()}, nil
				},
			})

			w := httptest.NewRecorder()
			h.List(w, newRequest(http.MethodGet, "/api/posts?kind=page", "", tt.viewer, nil))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if gotKind != model.PostPage {
				t.Errorf("kind = %q, want page", gotKind)
			}
			if gotDrafts != tt.wantDrafts {
				t.Errorf("includeDrafts = %v, want %v", gotDrafts, tt.wantDrafts)
			}

			var body struct {
				Posts []postResponse `json:"posts"`
			}
			decodeBody(t, w, &body)
			if hasSource := body.Posts[0].BodyMarkdown != ""; hasSource != tt.wantDrafts {
				t.Errorf("body_markdown exposed = %v", hasSource)
			}
		})
	}
}

func TestPostHandler_List_InvalidKind(t *testing.T) {
	h := NewPostHandler(&mockPostService{})

	w := httptest.NewRecorder()
	h.List(w, newRequest(http.MethodGet, "/api/posts?kind=news", "", nil, nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestPostHandler_Get_NotFound(t *testing.T) {
	h := NewPostHandler(&mockPostService{})

	w := httptest.NewRecorder()
	h.Get(w, newRequest(http.MethodGet, "/api/posts/missing", "", nil, map[string]string{"slug": "missing"}))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestPostHandler_Create(t *testing.T) {
	var got model.PostInput
	h := NewPostHandler(&mockPostService{
		createFn: func(ctx context.Context, input model.PostInput) (*model.Post, error) {
			got = input
			return samplePost(), nil
		},
	})

	w := httptest.NewRecorder()
	h.Create(w, newRequest(http.MethodPost, "/api/admin/posts",
		`{"kind":"blog","title":"Hello","body":"# Hello","published":true}`, testAdmin, nil))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body=%s)", w.Code, w.Body.String())
	}
	if got.Kind == nil || *got.Kind != model.PostBlog || got.Slug != nil {
		t.Errorf("input = %+v", got)
	}
	var resp postResponse
	decodeBody(t, w, &resp)
	if resp.BodyHTML != "<h1>Hello</h1>" {
		t.Errorf("body_html = %q", resp.BodyHTML)
	}
}

func TestPostHandler_UpdateAndDelete(t *testing.T) {
	h := NewPostHandler(&mockPostService{
		updateFn: func(ctx context.Context, id string, input model.PostInput) (*model.Post, error) {
			return nil, model.NewDuplicateSlugError(*input.Slug)
		},
		deleteFn: func(ctx context.Context, id string) error {
			return model.NewPostNotFoundError(id)
		},
	})
	params := map[string]string{"id": "p1"}

	w := httptest.NewRecorder()
	h.Update(w, newRequest(http.MethodPatch, "/api/admin/posts/p1", `{"slug":"taken"}`, testAdmin, params))
	if w.Code != http.StatusConflict {
		t.Errorf("update status = %d, want 409", w.Code)
	}

	w = httptest.NewRecorder()
	h.Delete(w, newRequest(http.MethodDelete, "/api/admin/posts/p1", "", testAdmin, params))
	if w.Code != http.StatusNotFound {
		t.Errorf("delete status = %d, want 404", w.Code)
	}
}
