package item

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hitoshi/rankinge/internal/model"
	"github.com/hitoshi/rankinge/internal/security"
)

// Previewer は商品ページのOGPメタデータからアイテム入力の下書きを作る。
type Previewer struct {
	guard   security.URLGuard
	timeout time.Duration
	maxSize int64
}

// NewPreviewer はPreviewerを生成する。guardがnilの場合は通常のHTTPクライアントを使う（テスト用）。
func NewPreviewer(guard security.URLGuard, timeout time.Duration, maxSize int64) *Previewer {
	return &Previewer{guard: guard, timeout: timeout, maxSize: maxSize}
}

// Preview はproductURLを取得し、タイトル・説明・画像URLを抽出する。
func (p *Previewer) Preview(ctx context.Context, productURL string) (*model.ItemPreview, error) {
	if err := validateExternalURL(p.guard, productURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, productURL, nil)
	if err != nil {
		return nil, model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", "Rankinge/1.0 (+item preview)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := p.client().Do(req)
	if err != nil {
		return nil, model.NewPreviewFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, model.NewPreviewFailedError(fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if !strings.Contains(strings.ToLower(mediaType), "html") {
		return nil, model.NewPreviewFailedError("HTMLではありません: " + mediaType)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewPreviewFailedError(fmt.Sprintf("レスポンスの読み取りに失敗: %v", err))
	}

	preview := ParseOpenGraph(body, productURL)
	// og:imageは後でブラウザから読み込まれるため、内部アドレスを指すものは捨てる
	if preview.ImageURL != "" && p.guard != nil && p.guard.ValidateURL(preview.ImageURL) != nil {
		preview.ImageURL = ""
	}
	return preview, nil
}

func (p *Previewer) client() *http.Client {
	if p.guard != nil {
		return p.guard.NewSafeClient(p.timeout, p.maxSize)
	}
	return &http.Client{Timeout: p.timeout}
}

// ParseOpenGraph はHTMLのheadからog:title、og:description、og:imageを抽出する。
// og:titleがない場合は<title>、og:descriptionがない場合はmeta descriptionを使う。
// 相対URLはbaseURLを基準に解決する。
func ParseOpenGraph(htmlBody []byte, baseURL string) *model.ItemPreview {
	preview := &model.ItemPreview{ProductURL: baseURL}
	var title, description string

	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	inTitle := false

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return finishPreview(preview, title, description, baseURL)

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			switch string(tn) {
			case "body":
				return finishPreview(preview, title, description, baseURL)
			case "title":
				inTitle = true
			case "meta":
				if !hasAttr {
					continue
				}
				key, content := metaAttrs(tokenizer)
				switch key {
				case "og:title":
					preview.Title = content
				case "og:description":
					preview.Description = content
				case "og:image", "og:image:url":
					if preview.ImageURL == "" {
						preview.ImageURL = content
					}
				case "description":
					description = content
				}
			}

		case html.TextToken:
			if inTitle && title == "" {
				title = strings.TrimSpace(string(tokenizer.Text()))
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "title":
				inTitle = false
			case "head":
				return finishPreview(preview, title, description, baseURL)
			}
		}
	}
}

func metaAttrs(tokenizer *html.Tokenizer) (key, content string) {
	for {
		k, v, more := tokenizer.TagAttr()
		switch strings.ToLower(string(k)) {
		case "property", "name":
			if key == "" {
				key = strings.ToLower(string(v))
			}
		case "content":
			content = strings.TrimSpace(string(v))
		}
		if !more {
			return key, content
		}
	}
}

func finishPreview(p *model.ItemPreview, title, description, baseURL string) *model.ItemPreview {
	if p.Title == "" {
		p.Title = title
	}
	if p.Description == "" {
		p.Description = description
	}
	if p.ImageURL != "" {
		p.ImageURL = resolveURL(baseURL, p.ImageURL)
	}
	return p
}

func resolveURL(baseURL, ref string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(r).String()
}

// validateExternalURL は形式が不正ならInvalidURL、内部アドレスを指すならSSRFBlockedを返す。
func validateExternalURL(guard security.URLGuard, raw string) error {
	if raw == "" {
		return model.NewInvalidURLError("URLが入力されていません")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return model.NewInvalidURLError(raw)
	}
	if guard != nil {
		if err := guard.ValidateURL(raw); err != nil {
			return model.NewSSRFBlockedError()
		}
	}
	return nil
}
