package changefeed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/rankinge/internal/model"
)

// itemPayload はnotify_item_change()トリガーが送るJSONの形。
// ペイロードの大きさを抑えるためdescriptionは含まれない。
type itemPayload struct {
	Op           string    `json:"op"`
	ID           string    `json:"id"`
	CategoryID   string    `json:"category_id"`
	Name         string    `json:"name"`
	ImageURL     *string   `json:"image_url"`
	ProductURL   *string   `json:"product_url"`
	AffiliateURL *string   `json:"affiliate_url"`
	VoteCount    int       `json:"vote_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ParsePayload はNOTIFYのペイロードをItemEventに変換する。
func ParsePayload(raw string) (model.ItemEvent, error) {
	var p itemPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return model.ItemEvent{}, fmt.Errorf("failed to decode item change payload: %w", err)
	}

	kind, err := model.ParseChangeKind(p.Op)
	if err != nil {
		return model.ItemEvent{}, err
	}
	if p.ID == "" || p.CategoryID == "" {
		return model.ItemEvent{}, fmt.Errorf("item change payload lacks id or category_id")
	}
	if p.VoteCount < 0 {
		return model.ItemEvent{}, fmt.Errorf("item change payload has negative vote_count: %d", p.VoteCount)
	}

	return model.ItemEvent{
		Kind: kind,
		Item: model.Item{
			ID:           p.ID,
			CategoryID:   p.CategoryID,
			Name:         p.Name,
			ImageURL:     deref(p.ImageURL),
			ProductURL:   deref(p.ProductURL),
			AffiliateURL: deref(p.AffiliateURL),
			VoteCount:    p.VoteCount,
			CreatedAt:    p.CreatedAt,
			UpdatedAt:    p.UpdatedAt,
		},
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
