// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/rankinge/internal/model"
)

var (
	// ErrVoteCountUnderflow は vote_count を負にしようとした場合のエラー。
	// 投票数と投票行の整合性が崩れていることを示す。
	ErrVoteCountUnderflow = errors.New("vote_count would become negative")

	// ErrNotFound は更新対象の行が存在しない場合のエラー。
	// 検索系メソッドはこのエラーを返さず nil, nil を返す。
	ErrNotFound = errors.New("row not found")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// List はユーザー一覧を作成日時の降順で返す。
	List(ctx context.Context, limit, offset int) ([]*model.User, error)

	// UpdateRole はユーザーの権限を更新する。対象がない場合はErrNotFound。
	UpdateRole(ctx context.Context, id string, role model.Role) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessionsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteByUserID(ctx context.Context, userID string) error
}

// CategoryFilter はカテゴリ一覧の絞り込み条件。ゼロ値は全件。
type CategoryFilter struct {
	Status   model.ApprovalStatus
	GroupTag string
	ParentID string
}

// CategoryRepository はカテゴリデータの永続化インターフェース。
type CategoryRepository interface {
	// FindByID は指定IDのカテゴリを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Category, error)

	// FindBySlug はスラッグでカテゴリを検索する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Category, error)

	// List は条件に合うカテゴリを名前順で返す。
	List(ctx context.Context, filter CategoryFilter) ([]*model.Category, error)

	Create(ctx context.Context, category *model.Category) error

	// Update はカテゴリ属性を上書き更新する。
	Update(ctx context.Context, category *model.Category) error

	// Delete はカテゴリを削除する。items、votes、ranking_snapshotsはCASCADE削除される。
	Delete(ctx context.Context, id string) error
}

// ItemRepository はアイテムデータの永続化インターフェース。
// vote_countはVoteTxとAdjustVoteCount以外から変更しない。
type ItemRepository interface {
	// FindByID は指定IDのアイテムを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Item, error)

	// ListByCategory はカテゴリ内の全アイテムをvote_count降順、id昇順で返す。
	// 1回のSELECTで読むため、結果は同一時点の値になる。
	ListByCategory(ctx context.Context, categoryID string) ([]*model.Item, error)

	Create(ctx context.Context, item *model.Item) error

	// Update はvote_count以外の属性を更新する。
	Update(ctx context.Context, item *model.Item) error

	Delete(ctx context.Context, id string) error

	// AdjustVoteCount はvote_countをdelta分だけ原子的に増減し、新しい値を返す。
	// 負になる場合はErrVoteCountUnderflow、アイテムがない場合はErrNotFound。
	AdjustVoteCount(ctx context.Context, itemID string, delta int) (int, error)

	// RecountByCategory はカテゴリ内の全アイテムのvote_countをvotesテーブルから再計算する。
	// 値が変わったアイテムの数を返す。
	RecountByCategory(ctx context.Context, categoryID string) (int64, error)
}

// VoteRepository は投票データの永続化インターフェース。
type VoteRepository interface {
	// FindByUserAndCategory はユーザーのカテゴリ内の投票を取得する。見つからない場合はnilを返す。
	FindByUserAndCategory(ctx context.Context, userID, categoryID string) (*model.Vote, error)

	// ListByUser はユーザーの全投票を返す。
	ListByUser(ctx context.Context, userID string) ([]*model.Vote, error)

	// CountByCategory はカテゴリ内の投票数を返す。
	CountByCategory(ctx context.Context, categoryID string) (int, error)

	// WithinTx はfnを1つのトランザクション内で実行する。
	// fnがエラーを返した場合はロールバックし、そのエラーを返す。
	WithinTx(ctx context.Context, fn func(tx VoteTx) error) error
}

// VoteTx はトランザクション内で行う投票の操作。
type VoteTx interface {
	// LockVote は (user, category) の投票を行ロック付きで取得する。見つからない場合はnilを返す。
	LockVote(ctx context.Context, userID, categoryID string) (*model.Vote, error)

	// InsertVote は投票を挿入する。UNIQUE(user_id, category_id)で競合した場合はfalseを返す。
	InsertVote(ctx context.Context, vote *model.Vote) (bool, error)

	// UpdateVoteItem は投票先のアイテムを変更する。
	UpdateVoteItem(ctx context.Context, voteID, itemID string, at time.Time) error

	DeleteVote(ctx context.Context, voteID string) error

	// AdjustVoteCount はItemRepository.AdjustVoteCountと同じ規約でvote_countを増減する。
	AdjustVoteCount(ctx context.Context, itemID string, delta int) (int, error)
}

// SnapshotRepository はランキングスナップショットの永続化インターフェース。
// スナップショットは追記のみで更新しない。
type SnapshotRepository interface {
	// InsertBatch は同一タイムスタンプの行をまとめて挿入する。
	InsertBatch(ctx context.Context, rows []model.RankingSnapshot) error

	// ListRecentBatches はカテゴリの最新batches件のバッチを新しい順に返す。
	// バッチは常に全行を返す。新しいバッチの行数の合計がmaxRowsに達したら、それより古いバッチは読まない。
	ListRecentBatches(ctx context.Context, categoryID string, batches, maxRows int) ([]model.SnapshotBatch, error)
}

// SettingRepository はアプリ設定の永続化インターフェース。
type SettingRepository interface {
	// Get は指定キーの設定を取得する。見つからない場合はnilを返す。
	Get(ctx context.Context, key string) (*model.AppSetting, error)
	List(ctx context.Context) ([]*model.AppSetting, error)
	// Upsert は設定を後勝ちで保存する。
	Upsert(ctx context.Context, key, value string) (*model.AppSetting, error)
}

// PostRepository はブログ記事・固定ページの永続化インターフェース。
type PostRepository interface {
	// FindBySlug は種別とスラッグで記事を取得する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, kind model.PostKind, slug string) (*model.Post, error)
	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)
	// List は記事一覧を作成日時の降順で返す。publishedOnlyがtrueなら公開済みのみ。
	List(ctx context.Context, kind model.PostKind, publishedOnly bool) ([]*model.Post, error)
	Create(ctx context.Context, post *model.Post) error
	Update(ctx context.Context, post *model.Post) error
	Delete(ctx context.Context, id string) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
