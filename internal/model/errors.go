// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, vote, ranking, ai, system
	Action   string // ユーザー向け対処方法
	Cause    error  // 原因となった下位エラー（ログ用。レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。errors.Is/Asで下位エラーを辿れるようにする。
func (e *APIError) Unwrap() error {
	return e.Cause
}

// 定義済みエラーコード
const (
	ErrCodeInvalidTarget          = "INVALID_TARGET"
	ErrCodeUnauthenticated        = "UNAUTHENTICATED"
	ErrCodeForbidden              = "FORBIDDEN"
	ErrCodeTransientStoreFailure  = "TRANSIENT_STORE_FAILURE"
	ErrCodeDataIntegrityViolation = "DATA_INTEGRITY_VIOLATION"
	ErrCodeCategoryNotFound       = "CATEGORY_NOT_FOUND"
	ErrCodeItemNotFound           = "ITEM_NOT_FOUND"
	ErrCodePostNotFound           = "POST_NOT_FOUND"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
	ErrCodeValidationFailed       = "VALIDATION_FAILED"
	ErrCodeInvalidSetting         = "INVALID_SETTING"
	ErrCodeInvalidDisplayMode     = "INVALID_DISPLAY_MODE"
	ErrCodeInvalidURL             = "INVALID_URL"
	ErrCodeSSRFBlocked            = "SSRF_BLOCKED"
	ErrCodeDuplicateSlug          = "DUPLICATE_SLUG"
	ErrCodePreviewFailed          = "PREVIEW_FAILED"
	ErrCodeAIRateLimited          = "AI_RATE_LIMITED"
	ErrCodeAIQuotaExhausted       = "AI_QUOTA_EXHAUSTED"
	ErrCodeAIGenerationFailed     = "AI_GENERATION_FAILED"
	ErrCodeAIDisabled             = "AI_DISABLED"
)

// NewInvalidTargetError は投票・集計対象が不正な場合のエラーを生成する。
// アイテムがカテゴリに属さない、カテゴリが未承認、などの場合に使う。
func NewInvalidTargetError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTarget,
		Message:  fmt.Sprintf("投票対象が不正です: %s", reason),
		Category: "vote",
		Action:   "カテゴリとアイテムの組み合わせを確認してください。",
	}
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewForbiddenError は管理者権限が必要な操作のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者アカウントでログインしてください。",
	}
}

// NewTransientStoreError はデータストアの一時的な障害を表すエラーを生成する。
// 操作全体の再試行で回復できる。
func NewTransientStoreError(op string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeTransientStoreFailure,
		Message:  fmt.Sprintf("データの保存または取得に失敗しました（%s）。", op),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Cause:    cause,
	}
}

// NewDataIntegrityError は投票数の整合性が崩れていることを検出した場合のエラーを生成する。
func NewDataIntegrityError(detail string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeDataIntegrityViolation,
		Message:  fmt.Sprintf("投票数の整合性エラーを検出しました: %s", detail),
		Category: "system",
		Action:   "管理者に連絡してください。",
		Cause:    cause,
	}
}

// NewCategoryNotFoundError はカテゴリ未検出エラーを生成する。
func NewCategoryNotFoundError(idOrSlug string) *APIError {
	return &APIError{
		Code:     ErrCodeCategoryNotFound,
		Message:  fmt.Sprintf("指定されたカテゴリが見つかりません: %s", idOrSlug),
		Category: "ranking",
		Action:   "カテゴリIDを確認してください。",
	}
}

// NewItemNotFoundError はアイテム未検出エラーを生成する。
func NewItemNotFoundError(itemID string) *APIError {
	return &APIError{
		Code:     ErrCodeItemNotFound,
		Message:  fmt.Sprintf("指定されたアイテムが見つかりません: %s", itemID),
		Category: "ranking",
		Action:   "アイテムIDを確認してください。",
	}
}

// NewPostNotFoundError は記事・固定ページ未検出エラーを生成する。
func NewPostNotFoundError(slug string) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("指定されたページが見つかりません: %s", slug),
		Category: "content",
		Action:   "URLを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力値が不正です（%s）: %s", field, reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidSettingError は未知の設定キーまたは不正な設定値のエラーを生成する。
func NewInvalidSettingError(key, value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSetting,
		Message:  fmt.Sprintf("設定値が不正です: %s=%q", key, value),
		Category: "validation",
		Action:   "設定キーと値の組み合わせを確認してください。",
	}
}

// NewInvalidDisplayModeError は不正な表示形式のエラーを生成する。
func NewInvalidDisplayModeError(value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDisplayMode,
		Message:  fmt.Sprintf("表示形式が不正です: %q", value),
		Category: "validation",
		Action:   "percentage、count、bothのいずれかを指定してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。",
	}
}

// NewDuplicateSlugError はスラッグ重複エラーを生成する。
func NewDuplicateSlugError(slug string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateSlug,
		Message:  fmt.Sprintf("スラッグが既に使用されています: %s", slug),
		Category: "validation",
		Action:   "別のスラッグを指定してください。",
	}
}

// NewPreviewFailedError は商品ページのプレビュー取得失敗エラーを生成する。
func NewPreviewFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodePreviewFailed,
		Message:  fmt.Sprintf("商品ページの取得に失敗しました: %s", reason),
		Category: "validation",
		Action:   "URLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewAIRateLimitedError はAI生成のレート制限エラーを生成する。
func NewAIRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeAIRateLimited,
		Message:  "AI生成のリクエストが多すぎます。",
		Category: "ai",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewAIQuotaExhaustedError はAIプロバイダーのクォータ枯渇エラーを生成する。
func NewAIQuotaExhaustedError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeAIQuotaExhausted,
		Message:  "AIプロバイダーの利用上限に達しました。",
		Category: "ai",
		Action:   "プロバイダーの利用枠を確認してください。",
		Cause:    cause,
	}
}

// NewAIGenerationFailedError はAI生成失敗エラーを生成する。
func NewAIGenerationFailedError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeAIGenerationFailed,
		Message:  "AIによるテキスト生成に失敗しました。",
		Category: "ai",
		Action:   "プロンプトを見直して再度お試しください。",
		Cause:    cause,
	}
}

// NewAIDisabledError はAI生成が無効化されている場合のエラーを生成する。
func NewAIDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeAIDisabled,
		Message:  "AI生成は現在無効化されています。",
		Category: "ai",
		Action:   "設定画面でAIプロバイダーを選択してください。",
	}
}
