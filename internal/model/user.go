// Package model はドメインモデルを定義する。
package model

import "time"

// ProviderGoogle は現在のデプロイで唯一利用するIdPの識別子。
const ProviderGoogle = "google"

// User はサービス利用ユーザーを表す。
// (Provider, SubjectID) の組でIdP上のアカウントと1対1に対応する。
type User struct {
	ID          string
	Provider    string
	SubjectID   string
	Email       string
	DisplayName string
	AvatarURL   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProviderIdentity はIdPのハンドシェイク完了後に得られる検証済みの本人情報。
// コアはこの値を完全に信頼し、署名の再検証は行わない。
type ProviderIdentity struct {
	Provider    string
	SubjectID   string
	Email       string
	DisplayName string
	AvatarURL   *string
	// FallbackAvatarURL はAvatarURLがなく、保存済みの画像もない場合にだけ使う。
	FallbackAvatarURL string
}

// BearerToken はユーザーごとに高々1件だけ存在するAPI認証情報。
// トークン本体は保存せず、SHA-256ダイジェストのみを保持する。
type BearerToken struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	RotatedAt time.Time
	ExpiresAt *time.Time
}

// IssuedToken はIssueOrRotateの結果。
// PreviousHash はローテーションで無効化されたトークンのダイジェスト（新規発行時は空）。
type IssuedToken struct {
	Token        string
	UserID       string
	PreviousHash string
}

// Subscriber はニュースレター購読者を表す。
type Subscriber struct {
	ID        string
	Email     string
	CreatedAt time.Time
}
