package auth

import (
	"context"
	"strings"

	"github.com/hitoshi/hourglass/internal/metrics"
	"github.com/hitoshi/hourglass/internal/model"
)

// BearerResolver はAuthorizationヘッダーのBearerトークンからユーザーを解決する。
type BearerResolver struct {
	store     *TokenStore
	directory *Directory
	metrics   metrics.MetricsCollector
}

// NewBearerResolver はBearerResolverを生成する。
func NewBearerResolver(store *TokenStore, directory *Directory, m metrics.MetricsCollector) *BearerResolver {
	if m == nil {
		m = metrics.Nop{}
	}
	return &BearerResolver{store: store, directory: directory, metrics: m}
}

// Resolve はヘッダー値を解析してトークンの所有ユーザーを返す。
// ヘッダーの欠落・不正・未知のトークンはいずれもUNAUTHENTICATEDになる。
func (r *BearerResolver) Resolve(ctx context.Context, header string) (*model.User, error) {
	token, ok := ParseBearer(header)
	if !ok {
		r.metrics.RecordBearerResolution(metrics.ResultInvalid)
		return nil, model.NewUnauthenticatedError("Missing or malformed bearer token")
	}

	userID, err := r.store.LookupByToken(ctx, token)
	if err != nil {
		r.metrics.RecordBearerResolution(metrics.ResultFailure)
		return nil, err
	}
	if userID == "" {
		r.metrics.RecordBearerResolution(metrics.ResultInvalid)
		return nil, model.NewUnauthenticatedError("Invalid bearer token")
	}

	user, err := r.directory.FindByID(ctx, userID)
	if err != nil {
		r.metrics.RecordBearerResolution(metrics.ResultFailure)
		return nil, err
	}

	r.metrics.RecordBearerResolution(metrics.ResultSuccess)
	return user, nil
}

// ParseBearer は "Bearer <token>" 形式のヘッダーからトークンを取り出す。
// スキーム名は大文字小文字を区別しない。
func ParseBearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}
