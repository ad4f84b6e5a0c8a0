// Package cleanup は期限切れ認証情報の定期削除ジョブを提供する。
// 交換コードは期限切れでも消費できないが、行に残り続けないよう定期的にクリアする。
// TOKEN_TTLが0の場合、期限切れトークンは存在しないため削除件数は常に0になる。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// CodeCleaner は期限切れ交換コードをクリアする。
// repository.UserRepositoryの部分集合として定義する。
type CodeCleaner interface {
	ClearExpiredExchangeCodes(ctx context.Context) (int64, error)
}

// TokenCleaner は期限切れBearerトークンを削除する。
// repository.TokenRepositoryの部分集合として定義する。
type TokenCleaner interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は期限切れの交換コードとBearerトークンを削除するジョブ。
// 冪等: 削除対象がない場合でもエラーにならない。
type CleanupJob struct {
	codes  CodeCleaner
	tokens TokenCleaner
	logger *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(codes CodeCleaner, tokens TokenCleaner, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		codes:  codes,
		tokens: tokens,
		logger: logger,
	}
}

// Run は1回分のクリーンアップを実行する。
// 片方が失敗してももう片方は実行し、両方のエラーをまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	clearedCodes, codeErr := j.codes.ClearExpiredExchangeCodes(ctx)
	if codeErr != nil {
		j.logger.Error("failed to clear expired exchange codes", slog.String("error", codeErr.Error()))
		codeErr = fmt.Errorf("exchange code cleanup failed: %w", codeErr)
	}

	deletedTokens, tokenErr := j.tokens.DeleteExpired(ctx)
	if tokenErr != nil {
		j.logger.Error("failed to delete expired tokens", slog.String("error", tokenErr.Error()))
		tokenErr = fmt.Errorf("token cleanup failed: %w", tokenErr)
	}

	if err := errors.Join(codeErr, tokenErr); err != nil {
		return err
	}

	j.logger.Info("cleanup job completed",
		slog.Int64("cleared_codes", clearedCodes),
		slog.Int64("deleted_tokens", deletedTokens),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回実行し、以降intervalごとにRunを繰り返す。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("cleanup job stopped")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

// runLogged はRunのエラーをログに留め、ループを止めない。
func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Warn("cleanup run failed, retrying next interval", slog.String("error", err.Error()))
	}
}
