package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/hitoshi/hourglass/internal/metrics"
	"github.com/hitoshi/hourglass/internal/model"
	"github.com/hitoshi/hourglass/internal/repository"
)

// ExchangeService は交換コードをBearerトークンに引き換える。
type ExchangeService struct {
	tx      repository.Transactor
	store   *TokenStore
	metrics metrics.MetricsCollector
}

// NewExchangeService はExchangeServiceを生成する。
func NewExchangeService(tx repository.Transactor, store *TokenStore, m metrics.MetricsCollector) *ExchangeService {
	if m == nil {
		m = metrics.Nop{}
	}
	return &ExchangeService{tx: tx, store: store, metrics: m}
}

// Redeem はコードを消費し、所有ユーザーのトークンを発行またはローテーションする。
//
// コードの消費とトークンの書き込みは1つのトランザクションで行う。
// 同じコードで同時に引き換えた場合、成功するのは1件だけで残りはINVALID_CODEになる。
// いずれかの段階で失敗した場合トークンは発行されず、コードも消費されない。
func (s *ExchangeService) Redeem(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		s.metrics.RecordCodeRedemption(metrics.ResultInvalid)
		return "", model.NewBadRequestError("code is required")
	}

	var issued *model.IssuedToken
	err := s.tx.WithinTx(ctx, func(ctx context.Context, users repository.UserRepository, tokens repository.TokenRepository) error {
		user, err := users.ConsumeExchangeCode(ctx, HashSecret(code))
		if err != nil {
			return model.NewInternalError(err)
		}
		if user == nil {
			return model.NewInvalidCodeError()
		}

		issued, err = s.store.issueWith(ctx, tokens, user.ID)
		return err
	})
	if err != nil {
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) {
			err = model.NewInternalError(err)
		}
		if model.IsErrorCode(err, model.ErrCodeInvalidCode) {
			s.metrics.RecordCodeRedemption(metrics.ResultInvalid)
		} else {
			s.metrics.RecordCodeRedemption(metrics.ResultFailure)
			slog.Error("code redemption failed", slog.String("error", err.Error()))
		}
		return "", err
	}

	s.store.afterIssue(ctx, issued)
	s.metrics.RecordCodeRedemption(metrics.ResultSuccess)
	return issued.Token, nil
}
