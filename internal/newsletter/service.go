// Package newsletter はニュースレター購読の登録を提供する。
package newsletter

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/hitoshi/hourglass/internal/model"
	"github.com/hitoshi/hourglass/internal/repository"
)

// emailPattern は local@domain.tld の最低限の形式。
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const maxEmailLength = 254

// MXLookupFunc はドメインのMXレコードを解決する。
type MXLookupFunc func(ctx context.Context, domain string) ([]*net.MX, error)

// Service はメールアドレスを検証して購読者を登録する。
type Service struct {
	subscribers repository.SubscriberRepository
	lookupMX    MXLookupFunc
}

// NewService はServiceを生成する。lookupMXがnilの場合はnet.DefaultResolverを使う。
func NewService(subscribers repository.SubscriberRepository, lookupMX MXLookupFunc) *Service {
	if lookupMX == nil {
		lookupMX = net.DefaultResolver.LookupMX
	}
	return &Service{subscribers: subscribers, lookupMX: lookupMX}
}

// Subscribe はメールアドレスを検証し、購読者として登録する。
func (s *Service) Subscribe(ctx context.Context, email string) (*model.Subscriber, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, model.NewBadRequestError("Email is required")
	}

	if err := s.validate(ctx, email); err != nil {
		return nil, err
	}

	subscriber := &model.Subscriber{Email: email}
	if err := s.subscribers.Create(ctx, subscriber); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewAlreadySubscribedError()
		}
		return nil, model.NewInternalError(err)
	}

	slog.Info("newsletter subscribed", slog.String("subscriber_id", subscriber.ID))
	return subscriber, nil
}

// validate は形式・公開サフィックス・MXレコードの順に検証する。
func (s *Service) validate(ctx context.Context, email string) error {
	if len(email) > maxEmailLength || !emailPattern.MatchString(email) {
		return model.NewInvalidEmailError("Invalid email format")
	}

	domain := email[strings.LastIndexByte(email, '@')+1:]
	if _, icann := publicsuffix.PublicSuffix(domain); !icann {
		return model.NewInvalidEmailError("Invalid email domain")
	}
	if _, err := publicsuffix.EffectiveTLDPlusOne(domain); err != nil {
		return model.NewInvalidEmailError("Invalid email domain")
	}

	records, err := s.lookupMX(ctx, domain)
	if err != nil || len(records) == 0 {
		if err != nil {
			slog.Debug("mx lookup failed", slog.String("domain", domain), slog.String("error", err.Error()))
		}
		return model.NewInvalidEmailError("Domain does not have valid mail server (MX record not found)")
	}
	return nil
}
