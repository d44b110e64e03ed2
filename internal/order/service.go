package order

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	errors "github.com/frahmantamala/payment-orchestration/internal"
)

// Repository is the Order Store. Update loads the order, applies mutate and
// writes it back with an optimistic version check, retrying on conflicts, so
// mutate may run more than once and must only depend on the order it is given.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByCode(ctx context.Context, code string) (*Order, error)
	FindByRemoteID(ctx context.Context, providerKey, remoteID string) (*Order, error)
	Update(ctx context.Context, code string, mutate func(o *Order) error) (*Order, error)
}

type ServiceAPI interface {
	Create(ctx context.Context, dto CreateOrderDTO) (*Order, error)
	Get(ctx context.Context, code string) (*Order, error)
}

type Service struct {
	repo            Repository
	hooks           HookRegistry
	defaultCurrency string
	logger          *slog.Logger
	now             func() time.Time
}

func NewService(repo Repository, hooks HookRegistry, defaultCurrency string, logger *slog.Logger) *Service {
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}
	return &Service{
		repo:            repo,
		hooks:           hooks,
		defaultCurrency: strings.ToUpper(defaultCurrency),
		logger:          logger,
		now:             time.Now,
	}
}

// NewOrder builds a pending order from a validated request.
func NewOrder(dto CreateOrderDTO, now time.Time) *Order {
	o := &Order{
		Code:          uuid.NewString(),
		Amount:        dto.Amount,
		Currency:      dto.Currency,
		Status:        StatusPending,
		Description:   dto.Description,
		CustomerName:  dto.Customer.Name,
		CustomerEmail: dto.Customer.Email,
		CustomerPhone: dto.Customer.Phone,
		CustomerData:  cloneMap(dto.Customer.Data),
		Metadata:      merchantMetadata(dto.Metadata),
		SuccessHook:   dto.SuccessHook,
		FailureHook:   dto.FailureHook,
		SuccessURL:    dto.SuccessURL,
		FailureURL:    dto.FailureURL,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, p := range dto.IgnoredProviders {
		o.Ignore(p)
	}
	return o
}

func (s *Service) Create(ctx context.Context, dto CreateOrderDTO) (*Order, error) {
	dto.Currency = strings.ToUpper(strings.TrimSpace(dto.Currency))
	if dto.Currency == "" {
		dto.Currency = s.defaultCurrency
	}
	if err := dto.Validate(s.hooks); err != nil {
		s.logger.Warn("order validation failed", "error", err)
		return nil, err
	}

	o := NewOrder(dto, s.now())
	if err := s.repo.Create(ctx, o); err != nil {
		s.logger.Error("failed to create order", "error", err)
		return nil, errors.NewInternalError("failed to create order", err)
	}

	s.logger.Info("order created",
		"order_code", o.Code,
		"amount", o.AmountString(),
		"currency", o.Currency)
	return o, nil
}

func (s *Service) Get(ctx context.Context, code string) (*Order, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errors.ErrOrderNotFound
	}
	o, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return o, nil
}
