package method

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	errors "github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/plugin"
	"github.com/frahmantamala/payment-orchestration/internal/secret"
)

type Repository interface {
	Create(ctx context.Context, m *Method) error
	GetByKey(ctx context.Context, key string) (*Method, error)
	List(ctx context.Context, enabledOnly bool) ([]*Method, error)
	Update(ctx context.Context, m *Method) error
}

// SettingsStore is the part of the secret store the provider admin uses.
type SettingsStore interface {
	Set(ctx context.Context, methodID int64, key, value string, encrypted bool) error
	Delete(ctx context.Context, methodID int64, key string) error
	All(ctx context.Context, methodID int64) ([]secret.SettingView, error)
	For(methodID int64) *secret.Settings
}

type PluginRegistry interface {
	Has(driver string) bool
	Resolve(driver string, deps plugin.Dependencies) (plugin.Plugin, error)
}

// RuntimeConfig carries what resolved plugins need besides their settings.
type RuntimeConfig struct {
	Orders      plugin.OrderLookup
	HTTPClient  *http.Client
	CallbackURL func(providerKey string) string
}

type ServiceAPI interface {
	Create(ctx context.Context, dto CreateMethodDTO) (*Method, error)
	Update(ctx context.Context, key string, dto UpdateMethodDTO) (*Method, error)
	Get(ctx context.Context, key string) (*Method, error)
	List(ctx context.Context) ([]*Method, error)
	Schema(ctx context.Context, key string) (*SchemaResponse, error)
	Settings(ctx context.Context, key string) ([]secret.SettingView, error)
	PutSettings(ctx context.Context, key string, values map[string]string) ([]secret.SettingView, error)
	Validate(ctx context.Context, key string) (*ValidationResponse, error)
}

type Service struct {
	repo     Repository
	settings SettingsStore
	registry PluginRegistry
	runtime  RuntimeConfig
	logger   *slog.Logger
}

func NewService(repo Repository, settings SettingsStore, registry PluginRegistry, runtime RuntimeConfig, logger *slog.Logger) *Service {
	if runtime.HTTPClient == nil {
		runtime.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Service{
		repo:     repo,
		settings: settings,
		registry: registry,
		runtime:  runtime,
		logger:   logger,
	}
}

func (s *Service) Create(ctx context.Context, dto CreateMethodDTO) (*Method, error) {
	dto.Key = NormalizeKey(dto.Key)
	dto.Driver = NormalizeKey(dto.Driver)
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetByKey(ctx, dto.Key); err == nil {
		return nil, errors.ErrMethodExists
	} else if !errors.IsType(err, errors.ErrorTypeNotFound) {
		return nil, err
	}

	now := time.Now()
	m := &Method{
		Key:         dto.Key,
		Driver:      dto.Driver,
		Name:        dto.Name,
		Description: dto.Description,
		Enabled:     dto.Enabled,
		SortOrder:   dto.SortOrder,
		FlatFee:     dto.FlatFee,
		PercentFee:  dto.PercentFee,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		s.logger.Error("failed to create payment method", "method_key", m.Key, "error", err)
		return nil, errors.NewInternalError("failed to create payment method", err)
	}
	// an unknown driver is allowed here and reported when the method is used
	if !s.registry.Has(m.Driver) {
		s.logger.Warn("payment method bound to an unregistered driver", "method_key", m.Key, "driver", m.Driver)
	}
	s.logger.Info("payment method created", "method_key", m.Key, "driver", m.Driver, "enabled", m.Enabled)
	return m, nil
}

func (s *Service) Update(ctx context.Context, key string, dto UpdateMethodDTO) (*Method, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	m, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	dto.apply(m)
	m.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, m); err != nil {
		s.logger.Error("failed to update payment method", "method_key", m.Key, "error", err)
		return nil, errors.NewInternalError("failed to update payment method", err)
	}
	s.logger.Info("payment method updated", "method_key", m.Key, "enabled", m.Enabled)
	return m, nil
}

func (s *Service) Get(ctx context.Context, key string) (*Method, error) {
	key = NormalizeKey(key)
	if key == "" {
		return nil, errors.ErrMethodNotFound
	}
	return s.repo.GetByKey(ctx, key)
}

// List returns every method ordered for display.
func (s *Service) List(ctx context.Context) ([]*Method, error) {
	methods, err := s.repo.List(ctx, false)
	if err != nil {
		return nil, err
	}
	SortForDisplay(methods)
	return methods, nil
}

func (s *Service) ListEnabled(ctx context.Context) ([]*Method, error) {
	methods, err := s.repo.List(ctx, true)
	if err != nil {
		return nil, err
	}
	SortForDisplay(methods)
	return methods, nil
}

// SortForDisplay orders by sort order then key.
func SortForDisplay(methods []*Method) {
	sort.SliceStable(methods, func(i, j int) bool {
		if methods[i].SortOrder != methods[j].SortOrder {
			return methods[i].SortOrder < methods[j].SortOrder
		}
		return methods[i].Key < methods[j].Key
	})
}

// Plugin resolves the plugin bound to m with its settings and runtime wired in.
func (s *Service) Plugin(m *Method) (plugin.Plugin, error) {
	deps := plugin.Dependencies{
		ProviderKey: m.Key,
		Settings:    s.settings.For(m.ID),
		Orders:      s.runtime.Orders,
		HTTPClient:  s.runtime.HTTPClient,
		Logger:      s.logger.With("method_key", m.Key),
	}
	if s.runtime.CallbackURL != nil {
		deps.CallbackURL = s.runtime.CallbackURL(m.Key)
	}
	p, err := s.registry.Resolve(m.Driver, deps)
	if err != nil {
		s.logger.Error("failed to resolve plugin", "method_key", m.Key, "driver", m.Driver, "error", err)
		return nil, err
	}
	return p, nil
}

func (s *Service) Schema(ctx context.Context, key string) (*SchemaResponse, error) {
	m, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	p, err := s.Plugin(m)
	if err != nil {
		return nil, err
	}
	return &SchemaResponse{
		Key:        m.Key,
		Driver:     m.Driver,
		Plugin:     p.Describe(),
		Fields:     p.ConfigurationSchema(),
		Refundable: p.SupportsRefunds(),
	}, nil
}

func (s *Service) Settings(ctx context.Context, key string) ([]secret.SettingView, error) {
	m, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.settings.All(ctx, m.ID)
}

// PutSettings writes the given values. Keys must belong to the plugin's
// schema and encryption follows the field definition. An empty value removes
// the key; the mask echoed back from a read leaves a secret unchanged.
func (s *Service) PutSettings(ctx context.Context, key string, values map[string]string) ([]secret.SettingView, error) {
	m, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	p, err := s.Plugin(m)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]plugin.Field)
	for _, f := range p.ConfigurationSchema() {
		fields[f.Key] = f
	}
	keys := make([]string, 0, len(values))
	for rawKey := range values {
		k := strings.ToLower(strings.TrimSpace(rawKey))
		f, ok := fields[k]
		if !ok {
			return nil, errors.NewValidationFieldError(k, "unknown setting "+k, errors.ErrCodeValidationFailed)
		}
		if v := values[rawKey]; v != "" && f.Type == plugin.FieldSelect && len(f.Options) > 0 && !contains(f.Options, v) {
			return nil, errors.NewValidationFieldError(k, k+" must be one of "+strings.Join(f.Options, ", "), errors.ErrCodeValidationFailed)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for rawKey, value := range values {
		k := strings.ToLower(strings.TrimSpace(rawKey))
		f := fields[k]
		if value == secret.Mask && f.IsEncrypted() {
			continue
		}
		if value == "" {
			if err := s.settings.Delete(ctx, m.ID, k); err != nil {
				return nil, errors.NewInternalError("failed to delete setting", err)
			}
			continue
		}
		if err := s.settings.Set(ctx, m.ID, k, value, f.IsEncrypted()); err != nil {
			s.logger.Error("failed to store setting", "method_key", m.Key, "setting_key", k, "error", err)
			return nil, err
		}
	}
	s.logger.Info("payment method settings updated", "method_key", m.Key, "setting_keys", keys)
	return s.settings.All(ctx, m.ID)
}

// Validate reports whether the stored configuration satisfies the plugin.
func (s *Service) Validate(ctx context.Context, key string) (*ValidationResponse, error) {
	m, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	p, err := s.Plugin(m)
	if err != nil {
		return nil, err
	}
	return &ValidationResponse{Key: m.Key, Valid: p.ValidateConfiguration(ctx)}, nil
}

func contains(options []string, value string) bool {
	for _, o := range options {
		if o == value {
			return true
		}
	}
	return false
}
