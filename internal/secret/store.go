package secret

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	errors "github.com/frahmantamala/payment-orchestration/internal"
)

const Mask = "********"

var ErrSettingNotFound = stderrors.New("secret: setting not found")

type Setting struct {
	MethodID  int64
	Key       string
	Value     string
	Encrypted bool
}

type Repository interface {
	Get(ctx context.Context, methodID int64, key string) (*Setting, error)
	List(ctx context.Context, methodID int64) ([]*Setting, error)
	Upsert(ctx context.Context, s *Setting) error
	Delete(ctx context.Context, methodID int64, key string) error
}

// SettingView is the admin projection of a setting; encrypted values are masked.
type SettingView struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Encrypted bool   `json:"encrypted"`
}

// Store is the only path through which provider secrets are read or written.
type Store struct {
	repo   Repository
	cipher Cipher
	logger *slog.Logger
}

func NewStore(repo Repository, cipher Cipher, logger *slog.Logger) *Store {
	return &Store{repo: repo, cipher: cipher, logger: logger}
}

// Get returns the plaintext value or def when the key is not configured.
func (s *Store) Get(ctx context.Context, methodID int64, key, def string) (string, error) {
	setting, err := s.repo.Get(ctx, methodID, normalize(key))
	if err != nil {
		if stderrors.Is(err, ErrSettingNotFound) {
			return def, nil
		}
		return def, err
	}
	if !setting.Encrypted {
		return setting.Value, nil
	}
	plain, err := s.cipher.Decrypt(setting.Value)
	if err != nil {
		return def, errors.NewConfigurationError("setting "+setting.Key+" cannot be decrypted", errors.ErrCodeSettingDecryption).WithCause(err)
	}
	return plain, nil
}

// Set writes one key. Encrypted values are sealed first and nothing is
// written when sealing fails.
func (s *Store) Set(ctx context.Context, methodID int64, key, value string, encrypted bool) error {
	key = normalize(key)
	if key == "" {
		return errors.NewValidationFieldError("key", "setting key is required", errors.ErrCodeValidationFailed)
	}
	stored := value
	if encrypted {
		sealed, err := s.cipher.Encrypt(value)
		if err != nil {
			return errors.NewInternalError("failed to encrypt setting", err)
		}
		stored = sealed
	}
	return s.repo.Upsert(ctx, &Setting{MethodID: methodID, Key: key, Value: stored, Encrypted: encrypted})
}

func (s *Store) Delete(ctx context.Context, methodID int64, key string) error {
	return s.repo.Delete(ctx, methodID, normalize(key))
}

// All lists the configured keys of a provider for administration.
func (s *Store) All(ctx context.Context, methodID int64) ([]SettingView, error) {
	settings, err := s.repo.List(ctx, methodID)
	if err != nil {
		return nil, err
	}
	views := make([]SettingView, 0, len(settings))
	for _, setting := range settings {
		v := SettingView{Key: setting.Key, Value: setting.Value, Encrypted: setting.Encrypted}
		if setting.Encrypted && setting.Value != "" {
			v.Value = Mask
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Key < views[j].Key })
	return views, nil
}

// For returns a read-only view of a provider's settings for its plugin.
func (s *Store) For(methodID int64) *Settings {
	return &Settings{store: s, methodID: methodID}
}

// Settings resolves values lazily, on every read.
type Settings struct {
	store    *Store
	methodID int64
}

// Get never fails: read errors are logged by key and def is returned.
func (v *Settings) Get(ctx context.Context, key, def string) string {
	value, err := v.store.Get(ctx, v.methodID, key, def)
	if err != nil {
		v.store.logger.Error("failed to read provider setting",
			"method_id", v.methodID,
			"setting_key", key,
			"error", err)
		return def
	}
	return value
}

func (v *Settings) Bool(ctx context.Context, key string, def bool) bool {
	raw := v.Get(ctx, key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
