package locale

import (
	"context"
	"sync"
	"time"

	"github.com/marcus/dispatchd/internal/logging"
)

// Settings persists per-tenant languages.
type Settings interface {
	TenantLanguage(ctx context.Context, tenantID string) (string, error)
	SetTenantLanguage(ctx context.Context, tenantID, lang string, at time.Time) error
}

// Service answers "which language" for a tenant. Lookups go stored setting,
// then configured override, then the service default.
type Service struct {
	mu        sync.RWMutex
	fallback  string
	overrides map[string]string
	cache     map[string]string
	settings  Settings
	logger    *logging.Logger
}

// NewService creates a service. settings may be nil.
func NewService(fallback string, overrides map[string]string, settings Settings) *Service {
	if Normalize(fallback) == "" {
		fallback = English
	}
	o := make(map[string]string, len(overrides))
	for k, v := range overrides {
		if n := Normalize(v); n != "" {
			o[k] = n
		}
	}
	return &Service{
		fallback:  Normalize(fallback),
		overrides: o,
		cache:     make(map[string]string),
		settings:  settings,
		logger:    logging.Component("locale"),
	}
}

// Language returns the tenant's default language.
func (s *Service) Language(ctx context.Context, tenantID string) string {
	s.mu.RLock()
	lang, ok := s.cache[tenantID]
	s.mu.RUnlock()
	if ok {
		return lang
	}

	lang = ""
	if s.settings != nil {
		stored, err := s.settings.TenantLanguage(ctx, tenantID)
		if err != nil {
			s.logger.WarnCtx("tenant language lookup failed", logging.Fields{"tenant": tenantID, "error": err})
		}
		lang = Normalize(stored)
	}
	if lang == "" {
		lang = s.overrides[tenantID]
	}
	if lang == "" {
		lang = s.fallback
	}

	s.mu.Lock()
	s.cache[tenantID] = lang
	s.mu.Unlock()
	return lang
}

// SetLanguage stores a tenant's language.
func (s *Service) SetLanguage(ctx context.Context, tenantID, lang string) error {
	n := Normalize(lang)
	if n == "" {
		n = s.fallback
	}
	if s.settings != nil {
		if err := s.settings.SetTenantLanguage(ctx, tenantID, n, time.Now()); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.cache[tenantID] = n
	s.mu.Unlock()
	return nil
}

// Resolve picks the staff member's language when it is supported, else the
// tenant's.
func (s *Service) Resolve(ctx context.Context, tenantID, staffLang string) string {
	if n := Normalize(staffLang); n != "" {
		return n
	}
	return s.Language(ctx, tenantID)
}

// Message renders key for a tenant and staff language.
func (s *Service) Message(ctx context.Context, tenantID, staffLang string, key Key, args map[string]string) string {
	return Format(s.Resolve(ctx, tenantID, staffLang), key, args)
}
