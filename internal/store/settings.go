package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TenantLanguage returns the stored language for a tenant, or "" when unset.
func (s *Store) TenantLanguage(ctx context.Context, tenantID string) (string, error) {
	var lang string
	err := s.queryRow(ctx, `SELECT language FROM tenant_settings WHERE tenant_id = ?`, tenantID).Scan(&lang)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("tenant language: %w", err)
	}
	return lang, nil
}

// SetTenantLanguage stores a tenant's default language.
func (s *Store) SetTenantLanguage(ctx context.Context, tenantID, lang string, at time.Time) error {
	_, err := s.exec(ctx, `INSERT INTO tenant_settings (tenant_id, language, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET language = excluded.language, updated_at = excluded.updated_at`,
		tenantID, lang, FormatTime(at))
	if err != nil {
		return fmt.Errorf("set tenant language: %w", err)
	}
	return nil
}
