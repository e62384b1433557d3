package locale

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		lang string
		key  Key
		args map[string]string
		want string
	}{
		{"en", KeyOnTheWay, map[string]string{"name": "Alma"}, "Your room is being prepared by Alma!"},
		{"he-IL", KeyOnTheWay, map[string]string{"name": "Alma"}, "החדר שלך מוכן על ידי Alma!"},
		{"es", KeyOnTheWay, map[string]string{"name": "Kobi"}, "¡Tu habitación está siendo preparada por Kobi!"},
		{"fr", KeyOnTheWay, map[string]string{"name": "Avi"}, "Your room is being prepared by Avi!"},
		{"th", KeyNewTask, map[string]string{"type": "cleaning", "room": "7"}, "New task: cleaning for room 7."},
		{"en", Key("missing"), nil, ""},
	}
	for _, tt := range tests {
		if got := Format(tt.lang, tt.key, tt.args); got != tt.want {
			t.Errorf("Format(%q, %q) = %q, want %q", tt.lang, tt.key, got, tt.want)
		}
	}
}

type memSettings struct {
	langs map[string]string
	err   error
}

func (m *memSettings) TenantLanguage(_ context.Context, tenantID string) (string, error) {
	return m.langs[tenantID], m.err
}

func (m *memSettings) SetTenantLanguage(_ context.Context, tenantID, lang string, _ time.Time) error {
	m.langs[tenantID] = lang
	return nil
}

func TestServiceLanguageOrder(t *testing.T) {
	settings := &memSettings{langs: map[string]string{"stored": "th"}}
	svc := NewService("he", map[string]string{"configured": "es", "stored": "hi"}, settings)
	ctx := context.Background()

	if got := svc.Language(ctx, "stored"); got != "th" {
		t.Errorf("stored tenant = %q, want th", got)
	}
	if got := svc.Language(ctx, "configured"); got != "es" {
		t.Errorf("configured tenant = %q, want es", got)
	}
	if got := svc.Language(ctx, "other"); got != "he" {
		t.Errorf("other tenant = %q, want he", got)
	}

	if err := svc.SetLanguage(ctx, "other", "hi-IN"); err != nil {
		t.Fatal(err)
	}
	if got := svc.Language(ctx, "other"); got != "hi" {
		t.Errorf("after set = %q, want hi", got)
	}
	if settings.langs["other"] != "hi" {
		t.Errorf("not persisted: %v", settings.langs)
	}
}

func TestServiceResolve(t *testing.T) {
	svc := NewService("xx", nil, &memSettings{langs: map[string]string{}, err: errors.New("db down")})
	ctx := context.Background()

	if got := svc.Resolve(ctx, "t1", "es"); got != "es" {
		t.Errorf("staff language = %q", got)
	}
	if got := svc.Resolve(ctx, "t1", "klingon"); got != "en" {
		t.Errorf("fallback = %q, want en", got)
	}
	msg := svc.Message(ctx, "t1", "", KeyOnTheWay, map[string]string{"name": "Alma"})
	if msg != "Your room is being prepared by Alma!" {
		t.Errorf("message = %q", msg)
	}
}
