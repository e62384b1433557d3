// Package intent turns free-text commands into task requests. A Parser may
// supply a structured suggestion; when it cannot, a keyword table decides
// the task category.
package intent

import (
	"strings"
)

// Category is the kind of work a command asks for.
type Category int

const (
	Unknown Category = iota
	Cleaning
	Maintenance
	Electrical
)

func (c Category) String() string {
	switch c {
	case Cleaning:
		return "cleaning"
	case Maintenance:
		return "maintenance"
	case Electrical:
		return "electrical"
	default:
		return "unknown"
	}
}

// TaskType is the task type stored for the category, or "" for Unknown.
func (c Category) TaskType() string {
	if c == Unknown {
		return ""
	}
	return c.String()
}

// ParseCategory maps a parser intent name to a category.
func ParseCategory(s string) Category {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cleaning", "housekeeping", "clean":
		return Cleaning
	case "maintenance", "repair":
		return Maintenance
	case "electrical", "electrician", "electric":
		return Electrical
	default:
		return Unknown
	}
}

// Classifier picks a category for raw command text.
type Classifier interface {
	Classify(text string) Category
}

// Rule maps keywords to a category.
type Rule struct {
	Category Category
	Keywords []string
}

// DefaultRules is evaluated in order; the first rule with a matching keyword
// wins, so the narrower electrical vocabulary comes before generic repair words.
var DefaultRules = []Rule{
	{Electrical, []string{"electrical", "electric", "short circuit", "lamp", "bulb", "light", "socket", "power", "חשמל", "קצר", "נשרף", "נשרפה", "מנורה"}},
	{Cleaning, []string{"cleaning", "clean", "towel", "housekeeping", "linen", "ניקיון", "נקיון", "מגבת", "מנקה"}},
	{Maintenance, []string{"maintenance", "repair", "fix", "broken", "leak", "תיקון", "נזילה", "דליפה", "תקלה", "תחזוקה", "תקן", "תתקן"}},
}

// KeywordClassifier matches lowercase substrings against an ordered rule table.
type KeywordClassifier struct {
	rules []Rule
}

// NewKeywordClassifier uses rules, or DefaultRules when none are given.
func NewKeywordClassifier(rules ...Rule) *KeywordClassifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &KeywordClassifier{rules: rules}
}

// Classify returns Unknown when no keyword matches.
func (k *KeywordClassifier) Classify(text string) Category {
	lower := strings.ToLower(text)
	for _, rule := range k.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return rule.Category
			}
		}
	}
	return Unknown
}
