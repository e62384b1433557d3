// Package locale resolves message languages per tenant and staff member and
// renders the outbound message catalog.
package locale

import (
	"strings"
)

// Key names a catalog message.
type Key string

const (
	KeyOnTheWay     Key = "on_the_way"
	KeyNewTask      Key = "new_task"
	KeyReportHeader Key = "report_header"
	KeyTopPerformer Key = "top_performer"
)

// Supported languages. English is the fallback for everything.
const (
	English = "en"
	Hebrew  = "he"
	Thai    = "th"
	Hindi   = "hi"
	Spanish = "es"
)

var catalog = map[Key]map[string]string{
	KeyOnTheWay: {
		English: "Your room is being prepared by {name}!",
		Hebrew:  "החדר שלך מוכן על ידי {name}!",
		Thai:    "ห้องของคุณกำลังถูกจัดเตรียมโดย {name}!",
		Hindi:   "आपका कमरा {name} द्वारा तैयार किया जा रहा है!",
		Spanish: "¡Tu habitación está siendo preparada por {name}!",
	},
	KeyNewTask: {
		English: "New task: {type} for room {room}.",
		Hebrew:  "משימה חדשה: {type} לחדר {room}.",
		Spanish: "Nueva tarea: {type} para la habitación {room}.",
	},
	KeyReportHeader: {
		English: "Weekly performance for {property}",
		Hebrew:  "ביצועים שבועיים עבור {property}",
	},
	KeyTopPerformer: {
		English: "Well done {name}! You were this week's top performer with {done} tasks completed.",
		Hebrew:  "כל הכבוד {name}! היית המצטיין של השבוע עם {done} משימות שהושלמו.",
		Spanish: "¡Bien hecho {name}! Fuiste el mejor de la semana con {done} tareas completadas.",
	},
}

// Normalize reduces a language tag such as "he-IL" to its base code. It
// returns "" for languages with no catalog entries.
func Normalize(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	switch lang {
	case English, Hebrew, Thai, Hindi, Spanish:
		return lang
	}
	return ""
}

// Format renders key in lang, falling back to English when the message has
// no translation. Placeholders are {name} style.
func Format(lang string, key Key, args map[string]string) string {
	msgs, ok := catalog[key]
	if !ok {
		return ""
	}
	text, ok := msgs[Normalize(lang)]
	if !ok {
		text = msgs[English]
	}
	if len(args) == 0 {
		return text
	}
	pairs := make([]string, 0, len(args)*2)
	for k, v := range args {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
