package common

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// SanitizeText убирает HTML-теги из текста, введённого администратором
// (названия наград, комментарии к операциям), и обрезает до max символов.
// Результат хранится как обычный текст без HTML-сущностей. Экранирование
// делает тот, кто выводит текст в разметке.
func SanitizeText(s string, max int) string {
	s = strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
	if max > 0 && utf8.RuneCountInString(s) > max {
		s = string([]rune(s)[:max])
	}
	return s
}
