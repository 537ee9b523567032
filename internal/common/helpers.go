// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: ошибки предметной области, русская плюрализация,
// форматирование сумм и дат.
package common

import (
	"fmt"
	"time"
)

// pluralForm выбирает форму слова для числа n по правилам русского языка.
//
// Правила:
//   - n%10==1 И n%100!=11 → one (1, 21, 31, 101, ...)
//   - n%10 в [2,3,4] И n%100 НЕ в [12,13,14] → few (2, 3, 4, 22, 23, ...)
//   - Остальные случаи → many (0, 5-20, 25-30, 100, ...)
func pluralForm(n int64, one, few, many string) string {
	if n < 0 {
		n = -n
	}
	lastDigit := n % 10
	lastTwoDigits := n % 100

	if lastDigit == 1 && lastTwoDigits != 11 {
		return one
	}
	if lastDigit >= 2 && lastDigit <= 4 && (lastTwoDigits < 12 || lastTwoDigits > 14) {
		return few
	}
	return many
}

// PluralizeCredits возвращает правильную форму слова «кредит» для числа n.
//
// Примеры:
//
//	PluralizeCredits(1)  → "кредит"
//	PluralizeCredits(3)  → "кредита"
//	PluralizeCredits(5)  → "кредитов"
//	PluralizeCredits(11) → "кредитов"
//	PluralizeCredits(21) → "кредит"
func PluralizeCredits(n int64) string {
	return pluralForm(n, "кредит", "кредита", "кредитов")
}

// PluralizeBoxes возвращает форму слова «бокс».
func PluralizeBoxes(n int) string {
	return pluralForm(int64(n), "бокс", "бокса", "боксов")
}

// PluralizeDays возвращает форму слова «день».
func PluralizeDays(n int) string {
	return pluralForm(int64(n), "день", "дня", "дней")
}

// FormatBalance форматирует баланс в читабельную строку.
// Пример: FormatBalance(1500) → "1 500 кредитов"
func FormatBalance(balance int64) string {
	return fmt.Sprintf("%s %s", FormatNumber(balance), PluralizeCredits(balance))
}

// LoadLocation загружает часовой пояс по имени.
// Если tzdata недоступна и запрошена Москва, используем UTC+3 вручную.
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc
	}
	if name == "Europe/Moscow" {
		return time.FixedZone("MSK", 3*60*60)
	}
	return time.UTC
}

// FormatDateTime форматирует время в формат "02.01.2006 15:04" в заданном поясе.
// Используется для отображения сроков хранения и истории операций.
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02.01.2006 15:04")
}
