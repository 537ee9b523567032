package common

import (
	"errors"
	"fmt"
	"testing"
)

func TestPluralizeCredits(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "кредитов"},
		{1, "кредит"},
		{2, "кредита"},
		{4, "кредита"},
		{5, "кредитов"},
		{11, "кредитов"},
		{12, "кредитов"},
		{21, "кредит"},
		{22, "кредита"},
		{101, "кредит"},
		{111, "кредитов"},
		{-3, "кредита"},
	}
	for _, tt := range tests {
		if got := PluralizeCredits(tt.n); got != tt.want {
			t.Errorf("PluralizeCredits(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatNumberAndAmounts(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{FormatNumber(0), "0"},
		{FormatNumber(999), "999"},
		{FormatNumber(2350), "2 350"},
		{FormatNumber(1000000), "1 000 000"},
		{FormatNumber(-2350), "-2 350"},
		{FormatBalance(1500), "1 500 кредитов"},
		{FormatCreditsAmount(100), "+100 кредитов"},
		{FormatCreditsAmount(-50), "-50 кредитов"},
		{FormatCreditsAmount(1), "+1 кредит"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestSanitizeText(t *testing.T) {
	if got := SanitizeText("  <b>Пицца</b><script>alert(1)</script> ", 0); got != "Пицца" {
		t.Errorf("SanitizeText() = %q, want %q", got, "Пицца")
	}
	if got := SanitizeText("абвгд", 3); got != "абв" {
		t.Errorf("SanitizeText() = %q, want %q", got, "абв")
	}

	plain := []struct {
		in   string
		max  int
		want string
	}{
		{"Tom & Jerry", 0, "Tom & Jerry"},
		{`Приз "Золото"`, 0, `Приз "Золото"`},
		{"Sticker <3", 0, "Sticker <3"},
		{"Кот's <i>мяч</i>", 0, "Кот's мяч"},
		{"A & B", 3, "A &"},
	}
	for _, tt := range plain {
		if got := SanitizeText(tt.in, tt.max); got != tt.want {
			t.Errorf("SanitizeText(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("покупка: %w", ErrInsufficientCredit.With("balance", int64(10)))

	if !errors.Is(err, ErrInsufficientCredit) {
		t.Fatal("errors.Is(err, ErrInsufficientCredit) = false")
	}
	if errors.Is(err, ErrBoxExpired) {
		t.Error("errors.Is(err, ErrBoxExpired) = true")
	}
	if got := KindOf(err); got != KindInsufficientCredit {
		t.Errorf("KindOf() = %q", got)
	}
	if got := DetailsOf(err)["balance"]; got != int64(10) {
		t.Errorf("details[balance] = %v", got)
	}
	if ErrInsufficientCredit.Details != nil {
		t.Error("sentinel was mutated by With")
	}
	if got := KindOf(errors.New("boom")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
}
