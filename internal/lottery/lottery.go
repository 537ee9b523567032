// Package lottery выбирает один вариант из набора по целочисленным весам.
// Используется и для выбора редкости при покупке бокса, и для выбора
// награды при открытии.
//
// Порядок обхода кандидатов фиксирован: сортировка по (SortKey, ID).
// Порядок из БД или из map на результат не влияет.
package lottery

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
)

// ErrNoCandidates: нет ни одного кандидата с положительным весом.
var ErrNoCandidates = errors.New("lottery: нет кандидатов с положительным весом")

// Source: источник случайных чисел.
// Int64N возвращает число в диапазоне [0, n), n > 0.
type Source interface {
	Int64N(n int64) int64
}

// globalSource использует глобальный генератор math/rand/v2,
// он безопасен для одновременного использования из горутин.
type globalSource struct{}

func (globalSource) Int64N(n int64) int64 { return rand.Int64N(n) }

// DefaultSource возвращает источник для продакшена.
func DefaultSource() Source { return globalSource{} }

// Candidate: вариант выбора.
type Candidate struct {
	ID      int64 // Идентификатор (редкости или награды)
	SortKey int64 // Ключ порядка обхода (sort_order редкости, для наград 0)
	Weight  int64 // Реальный вес, 0 = вариант не выпадает
}

// Select выбирает кандидата пропорционально весу и возвращает его ID.
//
// Алгоритм:
//  1. Кандидаты копируются и сортируются по (SortKey, ID)
//  2. T = сумма весов, r: равномерно в [0, T)
//  3. Возвращается первый кандидат, у которого накопленная сумма > r
//
// Нулевые веса пропускаются, отрицательный вес: ошибка.
func Select(src Source, candidates []Candidate) (int64, error) {
	if src == nil {
		src = DefaultSource()
	}

	var total int64
	for _, c := range candidates {
		if c.Weight < 0 {
			return 0, fmt.Errorf("lottery: отрицательный вес %d у кандидата %d", c.Weight, c.ID)
		}
		total += c.Weight
	}
	if total == 0 {
		return 0, ErrNoCandidates
	}

	ordered := slices.Clone(candidates)
	slices.SortFunc(ordered, func(a, b Candidate) int {
		if a.SortKey != b.SortKey {
			if a.SortKey < b.SortKey {
				return -1
			}
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})

	r := src.Int64N(total)
	var cum int64
	for _, c := range ordered {
		if c.Weight == 0 {
			continue
		}
		cum += c.Weight
		if r < cum {
			return c.ID, nil
		}
	}

	// Недостижимо при корректном Source
	return 0, fmt.Errorf("lottery: источник вернул %d вне диапазона [0, %d)", r, total)
}

// Seeded возвращает детерминированный источник для тестов и воспроизведения.
func Seeded(seed uint64) Source {
	return rand.New(rand.NewPCG(seed, seed))
}
