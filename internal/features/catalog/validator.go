// Package catalog: validator.go проверяет правило суммы 100.
//
// Таблица корректна, если сумма реальных и сумма витринных вероятностей
// активных строк равны ровно 100. Пустая таблица допустима, только когда
// до неё нельзя дойти розыгрышем. Редкость недостижима, если ни один
// активный тир не даёт ей реальную вероятность > 0. Тир недостижим, если он выключен.
package catalog

import (
	"fmt"

	"serotonyl.ru/mystery-box/internal/common"
)

// TotalProbability: обязательная сумма вероятностей таблицы.
const TotalProbability = 100

// CheckProbability проверяет, что вероятность: целое в [0, 100].
func CheckProbability(field string, v int) error {
	if v < 0 || v > TotalProbability {
		return common.ErrValidationFailed.
			WithMessage(fmt.Sprintf("%s должна быть от 0 до 100, получено %d", field, v)).
			With("field", field).
			With("value", v)
	}
	return nil
}

// Validate проверяет таблицу наград редкости. Учитываются только активные награды.
func Validate(rewards []*Reward, reachable bool) Validation {
	v := Validation{Reachable: reachable}
	for _, r := range rewards {
		if !r.IsActive {
			continue
		}
		v.ActiveCount++
		v.RealSum += r.RealProbability
		v.DisplaySum += r.DisplayProbability
	}
	v.OK = sumsOK(v) || (v.ActiveCount == 0 && !reachable)
	return v
}

// ValidateTier проверяет таблицу редкостей тира. Учитываются только активные строки.
func ValidateTier(weights []*RarityWeight, tierActive bool) Validation {
	v := Validation{Reachable: tierActive}
	for _, w := range weights {
		if !w.IsActive {
			continue
		}
		v.ActiveCount++
		v.RealSum += w.RealProbability
		v.DisplaySum += w.DisplayProbability
	}
	v.OK = sumsOK(v) || (v.ActiveCount == 0 && !tierActive)
	return v
}

func sumsOK(v Validation) bool {
	return v.RealSum == TotalProbability && v.DisplaySum == TotalProbability
}
