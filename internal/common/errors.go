// Package common: errors.go определяет ошибки предметной области,
// которые используются во всех модулях движка боксов.
// Каждая ошибка имеет вид (Kind), по которому транспорт (бот, HTTP)
// выбирает понятное пользователю сообщение и код ответа.
package common

import (
	"errors"
	"maps"
)

// Kind: машиночитаемый вид ошибки.
type Kind string

// Виды ошибок движка.
const (
	KindInsufficientCredit   Kind = "INSUFFICIENT_CREDIT"
	KindInvalidTier          Kind = "INVALID_TIER"
	KindCatalogMisconfigured Kind = "CATALOG_MISCONFIGURED"
	KindBoxNotFound          Kind = "BOX_NOT_FOUND"
	KindBoxNotOwned          Kind = "BOX_NOT_OWNED"
	KindBoxAlreadyOpened     Kind = "BOX_ALREADY_OPENED"
	KindBoxExpired           Kind = "BOX_EXPIRED"
	KindTransientConflict    Kind = "TRANSIENT_CONFLICT"
	KindValidationFailed     Kind = "VALIDATION_FAILED"

	// Вспомогательные виды (админка, поиск участников).
	KindMemberNotFound   Kind = "MEMBER_NOT_FOUND"
	KindForbidden        Kind = "FORBIDDEN"
	KindInvalidArgument  Kind = "INVALID_ARGUMENT"
	KindRewardNotFound   Kind = "REWARD_NOT_FOUND"
	KindAlreadyProcessed Kind = "ALREADY_PROCESSED"
	KindUnauthorized     Kind = "UNAUTHORIZED"
)

// Error: ошибка предметной области.
// Message показывается пользователю, Details несут структурированные данные
// (суммы вероятностей, баланс, цену).
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap отдаёт исходную ошибку (например, ошибку PostgreSQL).
func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по виду, поэтому errors.Is(err, ErrBoxExpired)
// срабатывает и для копий с деталями.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// With возвращает копию ошибки с дополнительной деталью.
// Сентинелы не изменяются.
func (e *Error) With(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	maps.Copy(cp.Details, e.Details)
	cp.Details[key] = value
	return &cp
}

// Wrap возвращает копию ошибки с исходной причиной.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// WithMessage возвращает копию ошибки с другим текстом сообщения.
func (e *Error) WithMessage(msg string) *Error {
	cp := *e
	cp.Message = msg
	return &cp
}

// NewError создаёт ошибку заданного вида.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// KindOf возвращает вид ошибки или пустую строку для инфраструктурных ошибок.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// DetailsOf возвращает детали ошибки (nil, если их нет).
func DetailsOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// Ошибки покупки и открытия боксов
var (
	// ErrInsufficientCredit: на счёте не хватает кредитов
	ErrInsufficientCredit = NewError(KindInsufficientCredit, "недостаточно кредитов на счёте")
	// ErrInvalidTier: такого тира нет или он выключен
	ErrInvalidTier = NewError(KindInvalidTier, "такого бокса нет в продаже")
	// ErrCatalogMisconfigured: таблица вероятностей пуста или не сходится в 100
	ErrCatalogMisconfigured = NewError(KindCatalogMisconfigured, "каталог настроен некорректно, обратитесь к администратору")
	// ErrBoxNotFound: бокс не найден (в том числе в другом тенанте)
	ErrBoxNotFound = NewError(KindBoxNotFound, "бокс не найден")
	// ErrBoxNotOwned: бокс принадлежит другому участнику
	ErrBoxNotOwned = NewError(KindBoxNotOwned, "это не ваш бокс")
	// ErrBoxAlreadyOpened: бокс уже открыт
	ErrBoxAlreadyOpened = NewError(KindBoxAlreadyOpened, "бокс уже открыт")
	// ErrBoxExpired: срок хранения бокса истёк
	ErrBoxExpired = NewError(KindBoxExpired, "срок хранения бокса истёк")
	// ErrTransientConflict: конкурентная транзакция не дала завершить операцию
	ErrTransientConflict = NewError(KindTransientConflict, "сервис занят, попробуйте ещё раз")
)

// Ошибки каталога и админки
var (
	// ErrValidationFailed: изменение нарушает правило суммы 100
	ErrValidationFailed = NewError(KindValidationFailed, "вероятности должны давать в сумме ровно 100")
	// ErrRewardNotFound: награда не найдена
	ErrRewardNotFound = NewError(KindRewardNotFound, "награда не найдена")
	// ErrAlreadyProcessed: выдача награды уже отмечена
	ErrAlreadyProcessed = NewError(KindAlreadyProcessed, "выдача уже отмечена")
	// ErrForbidden: у пользователя нет прав на операцию
	ErrForbidden = NewError(KindForbidden, "у вас нет прав на это действие")
	// ErrInvalidArgument: некорректные входные данные
	ErrInvalidArgument = NewError(KindInvalidArgument, "некорректные параметры")
	// ErrMemberNotFound: участник не найден
	ErrMemberNotFound = NewError(KindMemberNotFound, "участник не найден")
)

// Ошибки аутентификации админки
var (
	// ErrUnauthorized: требуется вход
	ErrUnauthorized = NewError(KindUnauthorized, "требуется авторизация")
	// ErrWrongPassword: неверный пароль
	ErrWrongPassword = NewError(KindUnauthorized, "неверный пароль")
	// ErrTooManyAttempts: слишком много неудачных попыток входа
	ErrTooManyAttempts = NewError(KindForbidden, "слишком много попыток, подождите 1 час")
)

// UserMessage возвращает текст ошибки для пользователя.
// Инфраструктурные ошибки наружу не показываем.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "что-то пошло не так, попробуйте позже"
}
