package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/mystery-box/internal/common"
)

// errorBody: тело ответа с ошибкой.
type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

var statusByKind = map[common.Kind]int{
	common.KindInsufficientCredit:   http.StatusPaymentRequired,
	common.KindInvalidTier:          http.StatusBadRequest,
	common.KindCatalogMisconfigured: http.StatusServiceUnavailable,
	common.KindBoxNotFound:          http.StatusNotFound,
	common.KindBoxNotOwned:          http.StatusForbidden,
	common.KindBoxAlreadyOpened:     http.StatusConflict,
	common.KindBoxExpired:           http.StatusGone,
	common.KindTransientConflict:    http.StatusServiceUnavailable,
	common.KindValidationFailed:     http.StatusUnprocessableEntity,
	common.KindMemberNotFound:       http.StatusNotFound,
	common.KindForbidden:            http.StatusForbidden,
	common.KindInvalidArgument:      http.StatusBadRequest,
	common.KindRewardNotFound:       http.StatusNotFound,
	common.KindAlreadyProcessed:     http.StatusConflict,
	common.KindUnauthorized:         http.StatusUnauthorized,
}

// StatusOf возвращает HTTP-код для ошибки.
func StatusOf(err error) int {
	if status, ok := statusByKind[common.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func bodyOf(err error) errorBody {
	kind := common.KindOf(err)
	if kind == "" {
		return errorBody{Code: "INTERNAL", Message: common.UserMessage(err)}
	}
	return errorBody{Code: string(kind), Message: common.UserMessage(err), Details: common.DetailsOf(err)}
}

// abort прерывает запрос ответом с ошибкой.
func abort(c *gin.Context, err error) {
	status := StatusOf(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("Ошибка обработки запроса")
	}
	c.AbortWithStatusJSON(status, bodyOf(err))
}

// wrap превращает обработчик с ошибкой в gin.HandlerFunc.
func wrap(h func(*gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h(c); err != nil {
			if c.Writer.Written() {
				return
			}
			abort(c, err)
		}
	}
}

// badRequest: ошибка разбора тела или параметров запроса.
func badRequest(msg string, err error) error {
	e := common.ErrInvalidArgument.WithMessage(msg)
	if err != nil {
		return e.Wrap(err)
	}
	return e
}
