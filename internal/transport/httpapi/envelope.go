package httpapi

import (
	"net/http"

	"github.com/kataras/iris/v12"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// envelope — единый формат ответа API.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

const internalMessage = "internal error"

// statusForKind сопоставляет класс ошибки HTTP-коду.
func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation, domain.KindState:
		return http.StatusBadRequest
	case domain.KindAuth, domain.KindInvalidSignature:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeData(ctx iris.Context, status int, data interface{}, message string) {
	ctx.StatusCode(status)
	if err := ctx.JSON(envelope{Success: true, Data: data, Message: message}); err != nil {
		loggerFrom(ctx).WithError(err).Warn("failed to write response")
	}
}

// writeError пишет ошибку в конверте. Подробности внутренних ошибок
// остаются в логе.
func writeError(ctx iris.Context, err error) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)

	message := err.Error()
	if status == http.StatusInternalServerError {
		loggerFrom(ctx).WithError(err).Error("request failed")
		message = internalMessage
	}

	_ = ctx.StopWithJSON(status, envelope{Success: false, Error: string(kind), Message: message})
}

func loggerFrom(ctx iris.Context) *log.Entry {
	if entry, ok := ctx.Values().Get(loggerKey).(*log.Entry); ok {
		return entry
	}
	return log.NewEntry(log.StandardLogger())
}
