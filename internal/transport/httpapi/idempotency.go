package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kataras/iris/v12"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayHeader         = "Idempotent-Replayed"
)

// withIdempotency выполняет handler через idempotency.Guard, если запрос
// пришёл с заголовком Idempotency-Key. Повтор получает сохранённый ответ
// с заголовком Idempotent-Replayed.
func (s *Server) withIdempotency(ctx iris.Context, operation string, body []byte, handler func() (int, interface{}, error)) {
	key := strings.TrimSpace(ctx.GetHeader(idempotencyKeyHeader))
	if key == "" || s.idem == nil {
		s.respond(ctx, handler)
		return
	}

	resp, err := s.idem.Do(ctx.Request().Context(), idempotency.Request{
		PrincipalID: principalFrom(ctx).ID,
		Key:         key,
		Operation:   operation,
		Body:        body,
	}, func() idempotency.Response {
		return encodeResult(ctx, handler)
	})
	if err != nil {
		writeError(ctx, err)
		return
	}

	if resp.Replayed {
		ctx.Header(replayHeader, "true")
	}
	ctx.ContentType("application/json")
	ctx.StatusCode(resp.Status)
	if _, err := ctx.Write(resp.Body); err != nil {
		loggerFrom(ctx).WithError(err).Warn("failed to write idempotent response")
	}
}

func (s *Server) respond(ctx iris.Context, handler func() (int, interface{}, error)) {
	status, data, err := handler()
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeData(ctx, status, data, "")
}

// encodeResult превращает результат handler в тот же конверт, что пишут
// writeData и writeError, чтобы его можно было сохранить байтами.
func encodeResult(ctx iris.Context, handler func() (int, interface{}, error)) idempotency.Response {
	status, data, err := handler()
	payload := envelope{Success: true, Data: data}
	if err != nil {
		kind := domain.KindOf(err)
		status = statusForKind(kind)
		payload = envelope{Success: false, Error: string(kind), Message: err.Error()}
		if status == http.StatusInternalServerError {
			loggerFrom(ctx).WithError(err).Error("request failed")
			payload.Message = internalMessage
		}
	}

	body, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		loggerFrom(ctx).WithError(marshalErr).Error("failed to encode response")
		status = http.StatusInternalServerError
		body, _ = json.Marshal(envelope{Success: false, Error: string(domain.KindInternal), Message: internalMessage})
	}
	return idempotency.Response{Status: status, Body: body}
}
