package httpapi

import (
	"time"

	"github.com/kataras/iris/v12"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	principalKey = "principal"
	loggerKey    = "logger"
)

func (s *Server) requestLogger(ctx iris.Context) {
	start := time.Now()
	entry := s.logger.WithFields(log.Fields{
		"method": ctx.Method(),
		"path":   ctx.Path(),
	})
	ctx.Values().Set(loggerKey, entry)

	ctx.Next()

	entry.WithFields(log.Fields{
		"status":   ctx.GetStatusCode(),
		"duration": time.Since(start),
	}).Debug("request handled")
}

// authenticate требует bearer-токен и кладёт principal в контекст запроса.
func (s *Server) authenticate(ctx iris.Context) {
	principal, err := s.tokens.PrincipalFromHeader(ctx.GetHeader("Authorization"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.Values().Set(principalKey, principal)
	if entry, ok := ctx.Values().Get(loggerKey).(*log.Entry); ok {
		ctx.Values().Set(loggerKey, entry.WithField("user_id", principal.ID))
	}
	ctx.Next()
}

func (s *Server) requireAdmin(ctx iris.Context) {
	if !principalFrom(ctx).IsAdmin() {
		writeError(ctx, domain.ErrForbidden)
		return
	}
	ctx.Next()
}

func principalFrom(ctx iris.Context) domain.Principal {
	principal, _ := ctx.Values().Get(principalKey).(domain.Principal)
	return principal
}
