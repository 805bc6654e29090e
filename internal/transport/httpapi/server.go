// Package httpapi — публичный HTTP API витрины поверх iris.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/kataras/iris/v12"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/lifecycle"
)

// Deps — зависимости HTTP API.
type Deps struct {
	Controller  *lifecycle.Controller
	Reconciler  *lifecycle.Reconciler
	Tokens      *auth.Tokens
	Idempotency *idempotency.Guard
	Logger      *log.Entry
}

// Server держит iris-приложение с зарегистрированными маршрутами.
type Server struct {
	app        *iris.Application
	controller *lifecycle.Controller
	reconciler *lifecycle.Reconciler
	tokens     *auth.Tokens
	idem       *idempotency.Guard
	logger     *log.Entry
}

// New собирает приложение и регистрирует маршруты /api.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "http-api")
	}

	app := iris.New()
	app.Logger().SetLevel("disable")

	s := &Server{
		app:        app,
		controller: deps.Controller,
		reconciler: deps.Reconciler,
		tokens:     deps.Tokens,
		idem:       deps.Idempotency,
		logger:     logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.UseRouter(s.requestLogger)
	api := s.app.Party("/api")

	// Подпись callback сама является доказательством подлинности.
	api.Post("/payments/verify", s.verifyPayment)

	authed := api.Party("/", s.authenticate)
	authed.Post("/orders", s.createOrder)
	authed.Get("/orders", s.listOrders)
	authed.Get("/orders/{id}", s.getOrder)
	authed.Post("/orders/{id}/cancel", s.cancelOrder)
	authed.Post("/payments/create-order", s.createPaymentIntent)

	admin := authed.Party("/admin", s.requireAdmin)
	admin.Post("/orders/{id}/status", s.advanceStatus)
}

// Handler возвращает http.Handler для net/http сервера и тестов.
func (s *Server) Handler() (http.Handler, error) {
	if err := s.app.Build(); err != nil {
		return nil, err
	}
	return s.app, nil
}

// Serve слушает addr до отмены ctx, затем корректно останавливает сервер.
func (s *Server) Serve(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Warn("http api shutdown failed")
		}
	}()

	s.logger.WithField("addr", addr).Info("http api listening")
	return s.app.Listen(addr, iris.WithoutServerError(iris.ErrServerClosed), iris.WithoutStartupLog)
}
