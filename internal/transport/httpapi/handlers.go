package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/kataras/iris/v12"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/lifecycle"
)

func readJSON(ctx iris.Context, out interface{}) error {
	if err := ctx.ReadJSON(out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

func (s *Server) createOrder(ctx iris.Context) {
	body, err := ctx.GetBody()
	if err != nil {
		writeError(ctx, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err))
		return
	}

	s.withIdempotency(ctx, "create_order", body, func() (int, interface{}, error) {
		var req createOrderRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return 0, nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
		}
		order, err := s.controller.CreateOrder(ctx.Request().Context(), principalFrom(ctx), req.input())
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, toOrderResponse(order), nil
	})
}

func (s *Server) listOrders(ctx iris.Context) {
	orders, err := s.controller.ListOrders(ctx.Request().Context(), principalFrom(ctx), ctx.URLParamIntDefault("limit", 0))
	if err != nil {
		writeError(ctx, err)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		resp = append(resp, toOrderResponse(order))
	}
	writeData(ctx, http.StatusOK, resp, "")
}

func (s *Server) getOrder(ctx iris.Context) {
	view, err := s.controller.GetOrder(ctx.Request().Context(), principalFrom(ctx), ctx.Params().Get("id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeData(ctx, http.StatusOK, toOrderDetail(view), "")
}

func (s *Server) cancelOrder(ctx iris.Context) {
	body, err := ctx.GetBody()
	if err != nil {
		writeError(ctx, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err))
		return
	}

	var req cancelOrderRequest
	// Тело необязательно: отмена без причины допустима. Content-Length не
	// проверяется, тело может прийти chunked.
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(ctx, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err))
			return
		}
	}

	result, err := s.controller.CancelOrder(ctx.Request().Context(), principalFrom(ctx), ctx.Params().Get("id"), req.Reason)
	if err != nil {
		writeError(ctx, err)
		return
	}

	resp := cancelResponse{Order: toOrderResponse(result.Order), RefundNote: result.RefundNote}
	if result.PaymentStatus != nil {
		resp.PaymentStatus = string(*result.PaymentStatus)
	}
	message := "order cancelled"
	if result.RefundNote != "" {
		message = result.RefundNote
	}
	writeData(ctx, http.StatusOK, resp, message)
}

func (s *Server) createPaymentIntent(ctx iris.Context) {
	var req paymentIntentRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, err)
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		writeError(ctx, domain.ErrOrderIDRequired)
		return
	}

	intent, err := s.controller.CreatePaymentIntent(ctx.Request().Context(), principalFrom(ctx), req.OrderID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeData(ctx, http.StatusOK, intentResponse{
		OrderID:         intent.OrderID,
		GatewayOrderRef: intent.GatewayOrderRef,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		KeyID:           intent.KeyID,
	}, "")
}

func (s *Server) verifyPayment(ctx iris.Context) {
	var cb lifecycle.Callback
	if err := readJSON(ctx, &cb); err != nil {
		writeError(ctx, err)
		return
	}

	result, err := s.reconciler.Verify(ctx.Request().Context(), cb)
	if err != nil {
		writeError(ctx, err)
		return
	}

	message := "payment verified"
	if result.Replayed {
		message = "payment already verified"
	}
	writeData(ctx, http.StatusOK, verifyResponse{
		OrderID:       result.OrderID,
		OrderStatus:   string(result.OrderStatus),
		PaymentStatus: string(result.PaymentStatus),
		Replayed:      result.Replayed,
	}, message)
}

func (s *Server) advanceStatus(ctx iris.Context) {
	var req statusRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, err)
		return
	}

	next := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	order, err := s.controller.AdvanceStatus(ctx.Request().Context(), principalFrom(ctx), ctx.Params().Get("id"), next)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeData(ctx, http.StatusOK, toOrderResponse(order), "")
}
