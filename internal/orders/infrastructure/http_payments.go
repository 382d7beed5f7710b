package infrastructure

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"go-fulfillment/internal/orders/application"
	"go-fulfillment/internal/orders/domain"
	"go-fulfillment/pkg/errors"
)

// sessionIDPlaceholder is replaced by the gateway with the session id
const sessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

// Capabilities lists the payment methods currently offered
// @Summary Payment capabilities
// @Tags payments
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} SuccessResponse{data=CapabilitiesResponse}
// @Router /api/v1/payments/capabilities [get]
func (h *HTTPHandler) Capabilities(c *gin.Context) {
	respond(c, http.StatusOK, capabilitiesResponse(h.saga.Capabilities()))
}

// PaymentState reports where a record stands in payment reconciliation
// @Summary Payment state
// @Tags payments
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "Record ID"
// @Success 200 {object} SuccessResponse{data=PaymentStateResponse}
// @Failure 404 {object} errors.ErrorResponse "Record not found"
// @Router /api/v1/orders/{id}/payments [get]
// @Router /api/v1/bookings/{id}/payments [get]
func (h *HTTPHandler) PaymentState(entity domain.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}

		state, err := h.saga.State(c.Request.Context(), principal(c), domain.Ref{Entity: entity, ID: id})
		if err != nil {
			c.Error(err)
			return
		}
		respond(c, http.StatusOK, paymentStateResponse(state))
	}
}

// SettleCash chooses cash on delivery for an accepted record
// @Summary Pay cash on delivery
// @Tags payments
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "Record ID"
// @Success 200 {object} SuccessResponse{data=RecordResponse}
// @Failure 409 {object} errors.ErrorResponse "Not accepted yet or already paid"
// @Router /api/v1/orders/{id}/payments/cash [post]
// @Router /api/v1/bookings/{id}/payments/cash [post]
func (h *HTTPHandler) SettleCash(entity domain.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}

		record, err := h.saga.SettleCash(c.Request.Context(), principal(c), domain.Ref{Entity: entity, ID: id})
		if err != nil {
			c.Error(err)
			return
		}
		respond(c, http.StatusOK, recordResponse(record))
	}
}

// StartCheckout opens a hosted checkout for an accepted record
// @Summary Pay online
// @Description Opens a hosted checkout session and returns the URL to send the buyer to
// @Tags payments
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "Record ID"
// @Success 201 {object} SuccessResponse{data=CheckoutResponse}
// @Success 200 {object} SuccessResponse{data=CheckoutResponse} "Open session resumed"
// @Failure 409 {object} errors.ErrorResponse "Not accepted yet or already paid"
// @Failure 422 {object} errors.ErrorResponse "Gateway refused or cash only"
// @Failure 503 {object} errors.ErrorResponse "Gateway unavailable, retry or pay cash"
// @Router /api/v1/orders/{id}/payments/checkout [post]
// @Router /api/v1/bookings/{id}/payments/checkout [post]
func (h *HTTPHandler) StartCheckout(entity domain.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}

		ref := domain.Ref{Entity: entity, ID: id}
		success, cancel := h.returnURLs(ref)
		out, err := h.saga.StartCheckout(c.Request.Context(), principal(c), ref, success, cancel)
		if err != nil {
			c.Error(err)
			return
		}
		code := http.StatusCreated
		if out.Resumed {
			code = http.StatusOK
		}
		respond(c, code, CheckoutResponse{
			SessionID:   out.SessionID,
			RedirectURL: out.RedirectURL,
			Resumed:     out.Resumed,
		})
	}
}

// returnURLs builds the browser return targets. The cancel URL names the
// record because not every provider fills in the session id there, and
// carries the session's cancel token so only that session can be abandoned.
func (h *HTTPHandler) returnURLs(ref domain.Ref) (string, string) {
	success := h.cfg.PublicBaseURL + "/api/v1/payments/success?session_id=" + sessionIDPlaceholder
	q := url.Values{}
	q.Set("entity", string(ref.Entity))
	q.Set("id", strconv.FormatUint(ref.ID, 10))
	cancel := h.cfg.PublicBaseURL + "/api/v1/payments/cancel?" + q.Encode() + "&token=" + application.CancelTokenPlaceholder
	return success, cancel
}

// CheckoutSuccess handles the buyer's return after paying
// @Summary Checkout success return
// @Tags payments
// @Produce json
// @Param session_id query string true "Checkout session ID"
// @Success 200 {object} SuccessResponse{data=CompletionResponse}
// @Failure 404 {object} errors.ErrorResponse "Unknown session"
// @Failure 503 {object} errors.ErrorResponse "Gateway unavailable"
// @Router /api/v1/payments/success [get]
func (h *HTTPHandler) CheckoutSuccess(c *gin.Context) {
	out, err := h.saga.CompleteCheckout(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, completionResponse(out))
}

// CheckoutCancel handles the buyer backing out of a hosted checkout
// @Summary Checkout cancel return
// @Tags payments
// @Produce json
// @Param session_id query string false "Checkout session ID"
// @Param entity query string false "order or booking, used without session_id"
// @Param id query int false "Record ID, used without session_id"
// @Param token query string false "Cancel token, used without session_id"
// @Success 200 {object} SuccessResponse{data=[]CompletionResponse}
// @Failure 400 {object} errors.ErrorResponse "Neither session_id nor entity, id and token"
// @Failure 404 {object} errors.ErrorResponse "Unknown session or token"
// @Router /api/v1/payments/cancel [get]
func (h *HTTPHandler) CheckoutCancel(c *gin.Context) {
	if sessionID := strings.TrimSpace(c.Query("session_id")); sessionID != "" {
		out, err := h.saga.AbandonCheckout(c.Request.Context(), sessionID)
		if err != nil {
			c.Error(err)
			return
		}
		respond(c, http.StatusOK, []CompletionResponse{completionResponse(out)})
		return
	}

	ref, err := refFromQuery(c)
	if err != nil {
		c.Error(err)
		return
	}
	out, err := h.saga.AbandonByCancelToken(c.Request.Context(), ref, c.Query("token"))
	if err != nil {
		c.Error(err)
		return
	}
	respond(c, http.StatusOK, []CompletionResponse{completionResponse(out)})
}

// AbandonCheckouts abandons every open checkout session of a record
// @Summary Abandon open checkouts
// @Description Closes the record's open hosted checkout sessions so the buyer can pay another way
// @Tags payments
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "Record ID"
// @Success 200 {object} SuccessResponse{data=[]CompletionResponse}
// @Failure 404 {object} errors.ErrorResponse "Record not found"
// @Failure 503 {object} errors.ErrorResponse "Gateway unavailable"
// @Router /api/v1/orders/{id}/payments/abandon [post]
// @Router /api/v1/bookings/{id}/payments/abandon [post]
func (h *HTTPHandler) AbandonCheckouts(entity domain.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}

		outs, err := h.saga.AbandonOpenCheckouts(c.Request.Context(), principal(c), domain.Ref{Entity: entity, ID: id})
		if err != nil {
			c.Error(err)
			return
		}
		resp := make([]CompletionResponse, len(outs))
		for i, out := range outs {
			resp[i] = completionResponse(out)
		}
		respond(c, http.StatusOK, resp)
	}
}

func refFromQuery(c *gin.Context) (domain.Ref, error) {
	entity := domain.EntityKind(c.Query("entity"))
	if entity != domain.EntityOrder && entity != domain.EntityBooking {
		return domain.Ref{}, errors.NewValidation("session_id or entity, id and token are required", nil)
	}
	id, err := strconv.ParseUint(c.Query("id"), 10, 64)
	if err != nil || id == 0 {
		return domain.Ref{}, errors.NewValidation(fmt.Sprintf("invalid %s id", entity), nil)
	}
	return domain.Ref{Entity: entity, ID: id}, nil
}

// SetPaymentReference records a payment taken outside the gateway
// @Summary Record a payment reference
// @Description Admin only. Attaches the reference and moves to next (default confirmed) in one step.
// @Tags admin
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "Record ID"
// @Param request body PaymentReferenceRequest true "Payment reference"
// @Success 200 {object} SuccessResponse{data=RecordResponse}
// @Failure 409 {object} errors.ErrorResponse "Reference already set or transition not allowed"
// @Router /api/v1/orders/{id}/payment-reference [put]
// @Router /api/v1/bookings/{id}/payment-reference [put]
func (h *HTTPHandler) SetPaymentReference(entity domain.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var req PaymentReferenceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errors.NewValidation("invalid request body", err.Error()))
			return
		}

		next := domain.Confirmed()
		if req.Next != nil {
			var err error
			if next, err = req.Next.status(); err != nil {
				c.Error(err)
				return
			}
		}

		record, err := h.lifecycle.SetPaymentReference(c.Request.Context(), principal(c), application.SetPaymentReferenceInput{
			Ref:       domain.Ref{Entity: entity, ID: id},
			Reference: req.Reference,
			Next:      next,
		})
		if err != nil {
			c.Error(err)
			return
		}
		respond(c, http.StatusOK, recordResponse(record))
	}
}

// SetCashOnly switches digital payments off or on
// @Summary Toggle cash-only mode
// @Tags admin
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body CashOnlyRequest true "Cash-only switch"
// @Success 200 {object} SuccessResponse{data=CapabilitiesResponse}
// @Failure 403 {object} errors.ErrorResponse "Admin role required"
// @Router /api/v1/admin/payments/cash-only [put]
func (h *HTTPHandler) SetCashOnly(c *gin.Context) {
	var req CashOnlyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewValidation("invalid request body", err.Error()))
		return
	}

	h.modes.SetCashOnly(*req.CashOnly)
	respond(c, http.StatusOK, capabilitiesResponse(h.saga.Capabilities()))
}
