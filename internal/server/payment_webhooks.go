package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	paymentdomain "github.com/smallbiznis/orderflow/internal/payment/domain"
)

const maxWebhookBody = 64 << 10

type paymentWebhookRequest struct {
	ReferenceText string `json:"referenceText"`
	Amount        int64  `json:"amount"`
	Direction     string `json:"direction"`
	EventID       string `json:"eventId"`
}

// HandlePaymentWebhook reconciles one bank notification. Every well-formed
// notification is acknowledged with 200 and its outcome so the sender stops
// retrying.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil || len(payload) > maxWebhookBody {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req paymentWebhookRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.paymentSvc.Reconcile(c.Request.Context(), paymentdomain.PaymentEvent{
		EventID:       strings.TrimSpace(req.EventID),
		ReferenceText: req.ReferenceText,
		Amount:        req.Amount,
		Direction:     paymentdomain.Direction(strings.ToLower(strings.TrimSpace(req.Direction))),
	}, payload)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if result.OrderID != "" {
		c.Set("order_id", result.OrderID)
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ListPaymentEvents(c *gin.Context) {
	var query struct {
		ReviewOnly string `form:"review_only"`
		Outcome    string `form:"outcome"`
		Limit      string `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	reviewOnly, err := parseOptionalBool(query.ReviewOnly)
	if err != nil {
		AbortWithError(c, newValidationError("review_only", "invalid_review_only", "invalid review_only"))
		return
	}
	limit, err := parseOptionalInt64(query.Limit)
	if err != nil || (limit != nil && *limit < 0) {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}

	filter := paymentdomain.ListFilter{
		ReviewOnly: reviewOnly != nil && *reviewOnly,
		Outcome:    paymentdomain.Outcome(strings.TrimSpace(query.Outcome)),
	}
	if limit != nil {
		filter.Limit = int(*limit)
	}

	events, err := s.paymentSvc.ListEvents(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": events})
}
