package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	checkoutdomain "github.com/smallbiznis/orderflow/internal/checkout/domain"
	orderdomain "github.com/smallbiznis/orderflow/internal/order/domain"
)

type checkoutRequest struct {
	Items         []checkoutdomain.LineRequest `json:"items"`
	PromotionCode string                       `json:"promotion_code"`
	PaymentMethod string                       `json:"payment_method"`
}

func (s *Server) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, replayed, err := s.checkoutSvc.Checkout(c.Request.Context(), checkoutdomain.Request{
		CallerID:      userIDFromContext(c),
		Token:         strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey)),
		Lines:         req.Items,
		PromotionCode: req.PromotionCode,
		PaymentMethod: orderdomain.PaymentMethod(strings.TrimSpace(req.PaymentMethod)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("order_id", result.OrderID)
	status := http.StatusCreated
	if replayed {
		c.Set("idempotent_replay", true)
		c.Header(HeaderReplayed, "true")
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": result})
}
