package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/orderflow/internal/authorization"
	promotiondomain "github.com/smallbiznis/orderflow/internal/promotion/domain"
)

type validatePromotionRequest struct {
	Code     string `json:"code"`
	Subtotal int64  `json:"subtotal"`
}

// ValidatePromotion quotes a code against a subtotal without consuming it.
// The quote is advisory; checkout re-prices under lock.
func (s *Server) ValidatePromotion(c *gin.Context) {
	var req validatePromotionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Subtotal < 0 {
		AbortWithError(c, newValidationError("subtotal", "invalid_subtotal", "subtotal must not be negative"))
		return
	}

	quote, err := s.promotionSvc.Price(c.Request.Context(), req.Code, req.Subtotal)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quote})
}

func (s *Server) CreatePromotion(c *gin.Context) {
	var req promotiondomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	promo, err := s.promotionSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, authorization.ActionPromotionCreate, authorization.ObjectPromotion, strconv.FormatInt(promo.ID, 10), map[string]any{
		"code":          promo.Code,
		"discount_type": string(promo.DiscountType),
		"value":         promo.Value,
	})
	c.JSON(http.StatusCreated, gin.H{"data": promo})
}

func (s *Server) ListPromotions(c *gin.Context) {
	activeOnly, err := parseOptionalBool(c.Query("active"))
	if err != nil {
		AbortWithError(c, newValidationError("active", "invalid_active", "invalid active"))
		return
	}

	promos, err := s.promotionSvc.List(c.Request.Context(), activeOnly != nil && *activeOnly)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": promos})
}
