package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/orderflow/internal/authorization"
	orderdomain "github.com/smallbiznis/orderflow/internal/order/domain"
	"github.com/smallbiznis/orderflow/internal/providers/pdf"
	"github.com/smallbiznis/orderflow/pkg/db/pagination"
)

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type transitionOrderRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (s *Server) ListOrders(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orders, pageInfo, err := s.orderSvc.List(c.Request.Context(), userIDFromContext(c), page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	data := make([]orderdomain.Response, 0, len(orders))
	for i := range orders {
		data = append(data, orderdomain.ToResponse(&orders[i]))
	}
	c.JSON(http.StatusOK, gin.H{"data": data, "page_info": pageInfo})
}

func (s *Server) GetOrderByID(c *gin.Context) {
	order, err := s.orderSvc.GetForUser(c.Request.Context(), userIDFromContext(c), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": orderdomain.ToResponse(order)})
}

func (s *Server) CancelOrder(c *gin.Context) {
	var req cancelOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	id := strings.TrimSpace(c.Param("id"))
	c.Set("order_id", id)
	order, err := s.orderSvc.Cancel(c.Request.Context(), userIDFromContext(c), id, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": orderdomain.ToResponse(order)})
}

func (s *Server) GetOrderReceipt(c *gin.Context) {
	if s.receipts == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	ctx := c.Request.Context()
	order, err := s.orderSvc.GetForUser(ctx, userIDFromContext(c), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := s.receipts.GenerateReceipt(ctx, pdf.ReceiptFromOrder(s.cfg.AppName, order))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	body, err := io.ReadAll(doc)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="receipt-%s.pdf"`, order.Reference))
	c.Data(http.StatusOK, "application/pdf", body)
}

func (s *Server) TransitionOrder(c *gin.Context) {
	var req transitionOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	target := orderdomain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !target.Valid() {
		AbortWithError(c, newValidationError("status", "invalid_status", "unknown order status"))
		return
	}

	actor := "admin"
	if principal, ok := principalFromContext(c); ok {
		actor = principal.Subject
	}

	id := strings.TrimSpace(c.Param("id"))
	c.Set("order_id", id)
	order, err := s.orderSvc.Transition(c.Request.Context(), id, target, orderdomain.TransitionOptions{
		Reason: strings.TrimSpace(req.Reason),
		Actor:  actor,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, authorization.ActionOrderTransition, authorization.ObjectOrder, id, map[string]any{
		"to_status": string(order.Status),
		"reason":    strings.TrimSpace(req.Reason),
	})
	c.JSON(http.StatusOK, gin.H{"data": orderdomain.ToResponse(order)})
}

func (s *Server) GetOrderHistory(c *gin.Context) {
	history, err := s.orderSvc.History(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": history})
}
