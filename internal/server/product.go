package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/orderflow/internal/authorization"
	catalogdomain "github.com/smallbiznis/orderflow/internal/catalog/domain"
)

type restockRequest struct {
	Quantity int64 `json:"quantity"`
}

func (s *Server) CreateProduct(c *gin.Context) {
	var req catalogdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.catalogSvc.Create(c.Request.Context(), catalogdomain.CreateRequest{
		Code:         strings.TrimSpace(req.Code),
		Name:         strings.TrimSpace(req.Name),
		Description:  req.Description,
		Price:        req.Price,
		Active:       req.Active,
		InitialStock: req.InitialStock,
		Metadata:     req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, authorization.ActionProductCreate, authorization.ObjectProduct, resp.ID, map[string]any{
		"code":          resp.Code,
		"price":         resp.Price,
		"initial_stock": req.InitialStock,
	})
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListProducts(c *gin.Context) {
	var query struct {
		Name   string `form:"name"`
		Active string `form:"active"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	active, err := parseOptionalBool(query.Active)
	if err != nil {
		AbortWithError(c, newValidationError("active", "invalid_active", "invalid active"))
		return
	}
	if active == nil {
		enabled := true
		active = &enabled
	}

	resp, err := s.catalogSvc.List(c.Request.Context(), catalogdomain.ListRequest{
		Name:   strings.TrimSpace(query.Name),
		Active: active,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetProductByID(c *gin.Context) {
	resp, err := s.catalogSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RestockProduct(c *gin.Context) {
	var req restockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.catalogSvc.Restock(c.Request.Context(), strings.TrimSpace(c.Param("id")), req.Quantity)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordAudit(c, authorization.ActionProductRestock, authorization.ObjectProduct, resp.ID, map[string]any{
		"quantity":  req.Quantity,
		"available": resp.Available,
	})

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
