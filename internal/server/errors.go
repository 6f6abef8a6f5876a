package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/orderflow/internal/audit/domain"
	"github.com/smallbiznis/orderflow/internal/authorization"
	catalogdomain "github.com/smallbiznis/orderflow/internal/catalog/domain"
	checkoutdomain "github.com/smallbiznis/orderflow/internal/checkout/domain"
	idempotencydomain "github.com/smallbiznis/orderflow/internal/idempotency/domain"
	inventorydomain "github.com/smallbiznis/orderflow/internal/inventory/domain"
	"github.com/smallbiznis/orderflow/internal/notification"
	orderdomain "github.com/smallbiznis/orderflow/internal/order/domain"
	paymentdomain "github.com/smallbiznis/orderflow/internal/payment/domain"
	promotiondomain "github.com/smallbiznis/orderflow/internal/promotion/domain"
	"github.com/smallbiznis/orderflow/pkg/db/pagination"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var checkoutErr *checkoutdomain.ValidationError
	if errors.As(err, &checkoutErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{{
				Field:   checkoutErr.Field,
				Code:    "invalid_" + lastSegment(checkoutErr.Field),
				Message: checkoutErr.Reason,
			}},
		}
	}

	if isValidationError(err) {
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var stockErr *inventorydomain.OutOfStockError
	if errors.As(err, &stockErr) {
		return http.StatusConflict, errorPayload{
			Type:    "out_of_stock",
			Message: "insufficient stock",
			Errors: []ValidationError{{
				Field:   "items.product_id",
				Code:    stockErr.Error(),
				Message: strconv.FormatInt(stockErr.ProductID, 10),
			}},
		}
	}

	var promoErr *promotiondomain.InvalidPromotionError
	if errors.As(err, &promoErr) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "invalid_promotion",
			Message: "promotion code cannot be applied",
			Errors: []ValidationError{{
				Field:   "promotion_code",
				Code:    promoErr.Reason,
				Message: promotionMessage(promoErr.Reason),
			}},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, inventorydomain.ErrInsufficientStock):
		return http.StatusConflict, errorPayload{
			Type:    "out_of_stock",
			Message: "insufficient stock",
		}
	case errors.Is(err, orderdomain.ErrInvalidTransition):
		return http.StatusConflict, errorPayload{
			Type:    "invalid_transition",
			Message: "order cannot move to the requested status",
		}
	case errors.Is(err, idempotencydomain.ErrRequestInProgress):
		return http.StatusConflict, errorPayload{
			Type:    "request_in_progress",
			Message: "a request with this idempotency key is still being processed",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, orderdomain.ErrConcurrentUpdate),
		errors.Is(err, catalogdomain.ErrCodeTaken),
		errors.Is(err, promotiondomain.ErrCodeTaken):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, notification.ErrHubUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog reports the error type and code written to the request log.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, notification.ErrInvalidUser),
		errors.Is(err, idempotencydomain.ErrInvalidCaller),
		errors.Is(err, idempotencydomain.ErrInvalidToken),
		errors.Is(err, inventorydomain.ErrInvalidQuantity),
		errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return true
	case isOrderValidationError(err),
		isProductValidationError(err),
		isPromotionValidationError(err),
		isPaymentValidationError(err):
		return true
	default:
		return false
	}
}

func isOrderValidationError(err error) bool {
	switch {
	case errors.Is(err, orderdomain.ErrInvalidOrder),
		errors.Is(err, orderdomain.ErrInvalidUser),
		errors.Is(err, orderdomain.ErrInvalidItems),
		errors.Is(err, orderdomain.ErrInvalidQuantity),
		errors.Is(err, orderdomain.ErrInvalidPaymentMethod),
		errors.Is(err, orderdomain.ErrInvalidTotal),
		errors.Is(err, orderdomain.ErrInvalidTargetStatus):
		return true
	default:
		return false
	}
}

func isProductValidationError(err error) bool {
	switch {
	case errors.Is(err, catalogdomain.ErrInvalidCode),
		errors.Is(err, catalogdomain.ErrInvalidName),
		errors.Is(err, catalogdomain.ErrInvalidPrice),
		errors.Is(err, catalogdomain.ErrInvalidStock),
		errors.Is(err, catalogdomain.ErrInvalidQuantity),
		errors.Is(err, catalogdomain.ErrInvalidID):
		return true
	default:
		return false
	}
}

func isPromotionValidationError(err error) bool {
	switch {
	case errors.Is(err, promotiondomain.ErrInvalidCode),
		errors.Is(err, promotiondomain.ErrInvalidDiscountType),
		errors.Is(err, promotiondomain.ErrInvalidValue),
		errors.Is(err, promotiondomain.ErrInvalidWindow):
		return true
	default:
		return false
	}
}

func isPaymentValidationError(err error) bool {
	switch {
	case errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrInvalidPayload):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, catalogdomain.ErrNotFound),
		errors.Is(err, inventorydomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "invalid_idempotency_key":
		return "Idempotency-Key"
	case "invalid_page_token":
		return "page_token"
	case "invalid_target_status":
		return "status"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_idempotency_key":
		return "idempotency key is malformed"
	default:
		return "invalid value"
	}
}

func promotionMessage(reason string) string {
	switch reason {
	case "code_not_found":
		return "promotion code does not exist"
	case "code_expired":
		return "promotion code is not active"
	case "usage_exhausted":
		return "promotion code has no remaining uses"
	case "below_minimum":
		return "order subtotal is below the promotion minimum"
	default:
		return "promotion code cannot be applied"
	}
}

func lastSegment(field string) string {
	if i := strings.LastIndex(field, "."); i >= 0 {
		return field[i+1:]
	}
	return field
}
