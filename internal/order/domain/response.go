package domain

import "strconv"

// ToResponse converts o to its wire form.
func ToResponse(o *Order) Response {
	resp := Response{
		ID:             strconv.FormatInt(o.ID, 10),
		Reference:      o.Reference,
		UserID:         o.UserID,
		Status:         o.Status,
		Subtotal:       o.Subtotal,
		Discount:       o.Discount,
		ShippingFee:    o.ShippingFee,
		Total:          o.Total,
		PromotionCode:  o.PromotionCode,
		PaymentMethod:  o.PaymentMethod,
		PaidAmount:     o.PaidAmount,
		PaidAt:         o.PaidAt,
		ReviewRequired: o.ReviewRequired,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, ItemResponse{
			ProductID: strconv.FormatInt(item.ProductID, 10),
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		})
	}
	return resp
}
