package domain

import (
	"time"

	"gorm.io/datatypes"
)

type Product struct {
	ID          int64             `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Code        string            `json:"code" gorm:"size:128;not null;uniqueIndex:ux_products_code"`
	Name        string            `json:"name" gorm:"size:255;not null"`
	Description *string           `json:"description,omitempty" gorm:"type:text"`
	Price       int64             `json:"price" gorm:"not null"`
	Active      bool              `json:"active" gorm:"not null;default:true"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time         `json:"updated_at" gorm:"not null"`
}

func (Product) TableName() string { return "products" }
