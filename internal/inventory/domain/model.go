package domain

import (
	"strconv"
	"time"

	"github.com/smallbiznis/orderflow/internal/keylock"
)

// Record holds the sellable quantity of one product.
type Record struct {
	ProductID int64     `json:"product_id" gorm:"primaryKey;autoIncrement:false"`
	Available int64     `json:"available" gorm:"not null;default:0;check:chk_inventory_available,available >= 0"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Record) TableName() string { return "inventory_records" }

// Release marks an order whose stock has already been returned.
type Release struct {
	OrderID    int64     `gorm:"primaryKey;autoIncrement:false"`
	ReleasedAt time.Time `gorm:"not null"`
}

func (Release) TableName() string { return "inventory_releases" }

// Movement is an append-only audit row for every stock delta.
type Movement struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	ProductID int64     `json:"product_id" gorm:"not null;index:idx_inventory_movements_product"`
	OrderID   *int64    `json:"order_id,omitempty" gorm:"index:idx_inventory_movements_order"`
	Delta     int64     `json:"delta" gorm:"not null"`
	Reason    string    `json:"reason" gorm:"size:32;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

func (Movement) TableName() string { return "inventory_movements" }

const (
	ReasonCheckout   = "checkout"
	ReasonCompensate = "compensate"
	ReasonCancel     = "cancel"
	ReasonRestock    = "restock"
	ReasonInitial    = "initial"
	ReasonRelease    = "release"
)

// Line is a product quantity pair taken from an order.
type Line struct {
	ProductID int64
	Quantity  int64
}

// LockKey names the critical section guarding a product's stock.
func LockKey(productID int64) string {
	return keylock.Key("product", strconv.FormatInt(productID, 10))
}
