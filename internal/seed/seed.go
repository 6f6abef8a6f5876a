package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"gorm.io/gorm"

	catalogdomain "github.com/smallbiznis/orderflow/internal/catalog/domain"
	inventorydomain "github.com/smallbiznis/orderflow/internal/inventory/domain"
	promotiondomain "github.com/smallbiznis/orderflow/internal/promotion/domain"
)

type demoProduct struct {
	name  string
	price int64
	stock int64
}

var demoProducts = []demoProduct{
	{name: "Kopi Susu Gula Aren", price: 250_000, stock: 100},
	{name: "Teh Tarik", price: 180_000, stock: 80},
	{name: "Roti Bakar Cokelat", price: 320_000, stock: 40},
	{name: "Limited Edition Tumbler", price: 1_000_000, stock: 5},
}

// EnsureDemoCatalog seeds a small catalog with stock and the SALE20 promotion.
// Existing rows are left untouched.
func EnsureDemoCatalog(db *gorm.DB, node *snowflake.Node) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if node == nil {
		return errors.New("seed id generator is required")
	}

	ctx := context.Background()
	now := time.Now().UTC()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range demoProducts {
			if err := ensureProductTx(ctx, tx, node, item, now); err != nil {
				return err
			}
		}
		return ensurePromotionTx(ctx, tx, node, now)
	})
}

func ensureProductTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, item demoProduct, now time.Time) error {
	code := slug.Make(item.name)

	var existing catalogdomain.Product
	err := tx.WithContext(ctx).Where("code = ?", code).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	product := catalogdomain.Product{
		ID:        node.Generate().Int64(),
		Code:      code,
		Name:      item.name,
		Price:     item.price,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&product).Error; err != nil {
		return err
	}
	return tx.WithContext(ctx).Create(&inventorydomain.Record{
		ProductID: product.ID,
		Available: item.stock,
		UpdatedAt: now,
	}).Error
}

func ensurePromotionTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, now time.Time) error {
	var count int64
	if err := tx.WithContext(ctx).Model(&promotiondomain.Promotion{}).
		Where("code = ?", "SALE20").
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	limit := int64(100)
	return tx.WithContext(ctx).Create(&promotiondomain.Promotion{
		ID:            node.Generate().Int64(),
		Code:          "SALE20",
		DiscountType:  promotiondomain.DiscountPercentage,
		Value:         20,
		UsageLimit:    &limit,
		RemainingUses: &limit,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}).Error
}
