package repository

import (
	"context"

	"github.com/smallbiznis/orderflow/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, product *domain.Product) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO products (id, code, name, description, price, active, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		product.ID,
		product.Code,
		product.Name,
		product.Description,
		product.Price,
		product.Active,
		product.Metadata,
		product.CreatedAt,
		product.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*domain.Product, error) {
	var p domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, description, price, active, metadata, created_at, updated_at
		 FROM products WHERE id = ?`,
		id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, ids []int64) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, description, price, active, metadata, created_at, updated_at
		 FROM products WHERE id IN ?`,
		ids,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListRequest) ([]domain.Product, error) {
	var items []domain.Product
	stmt := db.WithContext(ctx).Model(&domain.Product{})

	if filter.Name != "" {
		stmt = stmt.Where("name = ?", filter.Name)
	}
	if filter.Active != nil {
		stmt = stmt.Where("active = ?", *filter.Active)
	}

	if err := stmt.Order("created_at ASC").Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
