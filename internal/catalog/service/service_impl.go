package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/orderflow/internal/catalog/domain"
	"github.com/smallbiznis/orderflow/internal/clock"
	inventorydomain "github.com/smallbiznis/orderflow/internal/inventory/domain"
	"github.com/smallbiznis/orderflow/pkg/db"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         domain.Repository
	InventorySvc inventorydomain.Service
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	repo         domain.Repository
	genID        *snowflake.Node
	clock        clock.Clock
	inventorySvc inventorydomain.Service
}

func New(p Params) domain.Service {
	return NewService(p)
}

func NewService(p Params) *Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("catalog.service"),
		repo:         p.Repo,
		genID:        p.GenID,
		clock:        p.Clock,
		inventorySvc: p.InventorySvc,
	}
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Response, error) {
	filter := domain.ListRequest{
		Name:   strings.TrimSpace(req.Name),
		Active: req.Active,
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	stock, err := s.inventorySvc.Available(ctx, ids...)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i], stock[items[i].ID]))
	}
	return resp, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Response, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		code = name
	}
	code = slug.Make(code)
	if code == "" {
		return nil, domain.ErrInvalidCode
	}

	if req.Price < 0 {
		return nil, domain.ErrInvalidPrice
	}
	if req.InitialStock < 0 {
		return nil, domain.ErrInvalidStock
	}

	description := strings.TrimSpace(ptrToString(req.Description))
	var descriptionPtr *string
	if description != "" {
		descriptionPtr = &description
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := s.clock.Now()
	p := &domain.Product{
		ID:          s.genID.Generate().Int64(),
		Code:        code,
		Name:        name,
		Description: descriptionPtr,
		Price:       req.Price,
		Active:      active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Metadata != nil {
		p.Metadata = datatypes.JSONMap(req.Metadata)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Create(ctx, tx, p); err != nil {
			return err
		}
		return s.inventorySvc.Init(ctx, tx, p.ID, req.InitialStock)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrCodeTaken
		}
		return nil, err
	}

	s.log.Info("product created", zap.Int64("product_id", p.ID), zap.String("code", code))
	resp := toResponse(p, req.InitialStock)
	return &resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Response, error) {
	productID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	item, err := s.repo.FindByID(ctx, s.db, productID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}

	stock, err := s.inventorySvc.Available(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	resp := toResponse(item, stock[item.ID])
	return &resp, nil
}

// Prices returns the active products among ids. Unknown and inactive ids are
// absent from the result.
func (s *Service) Prices(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	items, err := s.repo.FindByIDs(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]domain.Product, len(items))
	for _, item := range items {
		if item.Active {
			out[item.ID] = item
		}
	}
	return out, nil
}

func (s *Service) Restock(ctx context.Context, id string, quantity int64) (*domain.Response, error) {
	productID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	item, err := s.repo.FindByID(ctx, s.db, productID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}

	rec, err := s.inventorySvc.Restock(ctx, productID, quantity)
	if err != nil {
		return nil, err
	}
	resp := toResponse(item, rec.Available)
	return &resp, nil
}

func parseID(value string) (int64, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidID
	}
	return id.Int64(), nil
}

func toResponse(p *domain.Product, available int64) domain.Response {
	resp := domain.Response{
		ID:          strconv.FormatInt(p.ID, 10),
		Code:        p.Code,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Active:      p.Active,
		Available:   available,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.Metadata != nil {
		resp.Metadata = map[string]any(p.Metadata)
	}
	return resp
}

func ptrToString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
