package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shipsync/backend/internal/domain/lifecycle"
	"github.com/shipsync/backend/internal/domain/shared"
	"github.com/shipsync/backend/internal/domain/shipping"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderModel is the GORM model for local orders.
// Phase and subphase ranks are stored next to their names so the forward-only
// guard can be expressed as a single conditional UPDATE.
type OrderModel struct {
	ID                  string `gorm:"type:varchar(36);primaryKey"`
	OrderNumber         string `gorm:"type:varchar(100);uniqueIndex;not null"`
	PlatformStatus      string `gorm:"type:varchar(50)"`
	ItemCount           int    `gorm:"not null;default:0"`
	LifecyclePhase      string `gorm:"type:varchar(30);not null"`
	PhaseRank           int    `gorm:"not null;index"`
	DecisionSubphase    string `gorm:"type:varchar(30)"`
	SubphaseRank        int    `gorm:"not null"`
	ItemsHydrated       bool   `gorm:"not null;default:false"`
	ItemsCategorized    bool   `gorm:"not null;default:false"`
	FingerprintComputed bool   `gorm:"not null;default:false"`
	PackagingAssigned   bool   `gorm:"not null;default:false"`
	RateChecked         bool   `gorm:"not null;default:false"`
	SessionAssigned     bool   `gorm:"not null;default:false"`
	PickStarted         bool   `gorm:"not null;default:false"`
	PickCompleted       bool   `gorm:"not null;default:false"`
	LifecycleUpdatedAt  *time.Time
	CreatedAt           time.Time `gorm:"autoCreateTime"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (OrderModel) TableName() string {
	return "orders"
}

// ToEntity converts the model to a lifecycle order
func (m *OrderModel) ToEntity() *lifecycle.Order {
	id, _ := uuid.Parse(m.ID)
	return &lifecycle.Order{
		ID:                  id,
		OrderNumber:         m.OrderNumber,
		PlatformStatus:      m.PlatformStatus,
		ItemCount:           m.ItemCount,
		Stage:               lifecycle.NewStage(lifecycle.Phase(m.LifecyclePhase), lifecycle.Subphase(m.DecisionSubphase)),
		ItemsHydrated:       m.ItemsHydrated,
		ItemsCategorized:    m.ItemsCategorized,
		FingerprintComputed: m.FingerprintComputed,
		PackagingAssigned:   m.PackagingAssigned,
		RateChecked:         m.RateChecked,
		SessionAssigned:     m.SessionAssigned,
		PickStarted:         m.PickStarted,
		PickCompleted:       m.PickCompleted,
		LifecycleUpdatedAt:  m.LifecycleUpdatedAt,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

// OrderModelFromEntity creates a model from a lifecycle order
func OrderModelFromEntity(o *lifecycle.Order) *OrderModel {
	stage := lifecycle.NewStage(o.Stage.Phase, o.Stage.Subphase)
	return &OrderModel{
		ID:                  o.ID.String(),
		OrderNumber:         o.OrderNumber,
		PlatformStatus:      o.PlatformStatus,
		ItemCount:           o.ItemCount,
		LifecyclePhase:      string(stage.Phase),
		PhaseRank:           stage.Phase.Rank(),
		DecisionSubphase:    string(stage.Subphase),
		SubphaseRank:        stage.Subphase.Rank(),
		ItemsHydrated:       o.ItemsHydrated,
		ItemsCategorized:    o.ItemsCategorized,
		FingerprintComputed: o.FingerprintComputed,
		PackagingAssigned:   o.PackagingAssigned,
		RateChecked:         o.RateChecked,
		SessionAssigned:     o.SessionAssigned,
		PickStarted:         o.PickStarted,
		PickCompleted:       o.PickCompleted,
		LifecycleUpdatedAt:  o.LifecycleUpdatedAt,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}
}

// OrderRepository implements lifecycle.OrderRepository using GORM
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// FindByID retrieves an order by its local identifier
func (r *OrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*lifecycle.Order, error) {
	var model OrderModel
	if err := r.db.WithContext(ctx).Where("id = ?", id.String()).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindByOrderNumber retrieves an order by its platform order number
func (r *OrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (*lifecycle.Order, error) {
	var model OrderModel
	if err := r.db.WithContext(ctx).Where("order_number = ?", orderNumber).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// SaveStage writes next unless the stored stage is already ahead of it.
// The rank guard lives in the WHERE clause so concurrent writers cannot regress the order.
func (r *OrderRepository) SaveStage(ctx context.Context, id uuid.UUID, next lifecycle.Stage) (bool, error) {
	if !next.Phase.IsValid() {
		return false, fmt.Errorf("%w: unknown phase %q", shared.ErrInvalidInput, next.Phase)
	}
	next = lifecycle.NewStage(next.Phase, next.Subphase)
	phaseRank := next.Phase.Rank()
	subphaseRank := next.Subphase.Rank()
	now := time.Now()

	result := r.db.WithContext(ctx).
		Model(&OrderModel{}).
		Where("id = ?", id.String()).
		Where("phase_rank < ? OR (phase_rank = ? AND subphase_rank <= ?)", phaseRank, phaseRank, subphaseRank).
		Updates(map[string]any{
			"lifecycle_phase":      string(next.Phase),
			"phase_rank":           phaseRank,
			"decision_subphase":    string(next.Subphase),
			"subphase_rank":        subphaseRank,
			"lifecycle_updated_at": now,
			"updated_at":           now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&OrderModel{}).Where("id = ?", id.String()).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, shared.ErrNotFound
	}
	return false, nil
}

// UpsertImported inserts an imported order, or refreshes the platform fields of the
// existing order with the same number. Returns true when a row was inserted.
func (r *OrderRepository) UpsertImported(ctx context.Context, order *lifecycle.Order) (*lifecycle.Order, bool, error) {
	model := OrderModelFromEntity(order)

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_number"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected > 0 {
		return model.ToEntity(), true, nil
	}

	if err := r.db.WithContext(ctx).
		Model(&OrderModel{}).
		Where("order_number = ?", order.OrderNumber).
		Updates(map[string]any{
			"platform_status": order.PlatformStatus,
			"item_count":      order.ItemCount,
			"updated_at":      time.Now(),
		}).Error; err != nil {
		return nil, false, err
	}

	existing, err := r.FindByOrderNumber(ctx, order.OrderNumber)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

var _ lifecycle.OrderRepository = (*OrderRepository)(nil)

// OrderLookup resolves order numbers for the sync resolver on top of OrderRepository
type OrderLookup struct {
	orders *OrderRepository
}

// NewOrderLookup creates an order lookup backed by the order repository
func NewOrderLookup(orders *OrderRepository) *OrderLookup {
	return &OrderLookup{orders: orders}
}

// FindByOrderNumber returns the local order reference or shared.ErrNotFound
func (l *OrderLookup) FindByOrderNumber(ctx context.Context, orderNumber string) (*shipping.OrderRef, error) {
	order, err := l.orders.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	return order.Ref(), nil
}

var _ shipping.OrderLookup = (*OrderLookup)(nil)
