package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shipsync/backend/internal/domain/shared"
	"github.com/shipsync/backend/internal/domain/shipping"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ShipmentModel is the GORM model for shipments.
// Identifiers are stored as strings so the same model migrates on PostgreSQL and SQLite.
type ShipmentModel struct {
	ShipmentID        string          `gorm:"type:varchar(64);primaryKey"`
	OrderID           *string         `gorm:"type:varchar(36);index"`
	OrderNumber       string          `gorm:"type:varchar(100);index"`
	TrackingNumber    string          `gorm:"type:varchar(100);index"`
	CarrierCode       string          `gorm:"type:varchar(50)"`
	ServiceCode       string          `gorm:"type:varchar(100)"`
	Status            string          `gorm:"type:varchar(30);not null"`
	StatusDescription string          `gorm:"type:varchar(255)"`
	ShipDate          *time.Time
	ShipmentCost      decimal.Decimal `gorm:"type:decimal(12,2)"`
	LabelURL          string          `gorm:"type:text"`
	RawPayload        string          `gorm:"type:text"`
	FirstObservedAt   time.Time       `gorm:"not null"`
	HoldObservedAt    *time.Time
	HoldReleasedAt    *time.Time
	CreatedAt         time.Time       `gorm:"autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (ShipmentModel) TableName() string {
	return "shipments"
}

// ToEntity converts the model to a domain shipment
func (m *ShipmentModel) ToEntity() *shipping.Shipment {
	var orderID *uuid.UUID
	if m.OrderID != nil {
		if id, err := uuid.Parse(*m.OrderID); err == nil {
			orderID = &id
		}
	}
	var raw json.RawMessage
	if m.RawPayload != "" {
		raw = json.RawMessage(m.RawPayload)
	}
	return &shipping.Shipment{
		ShipmentID:        m.ShipmentID,
		OrderID:           orderID,
		OrderNumber:       m.OrderNumber,
		TrackingNumber:    m.TrackingNumber,
		CarrierCode:       m.CarrierCode,
		ServiceCode:       m.ServiceCode,
		Status:            shipping.ShipmentStatus(m.Status),
		StatusDescription: m.StatusDescription,
		ShipDate:          m.ShipDate,
		ShipmentCost:      m.ShipmentCost,
		LabelURL:          m.LabelURL,
		RawPayload:        raw,
		FirstObservedAt:   m.FirstObservedAt,
		HoldObservedAt:    m.HoldObservedAt,
		HoldReleasedAt:    m.HoldReleasedAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// ShipmentModelFromEntity creates a model from a domain shipment
func ShipmentModelFromEntity(s *shipping.Shipment) *ShipmentModel {
	var orderID *string
	if s.IsLinked() {
		id := s.OrderID.String()
		orderID = &id
	}
	return &ShipmentModel{
		ShipmentID:        s.ShipmentID,
		OrderID:           orderID,
		OrderNumber:       s.OrderNumber,
		TrackingNumber:    s.TrackingNumber,
		CarrierCode:       s.CarrierCode,
		ServiceCode:       s.ServiceCode,
		Status:            string(s.Status),
		StatusDescription: s.StatusDescription,
		ShipDate:          s.ShipDate,
		ShipmentCost:      s.ShipmentCost,
		LabelURL:          s.LabelURL,
		RawPayload:        string(s.RawPayload),
		FirstObservedAt:   s.FirstObservedAt,
		HoldObservedAt:    s.HoldObservedAt,
		HoldReleasedAt:    s.HoldReleasedAt,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

// ShipmentRepository implements shipping.ShipmentRepository using GORM
type ShipmentRepository struct {
	db *gorm.DB
}

// NewShipmentRepository creates a new shipment repository
func NewShipmentRepository(db *gorm.DB) *ShipmentRepository {
	return &ShipmentRepository{db: db}
}

// Upsert merges the remote shipment into the stored row keyed by shipment id
func (r *ShipmentRepository) Upsert(ctx context.Context, shipment *shipping.Shipment) (*shipping.Shipment, error) {
	if !shipment.HasIdentity() {
		return nil, fmt.Errorf("%w: shipment id is required", shared.ErrInvalidInput)
	}

	var stored *shipping.Shipment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing *shipping.Shipment
		var model ShipmentModel
		err := tx.Where("shipment_id = ?", shipment.ShipmentID).First(&model).Error
		switch {
		case err == nil:
			existing = model.ToEntity()
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return err
		}

		merged := shipping.MergeRemote(existing, *shipment, time.Now())
		row := ShipmentModelFromEntity(&merged)
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "shipment_id"}},
			UpdateAll: true,
		}).Create(row).Error; err != nil {
			return err
		}
		stored = &merged
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// FindByShipmentID retrieves a shipment by its remote identifier
func (r *ShipmentRepository) FindByShipmentID(ctx context.Context, shipmentID string) (*shipping.Shipment, error) {
	var model ShipmentModel
	if err := r.db.WithContext(ctx).Where("shipment_id = ?", shipmentID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindByOrderID retrieves every shipment linked to the order
func (r *ShipmentRepository) FindByOrderID(ctx context.Context, orderID uuid.UUID) ([]shipping.Shipment, error) {
	var models []ShipmentModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID.String()).
		Order("first_observed_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	shipments := make([]shipping.Shipment, len(models))
	for i := range models {
		shipments[i] = *models[i].ToEntity()
	}
	return shipments, nil
}

// LinkOrder attaches shipments stored without an order to the now-known local order
func (r *ShipmentRepository) LinkOrder(ctx context.Context, orderNumber string, orderID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&ShipmentModel{}).
		Where("order_number = ? AND order_id IS NULL", orderNumber).
		Updates(map[string]any{
			"order_id":   orderID.String(),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

var _ shipping.ShipmentRepository = (*ShipmentRepository)(nil)
