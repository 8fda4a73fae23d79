package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shipsync/backend/internal/domain/shipping"
	"gorm.io/gorm"
)

const (
	defaultDeadLetterPageSize = 20
	maxDeadLetterPageSize     = 100
)

// DeadLetterModel is the GORM model for dead-lettered sync messages
type DeadLetterModel struct {
	ID               string    `gorm:"type:varchar(36);primaryKey"`
	Queue            string    `gorm:"type:varchar(30);not null;index"`
	MessageID        string    `gorm:"type:varchar(36);index"`
	OrderNumber      string    `gorm:"type:varchar(100);index"`
	TrackingNumber   string    `gorm:"type:varchar(100);index"`
	ShipmentID       string    `gorm:"type:varchar(64)"`
	Reason           string    `gorm:"type:varchar(30)"`
	ErrorMessage     string    `gorm:"type:text;not null"`
	RequestSnapshot  string    `gorm:"type:text"`
	ResponseSnapshot string    `gorm:"type:text"`
	RetryCount       int       `gorm:"not null;default:0"`
	FailedAt         time.Time `gorm:"not null;index"`
}

// TableName returns the table name for the model
func (DeadLetterModel) TableName() string {
	return "sync_dead_letters"
}

// ToEntity converts the model to a domain failure record
func (m *DeadLetterModel) ToEntity() *shipping.DeadLetterFailure {
	id, _ := uuid.Parse(m.ID)
	return &shipping.DeadLetterFailure{
		ID:               id,
		Queue:            shipping.QueueClass(m.Queue),
		MessageID:        m.MessageID,
		OrderNumber:      m.OrderNumber,
		TrackingNumber:   m.TrackingNumber,
		ShipmentID:       m.ShipmentID,
		Reason:           shipping.SyncReason(m.Reason),
		ErrorMessage:     m.ErrorMessage,
		RequestSnapshot:  rawOrNil(m.RequestSnapshot),
		ResponseSnapshot: rawOrNil(m.ResponseSnapshot),
		RetryCount:       m.RetryCount,
		FailedAt:         m.FailedAt,
	}
}

// DeadLetterModelFromEntity creates a model from a domain failure record
func DeadLetterModelFromEntity(f *shipping.DeadLetterFailure) *DeadLetterModel {
	return &DeadLetterModel{
		ID:               f.ID.String(),
		Queue:            string(f.Queue),
		MessageID:        f.MessageID,
		OrderNumber:      f.OrderNumber,
		TrackingNumber:   f.TrackingNumber,
		ShipmentID:       f.ShipmentID,
		Reason:           string(f.Reason),
		ErrorMessage:     f.ErrorMessage,
		RequestSnapshot:  string(f.RequestSnapshot),
		ResponseSnapshot: string(f.ResponseSnapshot),
		RetryCount:       f.RetryCount,
		FailedAt:         f.FailedAt,
	}
}

func rawOrNil(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

// DeadLetterRepository implements shipping.DeadLetterRepository. Rows are never
// updated or deleted by the engine.
type DeadLetterRepository struct {
	db *gorm.DB
}

// NewDeadLetterRepository creates a new dead-letter repository
func NewDeadLetterRepository(db *gorm.DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

// Append stores a failure record
func (r *DeadLetterRepository) Append(ctx context.Context, failure *shipping.DeadLetterFailure) error {
	if failure.ID == uuid.Nil {
		failure.ID = uuid.New()
	}
	if failure.FailedAt.IsZero() {
		failure.FailedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(DeadLetterModelFromEntity(failure)).Error
}

// List returns a page of failures, newest first, with the total count
func (r *DeadLetterRepository) List(ctx context.Context, page, pageSize int) ([]shipping.DeadLetterFailure, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultDeadLetterPageSize
	}
	if pageSize > maxDeadLetterPageSize {
		pageSize = maxDeadLetterPageSize
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&DeadLetterModel{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []DeadLetterModel
	if err := r.db.WithContext(ctx).
		Order("failed_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}

	failures := make([]shipping.DeadLetterFailure, len(models))
	for i := range models {
		failures[i] = *models[i].ToEntity()
	}
	return failures, total, nil
}

var _ shipping.DeadLetterRepository = (*DeadLetterRepository)(nil)
