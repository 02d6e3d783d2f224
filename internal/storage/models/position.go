package models

import (
	"time"

	"exitwatch/internal/position"
)

// PositionRecord is the persistence shape of a position.
type PositionRecord struct {
	ID                string     `gorm:"primarykey;type:varchar(36)"`
	UserID            string     `gorm:"index;not null;type:varchar(64)"`
	TokenMint         string     `gorm:"index;not null;type:varchar(44)"`
	TokenSymbol       string     `gorm:"type:varchar(32)"`
	Decimals          uint8      `gorm:"not null;default:0"`
	Amount            float64    `gorm:"type:decimal(20,9);not null"`
	EntryPrice        float64    `gorm:"type:decimal(20,9);not null"`
	CurrentPrice      float64    `gorm:"type:decimal(20,9)"`
	Status            string     `gorm:"index;not null;type:varchar(10)"`
	OpenedAt          time.Time  `gorm:"not null"`
	ExitReason        string     `gorm:"type:varchar(20)"`
	ExitPrice         float64    `gorm:"type:decimal(20,9)"`
	ExitTxSignature   string     `gorm:"type:varchar(88)"`
	ClosedAt          *time.Time `gorm:"index"`
	ProfitLossPercent float64    `gorm:"type:decimal(10,4)"`
	CreatedAt         time.Time  `gorm:"default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time  `gorm:"default:CURRENT_TIMESTAMP"`
}

// TableName keeps the table name stable across gorm naming strategies.
func (PositionRecord) TableName() string {
	return "positions"
}

// ToDomain converts the record to the domain position.
func (r *PositionRecord) ToDomain() position.Position {
	return position.Position{
		ID:                r.ID,
		UserID:            r.UserID,
		TokenMint:         r.TokenMint,
		TokenSymbol:       r.TokenSymbol,
		Decimals:          r.Decimals,
		Amount:            r.Amount,
		EntryPrice:        r.EntryPrice,
		CurrentPrice:      r.CurrentPrice,
		Status:            position.Status(r.Status),
		OpenedAt:          r.OpenedAt,
		ExitReason:        position.ExitReason(r.ExitReason),
		ExitPrice:         r.ExitPrice,
		ExitTxSignature:   r.ExitTxSignature,
		ClosedAt:          r.ClosedAt,
		ProfitLossPercent: r.ProfitLossPercent,
	}
}
