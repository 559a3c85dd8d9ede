// Package model holds the gorm table models.
package model

import "gorm.io/datatypes"

type PositionModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	PositionID    string         `gorm:"column:position_id;uniqueIndex"`
	Symbol        string         `gorm:"column:symbol;index"`
	Side          string         `gorm:"column:side"`
	Quantity      float64        `gorm:"column:quantity"`
	EntryPrice    float64        `gorm:"column:entry_price"`
	ExitPrice     float64        `gorm:"column:exit_price"`
	StopPrice     float64        `gorm:"column:stop_price"`
	TakeProfit    float64        `gorm:"column:take_profit"`
	Leverage      float64        `gorm:"column:leverage"`
	RealizedPnL   float64        `gorm:"column:realized_pnl"`
	UnrealizedPnL float64        `gorm:"column:unrealized_pnl"`
	State         string         `gorm:"column:state;index"`
	VenueID       string         `gorm:"column:venue_id"`
	HistoryJSON   datatypes.JSON `gorm:"column:history_json;type:TEXT"`
	OpenedAtUnix  int64          `gorm:"column:opened_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }

type CycleResultModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	CycleID       string         `gorm:"column:cycle_id;uniqueIndex"`
	Status        string         `gorm:"column:status;index"`
	StartedAtUnix int64          `gorm:"column:started_at;index"`
	DurationMS    int64          `gorm:"column:duration_ms"`
	Generated     int            `gorm:"column:decisions_generated"`
	Executed      int            `gorm:"column:decisions_executed"`
	Rejected      int            `gorm:"column:decisions_rejected"`
	Errors        int            `gorm:"column:errors"`
	OutcomesJSON  datatypes.JSON `gorm:"column:outcomes_json;type:TEXT"`
	DailyPnL      float64        `gorm:"column:daily_pnl"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (CycleResultModel) TableName() string { return "cycle_results" }

type SnapshotModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	Balance       float64 `gorm:"column:balance"`
	DailyRealized float64 `gorm:"column:daily_realized"`
	TakenAtUnix   int64   `gorm:"column:taken_at;index"`
}

func (SnapshotModel) TableName() string { return "portfolio_snapshots" }
