// Package gormstore implements store.Store on gorm + SQLite.
package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vigil/internal/position"
	"vigil/internal/store"
	storemodel "vigil/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type GormStore struct {
	db *gorm.DB
}

// New opens (or creates) the SQLite database at path and migrates the
// schema.
func New(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&storemodel.PositionModel{},
		&storemodel.CycleResultModel{},
		&storemodel.SnapshotModel{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism for the HTTP readers while
	// keeping write contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) SavePosition(ctx context.Context, p position.Position) error {
	history, err := json.Marshal(p.History)
	if err != nil {
		return fmt.Errorf("marshal history for %s: %w", p.ID, err)
	}
	m := storemodel.PositionModel{
		PositionID:    p.ID,
		Symbol:        p.Symbol,
		Side:          string(p.Side),
		Quantity:      p.Quantity,
		EntryPrice:    p.EntryPrice,
		ExitPrice:     p.ExitPrice,
		StopPrice:     p.StopPrice,
		TakeProfit:    p.TakeProfit,
		Leverage:      p.Leverage,
		RealizedPnL:   p.RealizedPnL,
		UnrealizedPnL: p.UnrealizedPnL,
		State:         string(p.State),
		VenueID:       p.VenueID,
		HistoryJSON:   datatypes.JSON(history),
		UpdatedAtUnix: p.UpdatedAt.Unix(),
	}
	if !p.OpenedAt.IsZero() {
		m.OpenedAtUnix = p.OpenedAt.Unix()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "position_id"}},
		UpdateAll: true,
	}).Create(&m).Error
}

func (s *GormStore) ListPositions(ctx context.Context, activeOnly bool) ([]position.Position, error) {
	q := s.db.WithContext(ctx).Model(&storemodel.PositionModel{})
	if activeOnly {
		q = q.Where("state IN ?", []string{
			string(position.StateOpening),
			string(position.StateOpen),
			string(position.StateClosing),
		})
	}
	var rows []storemodel.PositionModel
	if err := q.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]position.Position, 0, len(rows))
	for _, m := range rows {
		p := position.Position{
			ID:            m.PositionID,
			Symbol:        m.Symbol,
			Side:          position.Side(m.Side),
			Quantity:      m.Quantity,
			EntryPrice:    m.EntryPrice,
			ExitPrice:     m.ExitPrice,
			StopPrice:     m.StopPrice,
			TakeProfit:    m.TakeProfit,
			Leverage:      m.Leverage,
			RealizedPnL:   m.RealizedPnL,
			UnrealizedPnL: m.UnrealizedPnL,
			State:         position.State(m.State),
			VenueID:       m.VenueID,
			UpdatedAt:     time.Unix(m.UpdatedAtUnix, 0).UTC(),
		}
		if m.OpenedAtUnix > 0 {
			p.OpenedAt = time.Unix(m.OpenedAtUnix, 0).UTC()
		}
		if len(m.HistoryJSON) > 0 {
			if err := json.Unmarshal(m.HistoryJSON, &p.History); err != nil {
				return nil, fmt.Errorf("unmarshal history for %s: %w", m.PositionID, err)
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *GormStore) SaveCycleResult(ctx context.Context, rec store.CycleRecord) error {
	m := storemodel.CycleResultModel{
		CycleID:       rec.CycleID,
		Status:        rec.Status,
		StartedAtUnix: rec.StartedAt.Unix(),
		DurationMS:    rec.Duration.Milliseconds(),
		Generated:     rec.Generated,
		Executed:      rec.Executed,
		Rejected:      rec.Rejected,
		Errors:        rec.Errors,
		DailyPnL:      rec.DailyPnL,
		CreatedAtUnix: time.Now().Unix(),
	}
	if rec.OutcomesJSON != "" {
		m.OutcomesJSON = datatypes.JSON(rec.OutcomesJSON)
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *GormStore) ListCycleResults(ctx context.Context, limit int) ([]store.CycleRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []storemodel.CycleResultModel
	if err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.CycleRecord, 0, len(rows))
	for _, m := range rows {
		out = append(out, store.CycleRecord{
			CycleID:      m.CycleID,
			Status:       m.Status,
			StartedAt:    time.Unix(m.StartedAtUnix, 0).UTC(),
			Duration:     time.Duration(m.DurationMS) * time.Millisecond,
			Generated:    m.Generated,
			Executed:     m.Executed,
			Rejected:     m.Rejected,
			Errors:       m.Errors,
			OutcomesJSON: string(m.OutcomesJSON),
			DailyPnL:     m.DailyPnL,
		})
	}
	return out, nil
}

func (s *GormStore) SaveSnapshot(ctx context.Context, rec store.SnapshotRecord) error {
	m := storemodel.SnapshotModel{
		Balance:       rec.Balance,
		DailyRealized: rec.DailyRealized,
		TakenAtUnix:   rec.TakenAt.Unix(),
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *GormStore) LatestSnapshot(ctx context.Context) (store.SnapshotRecord, bool, error) {
	var m storemodel.SnapshotModel
	err := s.db.WithContext(ctx).Order("taken_at DESC").First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return store.SnapshotRecord{}, false, nil
	}
	if err != nil {
		return store.SnapshotRecord{}, false, err
	}
	return store.SnapshotRecord{
		Balance:       m.Balance,
		DailyRealized: m.DailyRealized,
		TakenAt:       time.Unix(m.TakenAtUnix, 0).UTC(),
	}, true, nil
}

var _ store.Store = (*GormStore)(nil)
