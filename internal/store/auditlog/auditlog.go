// Package auditlog persists every emitted order candidate and exit
// instruction, plus the latest regime snapshot, in a local SQLite database.
package auditlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"etfx/internal/engine"
	"etfx/internal/regime"
	"etfx/internal/universe"
)

type candidateModel struct {
	ID                 int64          `gorm:"column:id;primaryKey"`
	TraceID            string         `gorm:"column:trace_id;index"`
	Ticker             string         `gorm:"column:ticker;index"`
	Side               string         `gorm:"column:side"`
	Direction          string         `gorm:"column:direction"`
	Quantity           int            `gorm:"column:quantity"`
	OrderType          string         `gorm:"column:order_type"`
	Price              float64        `gorm:"column:price"`
	AdjustedConfidence float64        `gorm:"column:adjusted_confidence"`
	TakeProfitPct      float64        `gorm:"column:take_profit_pct"`
	StopLossPct        float64        `gorm:"column:stop_loss_pct"`
	TrailingStopPct    float64        `gorm:"column:trailing_stop_pct"`
	MaxHoldDays        int            `gorm:"column:max_hold_days"`
	ProvenanceJSON     datatypes.JSON `gorm:"column:provenance_json;type:TEXT"`
	Reason             string         `gorm:"column:reason"`
	Substituted        bool           `gorm:"column:substituted"`
	CreatedAtUnix      int64          `gorm:"column:created_at;index"`
}

func (candidateModel) TableName() string { return "order_candidates" }

type exitModel struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	TraceID       string `gorm:"column:trace_id;index"`
	Ticker        string `gorm:"column:ticker;index"`
	Action        string `gorm:"column:action"`
	Quantity      int    `gorm:"column:quantity"`
	Reason        string `gorm:"column:reason"`
	Urgency       string `gorm:"column:urgency"`
	Trigger       string `gorm:"column:trigger_tag"`
	CreatedAtUnix int64  `gorm:"column:created_at;index"`
}

func (exitModel) TableName() string { return "exit_instructions" }

// regimeModel keeps a single row: the last observed regime snapshot, so a
// restart knows where the market stood.
type regimeModel struct {
	ID             int64   `gorm:"column:id;primaryKey"`
	Regime         string  `gorm:"column:regime"`
	VIX            float64 `gorm:"column:vix"`
	Confidence     float64 `gorm:"column:confidence"`
	MaxExposurePct float64 `gorm:"column:max_exposure_pct"`
	ObservedAtUnix int64   `gorm:"column:observed_at"`
}

func (regimeModel) TableName() string { return "regime_snapshots" }

// Store implements engine.AuditSink over Gorm + SQLite.
type Store struct {
	db *gorm.DB
}

var _ engine.AuditSink = (*Store)(nil)

// New opens (creating if needed) the audit database at path.
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit log: database path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("audit log: creating %s: %w", dir, err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&candidateModel{}, &exitModel{}, &regimeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little read parallelism for the HTTP API, low lock
	// contention for the write path.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordCandidate appends one order candidate.
func (s *Store) RecordCandidate(c engine.OrderCandidate) error {
	prov, err := json.Marshal(c.RiskProvenance)
	if err != nil {
		prov = []byte("{}")
	}
	row := candidateModel{
		TraceID:            c.TraceID,
		Ticker:             c.Ticker,
		Side:               c.Side,
		Direction:          string(c.Direction),
		Quantity:           c.Quantity,
		OrderType:          string(c.OrderType),
		Price:              c.Price,
		AdjustedConfidence: c.AdjustedConfidence,
		TakeProfitPct:      c.TakeProfitPct,
		StopLossPct:        c.StopLossPct,
		TrailingStopPct:    c.TrailingStopPct,
		MaxHoldDays:        c.MaxHoldDays,
		ProvenanceJSON:     datatypes.JSON(prov),
		Reason:             c.Reason,
		Substituted:        c.Substituted,
		CreatedAtUnix:      time.Now().Unix(),
	}
	return s.db.Create(&row).Error
}

// RecordExit appends one exit instruction.
func (s *Store) RecordExit(ins engine.ExitInstruction) error {
	row := exitModel{
		TraceID:       ins.TraceID,
		Ticker:        ins.Ticker,
		Action:        ins.Action,
		Quantity:      ins.Quantity,
		Reason:        ins.Reason,
		Urgency:       string(ins.Urgency),
		Trigger:       string(ins.Trigger),
		CreatedAtUnix: time.Now().Unix(),
	}
	return s.db.Create(&row).Error
}

// SaveRegime upserts the single latest regime snapshot.
func (s *Store) SaveRegime(snap regime.Snapshot) error {
	row := regimeModel{
		ID:             1,
		Regime:         string(snap.Regime),
		VIX:            snap.VIX,
		Confidence:     snap.Confidence,
		MaxExposurePct: snap.MaxExposurePct,
		ObservedAtUnix: snap.ObservedAt.Unix(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// LatestRegime returns the last persisted snapshot, if any.
func (s *Store) LatestRegime() (regime.Snapshot, bool, error) {
	var row regimeModel
	err := s.db.First(&row, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return regime.Snapshot{}, false, nil
	}
	if err != nil {
		return regime.Snapshot{}, false, err
	}
	return regime.Snapshot{
		Regime:         regime.Regime(row.Regime),
		VIX:            row.VIX,
		Confidence:     row.Confidence,
		MaxExposurePct: row.MaxExposurePct,
		ObservedAt:     time.Unix(row.ObservedAtUnix, 0),
	}, true, nil
}

// RecentCandidates lists the newest candidates, most recent first.
func (s *Store) RecentCandidates(limit int) ([]engine.OrderCandidate, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []candidateModel
	if err := s.db.Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]engine.OrderCandidate, 0, len(rows))
	for _, row := range rows {
		var prov map[string]engine.RiskSource
		_ = json.Unmarshal(row.ProvenanceJSON, &prov)
		out = append(out, engine.OrderCandidate{
			TraceID:            row.TraceID,
			Ticker:             row.Ticker,
			Side:               row.Side,
			Direction:          universeDirection(row.Direction),
			Quantity:           row.Quantity,
			OrderType:          engine.OrderType(row.OrderType),
			Price:              row.Price,
			AdjustedConfidence: row.AdjustedConfidence,
			TakeProfitPct:      row.TakeProfitPct,
			StopLossPct:        row.StopLossPct,
			TrailingStopPct:    row.TrailingStopPct,
			MaxHoldDays:        row.MaxHoldDays,
			RiskProvenance:     prov,
			Reason:             row.Reason,
			Substituted:        row.Substituted,
		})
	}
	return out, nil
}

func universeDirection(raw string) universe.Direction {
	if raw == string(universe.Bear) {
		return universe.Bear
	}
	return universe.Bull
}

// RecentExits lists the newest exit instructions, most recent first.
func (s *Store) RecentExits(limit int) ([]engine.ExitInstruction, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []exitModel
	if err := s.db.Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]engine.ExitInstruction, 0, len(rows))
	for _, row := range rows {
		out = append(out, engine.ExitInstruction{
			TraceID:  row.TraceID,
			Ticker:   row.Ticker,
			Action:   row.Action,
			Quantity: row.Quantity,
			Reason:   row.Reason,
			Urgency:  engine.Urgency(row.Urgency),
			Trigger:  engine.Trigger(row.Trigger),
		})
	}
	return out, nil
}
