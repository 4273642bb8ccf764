// Package ledger 持久化交易账本并从全量历史重算组合视图。
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"solfolio/internal/types"
)

// Store 基于 Gorm + SQLite 实现账本存储。
type Store struct {
	db *gorm.DB
}

// NewStore 打开（或创建）账本数据库。
func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("ledger store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	return openStore(dsn)
}

// NewMemoryStore 打开进程内数据库，测试专用。每次调用得到独立实例。
func NewMemoryStore() (*Store, error) {
	return openStore(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
}

func openStore(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&TransactionRecordModel{}, &PortfolioModel{}, &PositionModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: 读多写少，限制连接数降低锁竞争。
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

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// --------------------- Portfolio -------------------------

// CreatePortfolio 建立新组合并退休同一 owner 的旧 active 组合（保留不删）。
func (s *Store) CreatePortfolio(ctx context.Context, owner string, riskScore int, targets []types.AllocationLeg) (string, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return "", fmt.Errorf("portfolio owner 不能为空")
	}
	id := uuid.NewString()
	now := time.Now().Unix()
	targetsJSON, err := marshalTargets(targets)
	if err != nil {
		return "", err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&PortfolioModel{}).
			Where("owner = ? AND active = ?", owner, true).
			Updates(map[string]any{"active": false, "updated_at": now}).Error; err != nil {
			return err
		}
		return tx.Create(&PortfolioModel{
			ID:            id,
			Owner:         owner,
			RiskScore:     riskScore,
			Active:        true,
			TargetsJSON:   targetsJSON,
			CreatedAtUnix: now,
			UpdatedAtUnix: now,
		}).Error
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetPortfolio 读取组合基本信息。
func (s *Store) GetPortfolio(ctx context.Context, id string) (*PortfolioModel, error) {
	var model PortfolioModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("组合不存在: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &model, nil
}

// SetTargets 更新组合的目标权重（再平衡批次开始时调用）。
func (s *Store) SetTargets(ctx context.Context, portfolioID string, targets []types.AllocationLeg) error {
	targetsJSON, err := marshalTargets(targets)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&PortfolioModel{}).
		Where("id = ?", portfolioID).
		Updates(map[string]any{"targets_json": targetsJSON, "updated_at": time.Now().Unix()}).Error
}

func marshalTargets(targets []types.AllocationLeg) ([]byte, error) {
	weights := make(map[string]string, len(targets))
	for _, leg := range targets {
		weights[leg.Symbol] = leg.TargetWeightPct.String()
	}
	raw, err := json.Marshal(weights)
	if err != nil {
		return nil, fmt.Errorf("序列化目标权重失败: %w", err)
	}
	return raw, nil
}

// --------------------- Transaction ledger -------------------------

// LegAttempt 描述一次将要提交的腿。
type LegAttempt struct {
	AttemptID   string
	RunID       string
	PortfolioID string
	Type        types.TransactionType
	InputAsset  string
	Leg         types.AllocationLeg
	RawQuote    json.RawMessage
}

// BeginLeg 在提交动作发生的那一刻写入 pending 记录。重复调用幂等。
func (s *Store) BeginLeg(ctx context.Context, a LegAttempt) error {
	if strings.TrimSpace(a.AttemptID) == "" {
		return fmt.Errorf("attempt id 不能为空")
	}
	now := time.Now().Unix()
	model := TransactionRecordModel{
		AttemptID:      a.AttemptID,
		RunID:          a.RunID,
		Type:           string(a.Type),
		InputAsset:     a.InputAsset,
		OutputAsset:    a.Leg.Symbol,
		InputAmount:    a.Leg.Notional.String(),
		Status:         string(types.TxPending),
		PriceImpactPct: "0",
		RawQuote:       []byte(a.RawQuote),
		CreatedAtUnix:  now,
		UpdatedAtUnix:  now,
	}
	if pid := strings.TrimSpace(a.PortfolioID); pid != "" {
		model.PortfolioID = &pid
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "attempt_id"}},
			DoNothing: true,
		}).Create(&model).Error
}

// FinalizeLeg 将 pending 记录迁移到终态。记录只前进不回退：
// 已终态的行不再被触碰，重复敲定同一签名也只保留一条确认记录。
// 已确认的链上事实绝不丢弃：即使 attempt 行已因更早的重试失败而终态化，
// 结算结果也会落为一条新的确认行。
func (s *Store) FinalizeLeg(ctx context.Context, attemptID string, res types.LegResult) error {
	now := time.Now().Unix()
	switch res.Status {
	case types.LegSettled:
		if strings.TrimSpace(res.Signature) == "" {
			return fmt.Errorf("settled 结果缺少签名")
		}
		var dup int64
		if err := s.db.WithContext(ctx).Model(&TransactionRecordModel{}).
			Where("signature = ?", res.Signature).Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			// 同签名已落账：把本 attempt 残留的 pending 行收尾，不留悬挂记录。
			return s.db.WithContext(ctx).Model(&TransactionRecordModel{}).
				Where("attempt_id = ? AND status = ?", attemptID, string(types.TxPending)).
				Updates(map[string]any{
					"status":      string(types.TxFailed),
					"fail_reason": types.ReasonAlreadySettled,
					"updated_at":  now,
				}).Error
		}
		tx := s.db.WithContext(ctx).Model(&TransactionRecordModel{}).
			Where("attempt_id = ? AND status = ?", attemptID, string(types.TxPending)).
			Updates(map[string]any{
				"signature":     res.Signature,
				"output_amount": res.OutputAmount.String(),
				"status":        string(types.TxConfirmed),
				"updated_at":    now,
			})
		if tx.Error != nil {
			return tx.Error
		}
		if tx.RowsAffected > 0 {
			return nil
		}
		// attempt 行已是终态（此前同一 run 的重试失败过）。克隆一条新的
		// 确认行承载签名与产出，签名唯一索引保证至多落账一次。
		var prev TransactionRecordModel
		if err := s.db.WithContext(ctx).First(&prev, "attempt_id = ?", attemptID).Error; err != nil {
			return fmt.Errorf("结算落账失败，attempt %s 不存在: %w", attemptID, err)
		}
		sig := res.Signature
		clone := TransactionRecordModel{
			AttemptID:      fmt.Sprintf("%s:%s", attemptID, res.Signature),
			RunID:          prev.RunID,
			PortfolioID:    prev.PortfolioID,
			Signature:      &sig,
			Type:           prev.Type,
			InputAsset:     prev.InputAsset,
			OutputAsset:    prev.OutputAsset,
			InputAmount:    prev.InputAmount,
			OutputAmount:   res.OutputAmount.String(),
			Status:         string(types.TxConfirmed),
			PriceImpactPct: prev.PriceImpactPct,
			RawQuote:       prev.RawQuote,
			CreatedAtUnix:  now,
			UpdatedAtUnix:  now,
		}
		return s.db.WithContext(ctx).Create(&clone).Error
	case types.LegFailed:
		return s.db.WithContext(ctx).Model(&TransactionRecordModel{}).
			Where("attempt_id = ? AND status = ?", attemptID, string(types.TxPending)).
			Updates(map[string]any{
				"status":      string(types.TxFailed),
				"fail_reason": res.Reason,
				"retryable":   res.Retryable,
				"updated_at":  now,
			}).Error
	default:
		// skipped 的腿没有提交动作，不产生账本记录。
		return nil
	}
}

// RecordParams 是 Record 的入参。
type RecordParams struct {
	PortfolioID string
	RunID       string
	Type        types.TransactionType
	InputAsset  string
	Leg         types.AllocationLeg
	Result      types.LegResult
	RawQuote    json.RawMessage
}

// Record 一次性写入一条腿的最终记录（BeginLeg + FinalizeLeg 的组合），
// 以签名（已结算）或 attempt id（失败）为幂等键。
func (s *Store) Record(ctx context.Context, p RecordParams) error {
	if p.Result.Status == types.LegSkipped {
		return nil
	}
	attemptID := p.Result.AttemptID
	if strings.TrimSpace(attemptID) == "" {
		attemptID = uuid.NewString()
	}
	if err := s.BeginLeg(ctx, LegAttempt{
		AttemptID:   attemptID,
		RunID:       p.RunID,
		PortfolioID: p.PortfolioID,
		Type:        p.Type,
		InputAsset:  p.InputAsset,
		Leg:         p.Leg,
		RawQuote:    p.RawQuote,
	}); err != nil {
		return err
	}
	return s.FinalizeLeg(ctx, attemptID, p.Result)
}

// HasSettled 查询某次运行中该资产的腿是否已确认，用于批次幂等。
func (s *Store) HasSettled(ctx context.Context, portfolioID, sym, runID string) (bool, error) {
	query := s.db.WithContext(ctx).Model(&TransactionRecordModel{}).
		Where("run_id = ? AND output_asset = ? AND status = ?", runID, sym, string(types.TxConfirmed))
	if pid := strings.TrimSpace(portfolioID); pid != "" {
		query = query.Where("portfolio_id = ?", pid)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ConfirmedRecords 按写入顺序返回组合的全部已确认记录。
func (s *Store) ConfirmedRecords(ctx context.Context, portfolioID string) ([]TransactionRecordModel, error) {
	var records []TransactionRecordModel
	err := s.db.WithContext(ctx).
		Where("portfolio_id = ? AND status = ?", portfolioID, string(types.TxConfirmed)).
		Order("id ASC").
		Find(&records).Error
	return records, err
}

// RecordsByRun 返回一次运行的全部记录（审计/排查用）。
func (s *Store) RecordsByRun(ctx context.Context, runID string) ([]TransactionRecordModel, error) {
	var records []TransactionRecordModel
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&records).Error
	return records, err
}

// UpsertPositions 物化对账结果。
func (s *Store) UpsertPositions(ctx context.Context, portfolioID string, positions []types.Position) error {
	if len(positions) == 0 {
		return nil
	}
	now := time.Now().Unix()
	models := make([]PositionModel, 0, len(positions))
	for _, p := range positions {
		models = append(models, PositionModel{
			PortfolioID:   portfolioID,
			Symbol:        p.Symbol,
			Amount:        p.Amount.String(),
			AvgCost:       p.AvgCost.String(),
			CurrentPrice:  p.CurrentPrice.String(),
			Value:         p.Value.String(),
			TargetWeight:  p.TargetWeightPct.String(),
			CurrentWeight: p.CurrentWeightPct.String(),
			UpdatedAtUnix: now,
		})
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "portfolio_id"}, {Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"amount", "avg_cost", "current_price", "value",
				"target_weight", "current_weight", "updated_at",
			}),
		}).Create(&models).Error
}
