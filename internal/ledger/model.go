package ledger

import (
	"gorm.io/datatypes"
)

// TransactionRecordModel 是账本的持久化行。追加写入，历史记录永不被破坏性更新：
// 仅允许 pending→confirmed / pending→failed 的单向状态迁移。
type TransactionRecordModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	AttemptID      string         `gorm:"column:attempt_id;uniqueIndex"`
	RunID          string         `gorm:"column:run_id;index"`
	PortfolioID    *string        `gorm:"column:portfolio_id;index"`
	Signature      *string        `gorm:"column:signature;uniqueIndex"`
	Type           string         `gorm:"column:type"`
	InputAsset     string         `gorm:"column:input_asset"`
	OutputAsset    string         `gorm:"column:output_asset"`
	InputAmount    string         `gorm:"column:input_amount"`
	OutputAmount   string         `gorm:"column:output_amount"`
	Status         string         `gorm:"column:status;index"`
	PriceImpactPct string         `gorm:"column:price_impact_pct"`
	FailReason     string         `gorm:"column:fail_reason"`
	Retryable      bool           `gorm:"column:retryable"`
	RawQuote       datatypes.JSON `gorm:"column:raw_quote;type:TEXT"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`
}

func (TransactionRecordModel) TableName() string { return "transaction_records" }

// PortfolioModel 持久化组合。同一 owner 同时只有一个 active 组合，
// 历史组合保留审计，绝不删除。
type PortfolioModel struct {
	ID            string         `gorm:"column:id;primaryKey"`
	Owner         string         `gorm:"column:owner;index"`
	RiskScore     int            `gorm:"column:risk_score"`
	Active        bool           `gorm:"column:active;index"`
	TargetsJSON   datatypes.JSON `gorm:"column:targets_json;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (PortfolioModel) TableName() string { return "portfolios" }

// PositionModel 是对账结果的物化视图，每次 Reconcile 全量重算后 upsert，
// 从不手工编辑。
type PositionModel struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	PortfolioID   string `gorm:"column:portfolio_id;uniqueIndex:idx_position,priority:1"`
	Symbol        string `gorm:"column:symbol;uniqueIndex:idx_position,priority:2"`
	Amount        string `gorm:"column:amount"`
	AvgCost       string `gorm:"column:avg_cost"`
	CurrentPrice  string `gorm:"column:current_price"`
	Value         string `gorm:"column:value"`
	TargetWeight  string `gorm:"column:target_weight"`
	CurrentWeight string `gorm:"column:current_weight"`
	UpdatedAtUnix int64  `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }
