package apihttp

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"solfolio/internal/allocation"
	"solfolio/internal/batch"
	"solfolio/internal/executor"
	"solfolio/internal/ledger"
	"solfolio/internal/pkg/symbol"
	"solfolio/internal/types"
)

// QuoteAPI 是预览接口需要的报价能力。
type QuoteAPI interface {
	Quote(ctx context.Context, inputAsset, outputAsset string, amount decimal.Decimal, slippageBps int) (types.Quote, error)
}

// Router 聚合各处理器依赖。
type Router struct {
	engine     *allocation.Engine
	quotes     QuoteAPI
	batches    *batch.Service
	reconciler *ledger.Reconciler
	store      *ledger.Store
	signer     executor.Signer
}

// NewRouter constructs the API router.
func NewRouter(engine *allocation.Engine, quotes QuoteAPI, batches *batch.Service, reconciler *ledger.Reconciler, store *ledger.Store, signer executor.Signer) *Router {
	return &Router{
		engine:     engine,
		quotes:     quotes,
		batches:    batches,
		reconciler: reconciler,
		store:      store,
		signer:     signer,
	}
}

// Register 挂载全部路由。
func (r *Router) Register(group *gin.RouterGroup) {
	group.POST("/allocations", r.handleAllocate)
	group.POST("/allocations/preview", r.handlePreview)
	group.POST("/portfolios", r.handleCreatePortfolio)
	group.POST("/execute", r.handleExecute)
	group.GET("/runs/:id", r.handleGetRun)
	group.GET("/portfolios/:id", r.handleGetPortfolio)
	group.GET("/portfolios/:id/drift", r.handleGetDrift)
}

func (r *Router) handleAllocate(c *gin.Context) {
	var req AllocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// 非整数评分（如 3.5）会在绑定阶段被拒。
		c.JSON(http.StatusBadRequest, errorResponse{Error: types.ErrInvalidRiskScore.Error()})
		return
	}
	legs, err := r.engine.Allocate(req.RiskScore, req.Principal)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, AllocateResponse{
		RiskScore: req.RiskScore,
		Principal: req.Principal,
		Legs:      legs,
	})
}

func (r *Router) handlePreview(c *gin.Context) {
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.SlippageBps <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: types.ErrInvalidSlippage.Error()})
		return
	}
	if len(req.Legs) == 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "legs 不能为空"})
		return
	}
	resp := PreviewResponse{Legs: make([]PreviewLeg, 0, len(req.Legs))}
	for _, leg := range req.Legs {
		preview := PreviewLeg{AllocationLeg: leg}
		quote, err := r.quotes.Quote(c.Request.Context(), symbol.USDC, leg.Symbol, leg.Notional, req.SlippageBps)
		if err != nil {
			preview.QuoteError = err.Error()
		} else {
			preview.EstimatedOutput = quote.OutputAmount
			preview.PriceImpactPct = quote.PriceImpactPct
		}
		resp.Legs = append(resp.Legs, preview)
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handleCreatePortfolio(c *gin.Context) {
	var req CreatePortfolioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: types.ErrInvalidRiskScore.Error()})
		return
	}
	legs, err := r.engine.Allocate(req.RiskScore, req.Principal)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	batchReq := batch.Request{
		Type:        types.TxBuy,
		SlippageBps: req.SlippageBps,
		Legs:        legs,
	}
	// 先校验批次请求再落库：校验失败不应退役旧组合、也不应留下空组合。
	if err := r.batches.Validate(batchReq); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	portfolioID, err := r.store.CreatePortfolio(c.Request.Context(), req.Owner, req.RiskScore, legs)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	batchReq.PortfolioID = portfolioID
	runID, err := r.batches.Start(c.Request.Context(), batchReq, r.signer)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, batch.ErrPortfolioBusy) {
			status = http.StatusConflict
		}
		// 组合此时已建立。带上 ID，调用方可稍后用 /execute 对其建仓。
		c.JSON(status, errorResponse{Error: err.Error(), PortfolioID: portfolioID})
		return
	}
	c.JSON(http.StatusAccepted, CreatePortfolioResponse{
		PortfolioID: portfolioID,
		RunID:       runID,
		Legs:        legs,
	})
}

func (r *Router) handleExecute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	txType := types.TransactionType(strings.TrimSpace(req.Type))
	switch txType {
	case "":
		txType = types.TxBuy
	case types.TxBuy, types.TxSell, types.TxRebalance:
	default:
		c.JSON(http.StatusBadRequest, errorResponse{Error: "type 必须是 buy/sell/rebalance"})
		return
	}
	runID, err := r.batches.Start(c.Request.Context(), batch.Request{
		PortfolioID: req.PortfolioID,
		Type:        txType,
		SlippageBps: req.SlippageBps,
		Legs:        req.Legs,
	}, r.signer)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, batch.ErrPortfolioBusy) {
			status = http.StatusConflict
		}
		c.JSON(status, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, ExecuteResponse{RunID: runID})
}

func (r *Router) handleGetRun(c *gin.Context) {
	status, err := r.batches.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (r *Router) handleGetPortfolio(c *gin.Context) {
	portfolio, err := r.reconciler.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, portfolio)
}

func (r *Router) handleGetDrift(c *gin.Context) {
	threshold := strings.TrimSpace(c.DefaultQuery("threshold", "5"))
	thresholdPct, err := decimal.NewFromString(threshold)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "threshold 必须是数字"})
		return
	}
	report, err := r.reconciler.Drift(c.Request.Context(), c.Param("id"), thresholdPct)
	if err != nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}
