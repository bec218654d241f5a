package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/serpworks/serpd/internal/engine"
	"github.com/serpworks/serpd/internal/model"
	"github.com/serpworks/serpd/internal/oracle"
	"github.com/serpworks/serpd/internal/pkg/apperrors"
)

type SerpHandler struct {
	runner *engine.Runner
	log    engine.Log
	manual *oracle.StaticSource
}

func NewSerpHandler(runner *engine.Runner, log engine.Log, manual *oracle.StaticSource) *SerpHandler {
	return &SerpHandler{runner: runner, log: log, manual: manual}
}

// maxHeightAhead bounds how far an explicit trigger height may run ahead of
// the tick counter. Watermarks only move forward, so an unbounded height
// would park every currency past all future ticker heights for good.
const maxHeightAhead = 1000

// TriggerCycle forces one adjustment pass. Replaying an already-processed
// height is a no-op per currency thanks to the watermark.
func (h *SerpHandler) TriggerCycle(c *gin.Context) {
	var req model.CycleRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.Error(apperrors.New(apperrors.ErrInvalidRequest, err.Error(), err))
		return
	}
	height := req.Height
	if height == 0 {
		height = h.runner.NextHeight()
	} else {
		if current := h.runner.Height(); height > current && height-current > maxHeightAhead {
			c.Error(apperrors.Newf(apperrors.ErrInvalidRequest,
				"height %d too far ahead of current %d (max skip %d)", height, current, maxHeightAhead))
			return
		}
		h.runner.SeedHeight(height)
	}

	resp := h.runner.RunCycle(c.Request.Context(), height)
	c.JSON(http.StatusOK, resp)
}

func (h *SerpHandler) ListSettlements(c *gin.Context) {
	currency := model.Currency(c.Query("currency"))
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.Error(apperrors.Newf(apperrors.ErrInvalidRequest, "invalid limit %q", raw))
			return
		}
		limit = parsed
	}

	records, err := h.log.List(c.Request.Context(), currency, limit)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlements": records})
}

// SupplyAudit replays the committed log for one currency and cross-checks it
// against the live ledger issuance.
func (h *SerpHandler) SupplyAudit(c *gin.Context) {
	currency := model.Currency(c.Param("currency"))
	audit, err := h.runner.SupplyAudit(c.Request.Context(), currency, h.log)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, audit)
}

// PushPrice feeds the manual oracle source. Operational tool for deployments
// without a streaming feed; gated by the admin middleware.
func (h *SerpHandler) PushPrice(c *gin.Context) {
	if h.manual == nil {
		c.Error(apperrors.New(apperrors.ErrInvalidRequest, "manual oracle source not enabled", nil))
		return
	}
	var req model.PricePushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.ErrInvalidRequest, err.Error(), err))
		return
	}
	if !req.Price.IsPositive() {
		c.Error(apperrors.New(apperrors.ErrInvalidRequest, "price must be positive", nil))
		return
	}
	pair := model.Pair{Base: req.Base, Quote: req.Quote}
	if !pair.Valid() {
		c.Error(apperrors.New(apperrors.ErrInvalidRequest, "base and quote required", nil))
		return
	}
	h.manual.Push(pair, req.Price)
	c.JSON(http.StatusOK, gin.H{"status": "accepted", "pair": pair.String()})
}
