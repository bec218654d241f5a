package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/serpworks/serpd/internal/model"
	"github.com/serpworks/serpd/internal/pkg/apperrors"
	"github.com/serpworks/serpd/internal/registry"
)

type PegHandler struct {
	reg *registry.Registry
}

func NewPegHandler(reg *registry.Registry) *PegHandler {
	return &PegHandler{reg: reg}
}

func (h *PegHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pegs": h.reg.List()})
}

func (h *PegHandler) Get(c *gin.Context) {
	currency := model.Currency(c.Param("currency"))
	cfg, ok := h.reg.Get(currency)
	if !ok {
		c.Error(apperrors.Newf(apperrors.ErrUnregisteredCurrency, "currency %s not registered", currency.Normalized()))
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// Set registers or updates a peg config. Governance only; the admin
// middleware has already fired by the time this runs.
func (h *PegHandler) Set(c *gin.Context) {
	currency := model.Currency(c.Param("currency"))

	var req model.SetPegRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.New(apperrors.ErrInvalidRequest, err.Error(), err))
		return
	}

	cfg := model.PegConfig{
		Currency:        currency,
		PegPrice:        req.PegPrice,
		ToleranceBand:   req.ToleranceBand,
		MaxStep:         req.MaxStep,
		ReserveRatio:    req.ReserveRatio,
		ReserveCurrency: req.ReserveCurrency,
		ReferenceQuote:  req.ReferenceQuote,
	}
	if err := h.reg.Set(c.Request.Context(), cfg); err != nil {
		c.Error(apperrors.New(apperrors.ErrInvalidRequest, err.Error(), err))
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *PegHandler) Delete(c *gin.Context) {
	currency := model.Currency(c.Param("currency"))
	if err := h.reg.Delete(c.Request.Context(), currency); err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "currency": currency.Normalized()})
}
