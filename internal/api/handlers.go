package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nanobill/nanobill/internal/billing"
	"github.com/nanobill/nanobill/internal/engine"
	"github.com/nanobill/nanobill/internal/money"
	"github.com/nanobill/nanobill/internal/rates"
)

type startSessionRequest struct {
	PayerID      string `json:"payerId" binding:"required"`
	Rate         string `json:"rate" binding:"required"`
	TimeUnit     string `json:"timeUnit"`
	Currency     string `json:"currency"`
	SessionCap   string `json:"sessionCap"`
	UniversalCap string `json:"universalCap"`
}

func (s *Server) startSession(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rate, err := money.Parse(req.Rate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rate: " + err.Error()})
		return
	}

	unit := billing.UnitHour
	if req.TimeUnit != "" {
		unit, err = billing.ParseTimeUnit(req.TimeUnit)
		if err != nil {
			abortWithError(c, err)
			return
		}
	}

	params := engine.StartParams{
		PayerID:     req.PayerID,
		ServiceCost: rate,
		TimeUnit:    unit,
		Currency:    req.Currency,
	}
	if req.SessionCap != "" {
		capAmount, err := money.Parse(req.SessionCap)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sessionCap: " + err.Error()})
			return
		}
		params.SessionCap = &capAmount
	}
	if req.UniversalCap != "" {
		capAmount, err := money.Parse(req.UniversalCap)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid universalCap: " + err.Error()})
			return
		}
		params.UniversalCap = &capAmount
	}

	sess, err := s.engine.StartSession(c.Request.Context(), params)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"sessionId": sess.ID,
		"payerId":   sess.PayerID,
		"startedAt": sess.StartedAt,
		"state":     sess.State,
	})
}

func (s *Server) listSessions(c *gin.Context) {
	active := s.store.ListActive()
	out := make([]gin.H, 0, len(active))
	for i := range active {
		out = append(out, gin.H{
			"sessionId": active[i].ID,
			"payerId":   active[i].PayerID,
			"billing":   active[i].Cost(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.store.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	events, err := s.store.Events(sess.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId": sess.ID,
		"payerId":   sess.PayerID,
		"state":     sess.State,
		"billing":   sess.Cost(),
		"events":    events,
	})
}

type logEventRequest struct {
	Description string            `json:"description" binding:"required"`
	Metadata    map[string]string `json:"metadata"`
}

func (s *Server) logEvent(c *gin.Context) {
	var req logEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Logging against a finished or unknown session is deliberately not an
	// error; consumption logs are advisory.
	s.store.LogEvent(c.Param("id"), req.Description, req.Metadata)
	c.JSON(http.StatusAccepted, gin.H{"logged": true})
}

func (s *Server) endSession(c *gin.Context) {
	final, err := s.engine.StopSession(c.Request.Context(), c.Param("id"), engine.StopRequested)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, final)
}

func (s *Server) removeSession(c *gin.Context) {
	if err := s.engine.RemoveSession(c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type validateSettlementRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
}

func (s *Server) validateSettlement(c *gin.Context) {
	var req validateSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := money.Parse(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount: " + err.Error()})
		return
	}

	v, err := s.settlements.Validate(req.SessionID, amount)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type initiateSettlementRequest struct {
	SessionID   string `json:"sessionId" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	Destination string `json:"destination" binding:"required"`
	UnitSymbol  string `json:"unitSymbol" binding:"required"`
}

func (s *Server) initiateSettlement(c *gin.Context) {
	var req initiateSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := money.Parse(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount: " + err.Error()})
		return
	}

	rec, err := s.settlements.Initiate(c.Request.Context(), req.SessionID, amount, req.Destination, req.UnitSymbol)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) listSettlements(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"settlements": s.settlements.History(limit)})
}

func (s *Server) settlementSummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.settlements.Summary())
}

type confirmSettlementRequest struct {
	TxRef string `json:"txRef" binding:"required"`
}

func (s *Server) confirmSettlement(c *gin.Context) {
	var req confirmSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := s.settlements.Confirm(c.Param("id"), req.TxRef)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type failSettlementRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) failSettlement(c *gin.Context) {
	var req failSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := s.settlements.Fail(c.Param("id"), req.Reason)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) refundSettlement(c *gin.Context) {
	refund, err := s.settlements.Refund(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if refund == nil {
		c.JSON(http.StatusOK, gin.H{"refund": nil, "message": "nothing overpaid"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refund": refund})
}

func (s *Server) getRates(c *gin.Context) {
	snap := s.table.Current()
	c.JSON(http.StatusOK, gin.H{
		"baseCurrency": rates.BaseCurrency,
		"fiatRates":    snap.FiatRates(),
		"unitPrices":   snap.UnitPrices(),
		"takenAt":      snap.TakenAt(),
	})
}

func (s *Server) refreshRates(c *gin.Context) {
	var req struct {
		FiatRates  map[string]string `json:"fiatRates" binding:"required"`
		UnitPrices map[string]string `json:"unitPrices" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fiat := make(map[string]money.Amount, len(req.FiatRates))
	for code, raw := range req.FiatRates {
		amount, err := money.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rate for " + code})
			return
		}
		fiat[code] = amount
	}
	units := make(map[string]money.Amount, len(req.UnitPrices))
	for symbol, raw := range req.UnitPrices {
		amount, err := money.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price for " + symbol})
			return
		}
		units[symbol] = amount
	}

	if err := s.table.Refresh(fiat, units); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"takenAt": s.table.Current().TakenAt()})
}
