package handler

import (
	"net/http"

	"github.com/dushixiang/gauntlet/internal/service"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// PipelineHandler 策略晋升流水线HTTP处理器
type PipelineHandler struct {
	lifecycleService *service.LifecycleService
	paperService     *service.PaperService
	logger           *zap.Logger
}

// NewPipelineHandler 创建流水线处理器
func NewPipelineHandler(
	lifecycleService *service.LifecycleService,
	paperService *service.PaperService,
	logger *zap.Logger,
) *PipelineHandler {
	return &PipelineHandler{
		lifecycleService: lifecycleService,
		paperService:     paperService,
		logger:           logger,
	}
}

// SubmitStrategy 提交候选策略
// POST /api/pipeline/strategies
func (h *PipelineHandler) SubmitStrategy(c echo.Context) error {
	var req service.SubmitRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	st, err := h.lifecycleService.Submit(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

// ListStrategies 列出全部策略
// GET /api/pipeline/strategies
func (h *PipelineHandler) ListStrategies(c echo.Context) error {
	strategies, err := h.lifecycleService.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, strategies)
}

// GetStrategy 策略详情：当前阶段、会话与门槛报告
// GET /api/pipeline/strategies/:id
func (h *PipelineHandler) GetStrategy(c echo.Context) error {
	detail, err := h.lifecycleService.Detail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, detail)
}

// ApproveStrategy 人工放行，跳过门槛晋升下一阶段
// POST /api/pipeline/strategies/:id/approve
func (h *PipelineHandler) ApproveStrategy(c echo.Context) error {
	if err := h.lifecycleService.Approve(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "approved"})
}

// RejectStrategy 人工否决，策略退役
// POST /api/pipeline/strategies/:id/reject
func (h *PipelineHandler) RejectStrategy(c echo.Context) error {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return err
	}

	if err := h.lifecycleService.Reject(c.Request().Context(), c.Param("id"), req.Reason); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "rejected"})
}

// RetireStrategy 人工退役
// POST /api/pipeline/strategies/:id/retire
func (h *PipelineHandler) RetireStrategy(c echo.Context) error {
	if err := h.lifecycleService.Reject(c.Request().Context(), c.Param("id"), "manually retired"); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "retired"})
}

// GetSessionStatus 会话状态：盈亏、持仓、最近成交
// GET /api/pipeline/sessions/:id/status
func (h *PipelineHandler) GetSessionStatus(c echo.Context) error {
	view, err := h.paperService.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

// GetSessionEquityCurve 会话资金曲线
// GET /api/pipeline/sessions/:id/equity-curve
func (h *PipelineHandler) GetSessionEquityCurve(c echo.Context) error {
	points, err := h.paperService.EquityCurve(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, points)
}

// GetSessionTrades 会话成交记录
// GET /api/pipeline/sessions/:id/trades
func (h *PipelineHandler) GetSessionTrades(c echo.Context) error {
	trades, err := h.paperService.Trades(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, trades)
}

// StopSession 手动停止会话
// POST /api/pipeline/sessions/:id/stop
func (h *PipelineHandler) StopSession(c echo.Context) error {
	if err := h.paperService.Stop(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "stopped"})
}

// PauseSession 暂停会话
// POST /api/pipeline/sessions/:id/pause
func (h *PipelineHandler) PauseSession(c echo.Context) error {
	if err := h.paperService.Pause(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "paused"})
}

// ResumeSession 恢复会话
// POST /api/pipeline/sessions/:id/resume
func (h *PipelineHandler) ResumeSession(c echo.Context) error {
	if err := h.paperService.Resume(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"message": "resumed"})
}

func (h *PipelineHandler) RegisterRoutes(g *echo.Group) {
	pipeline := g.Group("/pipeline")

	// 策略
	pipeline.POST("/strategies", h.SubmitStrategy)
	pipeline.GET("/strategies", h.ListStrategies)
	pipeline.GET("/strategies/:id", h.GetStrategy)
	pipeline.POST("/strategies/:id/approve", h.ApproveStrategy)
	pipeline.POST("/strategies/:id/reject", h.RejectStrategy)
	pipeline.POST("/strategies/:id/retire", h.RetireStrategy)

	// 会话
	pipeline.GET("/sessions/:id/status", h.GetSessionStatus)
	pipeline.GET("/sessions/:id/equity-curve", h.GetSessionEquityCurve)
	pipeline.GET("/sessions/:id/trades", h.GetSessionTrades)
	pipeline.POST("/sessions/:id/stop", h.StopSession)
	pipeline.POST("/sessions/:id/pause", h.PauseSession)
	pipeline.POST("/sessions/:id/resume", h.ResumeSession)
}
