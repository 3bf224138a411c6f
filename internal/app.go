package internal

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dushixiang/gauntlet/internal/config"
	"github.com/dushixiang/gauntlet/internal/handler"
	"github.com/dushixiang/gauntlet/internal/models"
	"github.com/dushixiang/gauntlet/internal/service"
	"github.com/dushixiang/gauntlet/internal/telegram"
	"github.com/dushixiang/gauntlet/pkg/nostd"
	"github.com/go-orz/orz"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func Run(configPath string) error {
	app := NewGauntletApp()

	framework, err := orz.NewFramework(
		orz.WithConfig(configPath),
		orz.WithLoggerFromConfig(),
		orz.WithDatabase(),
		orz.WithHTTP(),
		orz.WithApplication(app),
	)
	if err != nil {
		return err
	}

	return framework.Run()
}

func NewGauntletApp() orz.Application {
	return &GauntletApp{}
}

var _ orz.Application = (*GauntletApp)(nil)

type AppComponents struct {
	PipelineHandler *handler.PipelineHandler

	// Pipeline services
	LifecycleService *service.LifecycleService
	PaperService     *service.PaperService
	MarketService    *service.MarketService
	RiskService      *service.RiskService

	tg *telegram.Telegram
}

type GauntletApp struct {
	components *AppComponents
	conf       *config.Config
}

// GetComponents 获取应用组件
func (r *GauntletApp) GetComponents() *AppComponents {
	return r.components
}

func (r *GauntletApp) Configure(app *orz.App) error {
	logger := app.Logger()
	e := app.GetEcho()
	db := app.GetDatabase()

	var conf config.Config
	err := app.GetConfig().App.Unmarshal(&conf)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %v", err)
	}

	components, err := InitializeApp(logger, db, &conf)
	if err != nil {
		return fmt.Errorf("failed to initialize app: %v", err)
	}
	r.components = components
	r.conf = &conf

	if err := db.AutoMigrate(
		// Pipeline models
		models.Strategy{}, models.Session{}, models.Trade{},
		models.Position{}, models.EquityPoint{}, models.GateReport{},
	); err != nil {
		logger.Fatal("database auto migrate failed", zap.Error(err))
	}

	if err := r.Init(logger); err != nil {
		logger.Fatal("app init failed", zap.Error(err))
	}

	e.HidePort = true
	e.HideBanner = true

	e.Use(middleware.Gzip())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		Skipper:      middleware.DefaultSkipper,
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodDelete},
	}))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			sugar := logger.Sugar()
			sugar.Error(fmt.Sprintf("[PANIC RECOVER] %v %s\n", err, stack))
			return err
		},
	}))
	e.Use(WithErrorHandler(logger))
	customValidator := nostd.CustomValidator{Validator: validator.New()}
	if err := customValidator.TransInit(); err != nil {
		logger.Sugar().Fatal("failed to init custom validator", zap.Error(err))
	}
	e.Validator = &customValidator

	api := e.Group("/api")
	{
		// Pipeline API routes
		if r.components.PipelineHandler != nil {
			r.components.PipelineHandler.RegisterRoutes(api)
		}
	}

	return nil
}

func (r *GauntletApp) Init(logger *zap.Logger) error {
	logger.Info("=================================================")
	logger.Info("Gauntlet Strategy Pipeline Starting...")
	logger.Info("=================================================")

	components := r.GetComponents()
	if components == nil {
		return fmt.Errorf("components not initialized")
	}

	if components.tg != nil {
		components.tg.SetStatusProvider(func() string {
			return components.LifecycleService.StatusSummary(context.Background())
		})
		components.tg.Start()
		components.LifecycleService.SetNotifier(&telegramNotifier{
			tg:     components.tg,
			chatID: r.conf.Telegram.ChatID,
			logger: logger,
		})
	}

	if err := components.LifecycleService.Recover(context.Background()); err != nil {
		logger.Error("pipeline recover failed", zap.Error(err))
	}

	if err := components.RiskService.StartMonitor(components.PaperService, r.conf.Pipeline.MonitorCron); err != nil {
		return fmt.Errorf("failed to start risk monitor: %w", err)
	}
	if err := components.LifecycleService.StartScheduler(); err != nil {
		return fmt.Errorf("failed to start promotion scheduler: %w", err)
	}

	logger.Info("pipeline initialized",
		zap.Bool("live_enabled", r.conf.Pipeline.LiveEnabled),
		zap.Strings("symbols", r.conf.Pipeline.Symbols),
	)
	return nil
}

// telegramNotifier 把生命周期事件转发到 Telegram
type telegramNotifier struct {
	tg     *telegram.Telegram
	chatID string
	logger *zap.Logger
}

func (n *telegramNotifier) Notify(msg string) {
	if err := n.tg.Notify(n.chatID, msg); err != nil {
		n.logger.Warn("failed to send telegram notification", zap.Error(err))
	}
}
