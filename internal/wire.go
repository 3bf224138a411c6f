//go:build wireinject
// +build wireinject

package internal

import (
	"net/http"
	"time"

	"github.com/dushixiang/gauntlet/pkg/exchange"
	"github.com/google/wire"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dushixiang/gauntlet/internal/config"
	"github.com/dushixiang/gauntlet/internal/handler"
	"github.com/dushixiang/gauntlet/internal/service"
	"github.com/dushixiang/gauntlet/internal/telegram"
)

const (
	telegramHTTPTimeout = 10 * time.Second
)

var (
	handlerSet = wire.NewSet(
		handler.NewPipelineHandler,
	)

	pipelineSet = wire.NewSet(
		provideBinanceClient,
		wire.Bind(new(exchange.MarketSource), new(*exchange.BinanceClient)),
		service.NewIndicatorService,
		service.NewMarketService,
		service.NewRiskService,
		service.NewBacktestService,
		service.NewPaperService,
		service.NewLifecycleService,
	)
)

// InitializeApp 初始化应用
func InitializeApp(logger *zap.Logger, db *gorm.DB, conf *config.Config) (*AppComponents, error) {
	wire.Build(
		handlerSet,
		pipelineSet,
		provideTelegram,
		wire.Struct(new(AppComponents), "*"),
	)
	return nil, nil
}

// provideTelegram provides telegram instance
func provideTelegram(logger *zap.Logger, conf *config.Config) *telegram.Telegram {
	if !conf.Telegram.Enabled {
		return nil
	}

	httpClient := &http.Client{Timeout: telegramHTTPTimeout}

	tg, err := telegram.NewTelegram(logger, telegram.Settings{
		Token:  conf.Telegram.Token,
		Client: httpClient,
	})
	if err != nil {
		logger.Error("failed to init telegram", zap.Error(err))
		return nil
	}

	return tg
}

// provideBinanceClient provides Binance client
func provideBinanceClient(conf *config.Config, logger *zap.Logger) *exchange.BinanceClient {
	client := exchange.NewBinanceClient(
		conf.Binance.APIKey,
		conf.Binance.Secret,
		conf.Binance.ProxyURL,
		conf.Binance.Testnet,
	)

	if conf.Binance.APIKey == "" || conf.Binance.Secret == "" {
		logger.Warn("Binance API credentials not configured; some private endpoints may fail")
	}

	logger.Info("Binance client initialized",
		zap.Bool("testnet", conf.Binance.Testnet),
		zap.Bool("has_credentials", conf.Binance.APIKey != "" && conf.Binance.Secret != ""),
	)
	return client
}
