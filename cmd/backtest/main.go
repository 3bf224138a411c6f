package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/dushixiang/gauntlet/internal/config"
	"github.com/dushixiang/gauntlet/internal/models"
	"github.com/dushixiang/gauntlet/internal/service"
	"github.com/dushixiang/gauntlet/pkg/exchange"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	symbol   string
	interval string
	kind     string
	params   string
	candles  int
	capital  float64
	proxyURL string
)

var rootCmd = &cobra.Command{
	Use:   "backtest",
	Short: "离线回测单个策略并输出绩效指标",
	Long:  ``,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVarP(&symbol, "symbol", "s", "BTCUSDT", "交易对")
	rootCmd.Flags().StringVarP(&interval, "interval", "i", "15m", "K线周期")
	rootCmd.Flags().StringVarP(&kind, "kind", "k", "momentum", "策略类型")
	rootCmd.Flags().StringVarP(&params, "params", "p", "{}", "策略参数（JSON）")
	rootCmd.Flags().IntVarP(&candles, "candles", "n", 1000, "回测K线数量")
	rootCmd.Flags().Float64Var(&capital, "capital", 10000, "初始资金（USDT）")
	rootCmd.Flags().StringVar(&proxyURL, "proxy", "", "代理地址")
}

func run() error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	strategyKind, err := models.ParseStrategyKind(kind)
	if err != nil {
		return err
	}

	var strategyParams map[string]any
	if err := json.Unmarshal([]byte(params), &strategyParams); err != nil {
		return fmt.Errorf("invalid params json: %w", err)
	}

	conf := &config.Config{
		Sim: config.SimConf{
			SlippagePercent: 0.05,
			MakerFeeBps:     2,
			TakerFeeBps:     4,
			LatencyFraction: 0,
		},
	}

	client := exchange.NewBinanceClient("", "", proxyURL, false)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	klines, err := client.GetKlines(ctx, symbol, interval, candles)
	if err != nil {
		return fmt.Errorf("failed to fetch klines: %w", err)
	}
	logger.Info("klines loaded",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("count", len(klines)),
	)

	indicatorService := service.NewIndicatorService()
	riskService := service.NewRiskService(conf, logger)
	backtestService := service.NewBacktestService(conf, indicatorService, riskService, logger)

	st := &models.Strategy{
		ID:     "cli",
		Name:   fmt.Sprintf("%s-%s-cli", kind, symbol),
		Kind:   strategyKind,
		Symbol: symbol,
		Params: strategyParams,
	}

	result, err := backtestService.Run(ctx, st, klines, capital, riskService.DefaultLimits())
	if err != nil {
		return err
	}

	m := result.Metrics
	fmt.Printf("回测结果 %s %s x%d 根K线\n", symbol, interval, len(klines))
	fmt.Printf("  初始资金:   %.2f\n", result.InitialCapital)
	fmt.Printf("  最终权益:   %.2f\n", result.FinalEquity)
	fmt.Printf("  收益率:     %.2f%%\n", m.ReturnPercent)
	fmt.Printf("  交易次数:   %d (胜 %d / 负 %d)\n", m.TradeCount, m.WinCount, m.LossCount)
	fmt.Printf("  胜率:       %.2f%%\n", m.WinRate*100)
	fmt.Printf("  盈亏比:     %.2f\n", m.ProfitFactor)
	fmt.Printf("  夏普比率:   %.4f\n", m.SharpeRatio)
	fmt.Printf("  索提诺比率: %.4f\n", m.SortinoRatio)
	fmt.Printf("  最大回撤:   %.2f%%\n", m.MaxDrawdownPercent)
	fmt.Printf("  总手续费:   %.2f\n", m.TotalFee)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
