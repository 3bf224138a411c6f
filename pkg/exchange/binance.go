package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

// BinanceClient Binance期货API客户端
// 承担两个边界职责：历史/实时行情来源，以及 live 阶段的实盘下单
type BinanceClient struct {
	client         *futures.Client
	symbolInfoMap  map[string]*SymbolInfo
	symbolInfoLock sync.RWMutex
}

// SymbolInfo 交易对信息
type SymbolInfo struct {
	Symbol            string
	QuantityPrecision int
	PricePrecision    int
	MinQuantity       float64
	MaxQuantity       float64
	StepSize          float64
	MinNotional       float64
	lastUpdated       time.Time
}

// NewBinanceClient 创建Binance客户端
func NewBinanceClient(apiKey, secretKey, proxyURL string, testnet bool) *BinanceClient {
	var client *futures.Client
	if proxyURL != "" {
		client = futures.NewProxiedClient(apiKey, secretKey, proxyURL)
	} else {
		client = futures.NewClient(apiKey, secretKey)
	}

	if testnet {
		futures.UseTestnet = true
	}

	return &BinanceClient{
		client:        client,
		symbolInfoMap: make(map[string]*SymbolInfo),
	}
}

// Kline K线数据
type Kline struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// GetKlines 获取K线数据，按时间升序返回
func (b *BinanceClient) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*Kline, error) {
	klines, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to get klines: %w", err)
	}

	result := make([]*Kline, 0, len(klines))
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		close, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)

		result = append(result, &Kline{
			OpenTime:  time.Unix(k.OpenTime/1000, 0),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    volume,
			CloseTime: time.Unix(k.CloseTime/1000, 0),
		})
	}

	return result, nil
}

// SubscribeKlines 订阅实时K线流，只回调已收盘的K线
// 返回的 done 在连接断开时关闭，重连策略由上层（MarketService）负责
func (b *BinanceClient) SubscribeKlines(symbol, interval string, onClosed func(*Kline)) (done chan struct{}, stop chan struct{}, err error) {
	wsHandler := func(event *futures.WsKlineEvent) {
		k := event.Kline
		if !k.IsFinal {
			return
		}

		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		close, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)

		onClosed(&Kline{
			OpenTime:  time.Unix(k.StartTime/1000, 0),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    volume,
			CloseTime: time.Unix(k.EndTime/1000, 0),
		})
	}

	errHandler := func(err error) {
		// 连接级错误会触发 doneC 关闭，这里无需额外处理
	}

	return futures.WsKlineServe(symbol, interval, wsHandler, errHandler)
}

// AccountInfo 账户信息
type AccountInfo struct {
	TotalBalance     float64 // 总余额（含未实现盈亏）
	AvailableBalance float64 // 可用余额
	UnrealizedPnl    float64 // 未实现盈亏
}

// GetAccountInfo 获取账户信息
func (b *BinanceClient) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get account info: %w", err)
	}

	totalBalance, _ := strconv.ParseFloat(account.TotalWalletBalance, 64)
	availableBalance, _ := strconv.ParseFloat(account.AvailableBalance, 64)
	unrealizedPnl, _ := strconv.ParseFloat(account.TotalUnrealizedProfit, 64)

	return &AccountInfo{
		TotalBalance:     totalBalance,
		AvailableBalance: availableBalance,
		UnrealizedPnl:    unrealizedPnl,
	}, nil
}

// GetCurrentPrice 获取当前价格
func (b *BinanceClient) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get current price: %w", err)
	}

	if len(prices) == 0 {
		return 0, fmt.Errorf("no price data for symbol %s", symbol)
	}

	price, _ := strconv.ParseFloat(prices[0].Price, 64)
	return price, nil
}

// SetLeverage 设置杠杆倍数
func (b *BinanceClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := b.client.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)

	if err != nil {
		return fmt.Errorf("failed to set leverage: %w", err)
	}

	return nil
}

// SetMarginType 设置保证金模式
func (b *BinanceClient) SetMarginType(ctx context.Context, symbol string, marginType MarginType) error {
	err := b.client.NewChangeMarginTypeService().
		Symbol(symbol).
		MarginType(futures.MarginType(marginType)).
		Do(ctx)

	if err != nil {
		return fmt.Errorf("failed to set margin type: %w", err)
	}

	return nil
}

// OrderResult 订单结果
type OrderResult struct {
	OrderID     int64
	Symbol      string
	Side        string
	Type        string
	Quantity    float64
	Price       float64
	AvgPrice    float64
	Status      string
	ExecutedQty float64
}

// Place 实盘下市价单
// 超时类错误统一折叠为 ErrOrderTimeout：结果未知，调用方不得重试；
// 交易所明确拒绝折叠为 ErrOrderRejected 并携带原因
func (b *BinanceClient) Place(ctx context.Context, order LiveOrder) (*OrderResult, error) {
	formattedQty, err := b.FormatQuantity(ctx, order.Symbol, order.Quantity)
	if err != nil {
		return nil, newRejectError(err.Error())
	}

	info, err := b.GetSymbolInfo(ctx, order.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get symbol info: %w", err)
	}

	quantityStr := strconv.FormatFloat(formattedQty, 'f', info.QuantityPrecision, 64)

	service := b.client.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(futures.SideType(order.Side)).
		Type(futures.OrderTypeMarket).
		Quantity(quantityStr)

	if order.ReduceOnly {
		service.ReduceOnly(true)
	}

	result, err := service.Do(ctx)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("place %s %s: %w", order.Symbol, order.Side, ErrOrderTimeout)
		}

		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			return nil, newRejectError(apiErr.Message)
		}
		return nil, fmt.Errorf("failed to place market order: %w", err)
	}

	avgPrice, _ := strconv.ParseFloat(result.AvgPrice, 64)
	executedQty, _ := strconv.ParseFloat(result.ExecutedQuantity, 64)
	origQty, _ := strconv.ParseFloat(result.OrigQuantity, 64)

	return &OrderResult{
		OrderID:     result.OrderID,
		Symbol:      result.Symbol,
		Side:        string(result.Side),
		Type:        string(result.Type),
		Quantity:    origQty,
		AvgPrice:    avgPrice,
		Status:      string(result.Status),
		ExecutedQty: executedQty,
	}, nil
}

// isTimeout 判断是否为结果未知的超时类错误
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// GetSymbolInfo 获取交易对信息
func (b *BinanceClient) GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	// 检查缓存（5分钟有效期）
	b.symbolInfoLock.RLock()
	if info, exists := b.symbolInfoMap[symbol]; exists {
		if time.Since(info.lastUpdated) < 5*time.Minute {
			b.symbolInfoLock.RUnlock()
			return info, nil
		}
	}
	b.symbolInfoLock.RUnlock()

	exchangeInfo, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange info: %w", err)
	}

	for _, s := range exchangeInfo.Symbols {
		if s.Symbol == symbol {
			info := &SymbolInfo{
				Symbol:            s.Symbol,
				QuantityPrecision: s.QuantityPrecision,
				PricePrecision:    s.PricePrecision,
				lastUpdated:       time.Now(),
			}

			// 解析过滤器
			for _, filter := range s.Filters {
				switch filter["filterType"] {
				case "LOT_SIZE":
					if minQty, ok := filter["minQty"].(string); ok {
						info.MinQuantity, _ = strconv.ParseFloat(minQty, 64)
					}
					if maxQty, ok := filter["maxQty"].(string); ok {
						info.MaxQuantity, _ = strconv.ParseFloat(maxQty, 64)
					}
					if stepSize, ok := filter["stepSize"].(string); ok {
						info.StepSize, _ = strconv.ParseFloat(stepSize, 64)
					}
				case "MIN_NOTIONAL":
					if notional, ok := filter["notional"].(string); ok {
						info.MinNotional, _ = strconv.ParseFloat(notional, 64)
					}
				}
			}

			b.symbolInfoLock.Lock()
			b.symbolInfoMap[symbol] = info
			b.symbolInfoLock.Unlock()

			return info, nil
		}
	}

	return nil, fmt.Errorf("symbol %s not found", symbol)
}

// FormatQuantity 根据交易对精度格式化数量
func (b *BinanceClient) FormatQuantity(ctx context.Context, symbol string, quantity float64) (float64, error) {
	info, err := b.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return 0, err
	}

	// 根据 stepSize 调整数量
	if info.StepSize > 0 {
		quantity = math.Floor(quantity/info.StepSize) * info.StepSize
	}

	// 根据精度截断
	precision := math.Pow10(info.QuantityPrecision)
	quantity = math.Floor(quantity*precision) / precision

	// 验证范围
	if quantity < info.MinQuantity {
		return 0, fmt.Errorf("quantity %.8f is below minimum %.8f for %s", quantity, info.MinQuantity, symbol)
	}
	if info.MaxQuantity > 0 && quantity > info.MaxQuantity {
		return 0, fmt.Errorf("quantity %.8f exceeds maximum %.8f for %s", quantity, info.MaxQuantity, symbol)
	}

	return quantity, nil
}
