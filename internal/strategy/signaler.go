package strategy

import (
	"time"

	"github.com/dushixiang/gauntlet/pkg/exchange"
)

// Snapshot 指标快照，信号函数的唯一行情输入
// 由指标服务在每根K线收盘后构建，信号函数只读不写
type Snapshot struct {
	Symbol     string    `json:"symbol"`
	Time       time.Time `json:"time"`  // K线收盘时间
	Price      float64   `json:"price"` // 收盘价
	EMA20      float64   `json:"ema20"`
	EMA50      float64   `json:"ema50"`
	MACD       float64   `json:"macd"`
	MACDSignal float64   `json:"macd_signal"`
	MACDHist   float64   `json:"macd_hist"`
	RSI7       float64   `json:"rsi7"`
	RSI14      float64   `json:"rsi14"`
	ATR3       float64   `json:"atr3"`
	ATR14      float64   `json:"atr14"`

	// 最近一段窗口的原始序列，通道类和统计类策略使用
	Closes []float64 `json:"closes"`
	Highs  []float64 `json:"highs"`
	Lows   []float64 `json:"lows"`
}

// PositionState 当前持仓状态，信号函数的第二个输入
type PositionState struct {
	Holding    bool
	Side       exchange.PositionSide
	EntryPrice float64
	Quantity   float64
}

// Action 信号动作
type Action string

const (
	ActionEnterLong  Action = "enter_long"
	ActionEnterShort Action = "enter_short"
	ActionExit       Action = "exit"
	ActionHold       Action = "hold"
)

// Signal 信号函数的输出
// Confidence 与 SizeHint 均在 [0,1]，由风控的 Size 函数换算成实际下单量
type Signal struct {
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	SizeHint   float64 `json:"size_hint"`
	Reason     string  `json:"reason"`
}

// Hold 空信号
func Hold() Signal {
	return Signal{Action: ActionHold}
}

// Signaler 策略信号接口
// 实现必须是纯函数：相同的快照和持仓状态必然产生相同的信号，
// 不允许持有内部可变状态，也不允许读取时钟或随机数
type Signaler interface {
	// Name 策略实现名称
	Name() string
	// Lookback 产生有效信号所需的最少K线数量，不足时引擎跳过信号计算
	Lookback() int
	// Signal 计算信号
	Signal(snap Snapshot, pos PositionState) Signal
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
