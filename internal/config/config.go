package config

type Config struct {
	Telegram TelegramConf `json:"telegram"`
	Binance  BinanceConf  `json:"binance"`
	Pipeline PipelineConf `json:"pipeline"`
	Sim      SimConf      `json:"sim"`
	Risk     RiskConf     `json:"risk"`
}

type TelegramConf struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  string `json:"chat_id"`
}

type BinanceConf struct {
	APIKey   string `json:"api_key"`
	Secret   string `json:"secret"`
	ProxyURL string `json:"proxy_url"` // 代理地址，例如: http://127.0.0.1:7890
	Testnet  bool   `json:"testnet"`   // 是否使用测试网
}

type PipelineConf struct {
	Interval           string   `json:"interval"`             // K线周期，如 15m
	BacktestCandles    int      `json:"backtest_candles"`     // 回测使用的历史K线数量，默认1000
	InitialCapital     float64  `json:"initial_capital"`      // 每个会话的初始资金（USDT）
	Symbols            []string `json:"symbols"`              // 允许交易的币种白名单
	LiveEnabled        bool     `json:"live_enabled"`         // 是否允许晋升实盘，false 时通过模拟盘门槛的策略停在 paper_trading
	MonitorCron        string   `json:"monitor_cron"`         // 风控巡检 cron 表达式，默认每分钟
	EvaluationCron     string   `json:"evaluation_cron"`      // 模拟盘晋升评估 cron 表达式，默认每小时
	BacktestGate       GateConf `json:"backtest_gate"`        // 回测 -> 模拟盘门槛
	PaperGate          GateConf `json:"paper_gate"`           // 模拟盘 -> 实盘门槛，应严于回测门槛
	PaperWindowHours   float64  `json:"paper_window_hours"`   // 模拟盘最短评估窗口（小时）
	PaperWindowTrades  int      `json:"paper_window_trades"`  // 模拟盘最少成交笔数，与时间窗口同时满足才评估
	PersistMaxRetries  int      `json:"persist_max_retries"`  // 持久化失败重试次数，超过后会话降级
	PersistRetryMillis int      `json:"persist_retry_millis"` // 持久化重试基础间隔（毫秒），指数退避
}

// GateConf 晋升门槛
type GateConf struct {
	MinTrades          int     `json:"min_trades"`           // 最少成交笔数
	MinWinRate         float64 `json:"min_win_rate"`         // 最低胜率 [0,1]
	MinSharpe          float64 `json:"min_sharpe"`           // 最低夏普比率
	MaxDrawdownPercent float64 `json:"max_drawdown_percent"` // 最大回撤百分比上限
}

type SimConf struct {
	SlippagePercent float64 `json:"slippage_percent"` // 不利方向滑点百分比
	MakerFeeBps     float64 `json:"maker_fee_bps"`    // 挂单手续费（基点）
	TakerFeeBps     float64 `json:"taker_fee_bps"`    // 吃单手续费（基点）
	LatencyFraction float64 `json:"latency_fraction"` // 执行延迟，按K线周期比例
}

type RiskConf struct {
	MaxDrawdownPercent    float64 `json:"max_drawdown_percent"`     // 最大回撤百分比，默认10
	MaxPositionPercent    float64 `json:"max_position_percent"`     // 单仓占权益最大百分比，默认20
	MaxPositions          int     `json:"max_positions"`            // 最大并发持仓数，默认3
	DailyLossLimitPercent float64 `json:"daily_loss_limit_percent"` // 单日亏损上限百分比，默认5
	MaxLeverage           int     `json:"max_leverage"`             // 杠杆上限，默认10
	BaseFraction          float64 `json:"base_fraction"`            // 基础仓位比例，置信度为1时占权益的百分比
}
