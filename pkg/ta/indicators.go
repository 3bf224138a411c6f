package ta

import "github.com/markcheno/go-talib"

// talib 封装，统一从这里取指标序列，避免业务代码直接依赖第三方签名

// EMA 指数移动平均
func EMA(closes []float64, period int) []float64 {
	return talib.Ema(closes, period)
}

// SMA 简单移动平均
func SMA(closes []float64, period int) []float64 {
	return talib.Sma(closes, period)
}

// MACD 返回 (macd, signal, hist) 三条序列
func MACD(closes []float64, fastPeriod, slowPeriod, signalPeriod int) ([]float64, []float64, []float64) {
	return talib.Macd(closes, fastPeriod, slowPeriod, signalPeriod)
}

// RSI 相对强弱指标
func RSI(closes []float64, period int) []float64 {
	return talib.Rsi(closes, period)
}

// ATR 平均真实波幅
func ATR(highs, lows, closes []float64, period int) []float64 {
	return talib.Atr(highs, lows, closes, period)
}
