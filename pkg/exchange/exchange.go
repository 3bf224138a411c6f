package exchange

import (
	"context"
	"errors"
	"fmt"
)

// MarketSource 行情数据源接口，回测与模拟盘只依赖这一部分
type MarketSource interface {
	// GetKlines 获取历史K线，按时间升序返回
	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*Kline, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	// SubscribeKlines 订阅实时K线流，只回调已收盘的K线
	// 返回的 done 在连接断开时关闭，重连由调用方负责
	SubscribeKlines(symbol, interval string, onClosed func(*Kline)) (done chan struct{}, stop chan struct{}, err error)
}

// LiveOrder 实盘订单请求
type LiveOrder struct {
	Symbol     string
	Side       OrderSide
	Quantity   float64
	ReduceOnly bool
}

// LiveExecutor 实盘下单接口，策略晋升为 live 后才会被调用
// Place 的失败分三类：Ack（返回结果）、Reject（ErrOrderRejected）、
// Timeout（ErrOrderTimeout）。Timeout 时调用方不得盲目重试，避免重复下单
type LiveExecutor interface {
	Place(ctx context.Context, order LiveOrder) (*OrderResult, error)
}

var (
	// ErrOrderRejected 交易所明确拒绝了订单
	ErrOrderRejected = errors.New("order rejected by exchange")
	// ErrOrderTimeout 下单结果未知，可能已成交也可能未成交
	ErrOrderTimeout = errors.New("order placement timed out")
)

// RejectReason 从 Reject 错误中提取拒绝原因，非拒绝错误返回空串
func RejectReason(err error) string {
	var re *rejectError
	if errors.As(err, &re) {
		return re.reason
	}
	return ""
}

type rejectError struct {
	reason string
}

func (e *rejectError) Error() string {
	return fmt.Sprintf("order rejected by exchange: %s", e.reason)
}

func (e *rejectError) Unwrap() error {
	return ErrOrderRejected
}

func newRejectError(reason string) error {
	return &rejectError{reason: reason}
}
