package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dushixiang/gauntlet/pkg/exchange"
	"go.uber.org/zap"
)

// 订阅者通道容量，消费慢时丢最旧的K线，绝不阻塞广播
const subscriberBuffer = 64

// MarketService 行情服务
// 回测走REST历史K线；模拟盘/实盘走websocket收盘K线流，
// 按 (symbol, interval) 维护一条共享流，向所有订阅者只读广播
type MarketService struct {
	logger *zap.Logger
	client exchange.MarketSource

	mu      sync.Mutex
	streams map[string]*klineStream // "symbol|interval" -> stream
}

// NewMarketService 创建行情服务
func NewMarketService(client exchange.MarketSource, logger *zap.Logger) *MarketService {
	return &MarketService{
		logger:  logger,
		client:  client,
		streams: make(map[string]*klineStream),
	}
}

// klineStream 单个 (symbol, interval) 的共享行情流
type klineStream struct {
	symbol   string
	interval string

	mu           sync.Mutex
	subscribers  map[chan *exchange.Kline]struct{}
	lastOpenTime time.Time // 按开盘时间去重，重连后的重复K线只投递一次
	closed       bool
	stopWs       chan struct{}
}

// History 获取历史K线，按时间升序
func (s *MarketService) History(ctx context.Context, symbol, interval string, limit int) ([]*exchange.Kline, error) {
	klines, err := s.client.GetKlines(ctx, symbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load kline history: %w", err)
	}
	return klines, nil
}

// CurrentPrice 获取最新价格
func (s *MarketService) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return s.client.GetCurrentPrice(ctx, symbol)
}

// Subscribe 订阅收盘K线流
// 返回只读通道和取消函数；通道有界，消费跟不上时丢最旧的K线
func (s *MarketService) Subscribe(symbol, interval string) (<-chan *exchange.Kline, func(), error) {
	key := symbol + "|" + interval

	s.mu.Lock()
	stream, exists := s.streams[key]
	if !exists {
		stream = &klineStream{
			symbol:      symbol,
			interval:    interval,
			subscribers: make(map[chan *exchange.Kline]struct{}),
			stopWs:      make(chan struct{}),
		}
		s.streams[key] = stream
		go s.runStream(stream)
	}
	s.mu.Unlock()

	ch := make(chan *exchange.Kline, subscriberBuffer)

	stream.mu.Lock()
	stream.subscribers[ch] = struct{}{}
	stream.mu.Unlock()

	unsubscribe := func() {
		stream.mu.Lock()
		if _, ok := stream.subscribers[ch]; ok {
			delete(stream.subscribers, ch)
			close(ch)
		}
		empty := len(stream.subscribers) == 0
		stream.mu.Unlock()

		if empty {
			s.stopStream(key, stream)
		}
	}

	return ch, unsubscribe, nil
}

// runStream 维持websocket连接，断开后按上限指数退避重连
func (s *MarketService) runStream(stream *klineStream) {
	backoff := time.Second
	const maxBackoff = time.Minute

	for {
		done, stop, err := s.client.SubscribeKlines(stream.symbol, stream.interval, func(k *exchange.Kline) {
			s.broadcast(stream, k)
		})
		if err != nil {
			s.logger.Error("failed to subscribe kline stream",
				zap.String("symbol", stream.symbol),
				zap.String("interval", stream.interval),
				zap.Error(err))
		} else {
			backoff = time.Second

			select {
			case <-done:
				// 连接断开，走重连；缺口K线直接跳过，下游按开盘时间感知
				s.logger.Warn("kline stream disconnected, will reconnect",
					zap.String("symbol", stream.symbol),
					zap.String("interval", stream.interval))
			case <-stream.stopWs:
				close(stop)
				return
			}
		}

		select {
		case <-time.After(backoff):
		case <-stream.stopWs:
			return
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// broadcast 向所有订阅者投递收盘K线
// 去重：重连场景下同一根K线可能重复到达，按开盘时间只投递一次
func (s *MarketService) broadcast(stream *klineStream, k *exchange.Kline) {
	stream.mu.Lock()
	defer stream.mu.Unlock()

	if stream.closed {
		return
	}
	if !k.OpenTime.After(stream.lastOpenTime) {
		return
	}
	stream.lastOpenTime = k.OpenTime

	for ch := range stream.subscribers {
		select {
		case ch <- k:
		default:
			// 订阅者落后，丢最旧的一根再投递
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- k:
			default:
			}
		}
	}
}

// stopStream 关闭没有订阅者的流
// 幂等：流已关闭时直接返回，重复退订不会二次 close(stopWs)
func (s *MarketService) stopStream(key string, stream *klineStream) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream.mu.Lock()
	shouldStop := len(stream.subscribers) == 0 && !stream.closed
	if shouldStop {
		stream.closed = true
	}
	stream.mu.Unlock()

	if shouldStop {
		close(stream.stopWs)
		delete(s.streams, key)
		s.logger.Info("kline stream stopped",
			zap.String("symbol", stream.symbol),
			zap.String("interval", stream.interval))
	}
}
