package strategy

import (
	"fmt"
	"sync"

	"github.com/dushixiang/gauntlet/internal/models"
)

// Factory 信号器工厂，外部生成器通过 Register 挂载自定义实现
type Factory func(params map[string]any) (Signaler, error)

var (
	factoryMu sync.RWMutex
	factories = map[models.StrategyKind]Factory{}
)

// Register 注册策略类型的信号器工厂，重复注册以后者为准
func Register(kind models.StrategyKind, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[kind] = factory
}

func init() {
	Register(models.StrategyKindMomentum, func(params map[string]any) (Signaler, error) {
		return NewMomentum(params), nil
	})
	Register(models.StrategyKindMeanReversion, func(params map[string]any) (Signaler, error) {
		return NewMeanReversion(params), nil
	})
	Register(models.StrategyKindBreakout, func(params map[string]any) (Signaler, error) {
		return NewBreakout(params), nil
	})
	Register(models.StrategyKindGrid, func(params map[string]any) (Signaler, error) {
		return NewGrid(params), nil
	})
	Register(models.StrategyKindDCA, func(params map[string]any) (Signaler, error) {
		return NewDCA(params), nil
	})
}

// New 按策略类型创建信号器
// generated_other 依赖外部生成器注册工厂，未注册时返回错误
func New(kind models.StrategyKind, params map[string]any) (Signaler, error) {
	factoryMu.RLock()
	factory, ok := factories[kind]
	factoryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no signaler registered for strategy kind %q", kind)
	}
	return factory(params)
}
