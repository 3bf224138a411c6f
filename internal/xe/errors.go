package xe

import "github.com/go-orz/orz"

var (
	ErrInvalidParams      = orz.NewError(10400, "参数无效")
	ErrStrategyNotFound   = orz.NewError(10404, "策略不存在")
	ErrSessionNotFound    = orz.NewError(10405, "会话不存在")
	ErrInvalidTransition  = orz.NewError(10000, "当前状态不允许此操作")
	ErrSessionTerminal    = orz.NewError(10001, "会话已结束，不可再操作")
	ErrPaperSessionExists = orz.NewError(10002, "该策略已存在进行中的模拟盘会话")
	ErrStrategyRetired    = orz.NewError(10004, "策略已退役")
	ErrNotSupport         = orz.NewError(10010, "尚未支持")
)
