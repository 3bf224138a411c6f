package telegram

import (
	"net/http"
	"time"

	"github.com/dushixiang/gauntlet/pkg/nostd"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
	"gopkg.in/telebot.v3/middleware"
)

type Settings struct {
	Token  string
	Client *http.Client
}

type Telegram struct {
	logger   *zap.Logger
	settings Settings
	client   *tele.Bot

	// /status 命令的内容提供者，由上层挂载
	statusProvider func() string
}

type Option func(telegram *Telegram)

// WithStatusProvider 挂载 /status 命令的内容来源
func WithStatusProvider(fn func() string) Option {
	return func(t *Telegram) {
		t.statusProvider = fn
	}
}

func NewTelegram(logger *zap.Logger, settings Settings, options ...Option) (*Telegram, error) {

	poller := &tele.LongPoller{Timeout: 10 * time.Second}

	userMiddleware := tele.NewMiddlewarePoller(poller, func(u *tele.Update) bool {

		return true
	})

	client, err := tele.NewBot(tele.Settings{
		ParseMode: tele.ModeMarkdown,
		Token:     settings.Token,
		Poller:    userMiddleware,
		Client:    settings.Client,
	})
	if err != nil {
		return nil, err
	}

	client.Use(middleware.AutoRespond())

	err = client.SetCommands([]tele.Command{
		{Text: "/start", Description: "启动机器人"},
		{Text: "/help", Description: "获取帮助信息"},
		{Text: "/status", Description: "查看流水线状态"},
	})
	if err != nil {
		return nil, err
	}

	bot := &Telegram{
		logger:   logger,
		settings: settings,
		client:   client,
	}

	for _, option := range options {
		option(bot)
	}

	client.Handle("/start", func(c tele.Context) error {
		return c.Send("策略晋升流水线已连接，可用命令：/status 查看状态")
	})
	client.Handle("/help", func(c tele.Context) error {
		return c.Send("/status - 查看运行中的策略与会话")
	})
	client.Handle("/status", func(c tele.Context) error {
		if bot.statusProvider == nil {
			return c.Send("状态服务尚未就绪")
		}
		return c.Send(bot.statusProvider())
	})

	return bot, nil
}

// SetStatusProvider 挂载 /status 命令的内容来源
func (r *Telegram) SetStatusProvider(fn func() string) {
	r.statusProvider = fn
}

func (r *Telegram) Start() {
	go r.client.Start()
}

// telegram 单条消息上限 4096 字符，超长通知直接截断
const maxMessageLen = 4000

func (r *Telegram) Notify(chatId, msg string) error {
	_chatId := cast.ToInt(chatId)
	msg = nostd.TruncateString(msg, maxMessageLen)
	_, err := r.client.Send(tele.ChatID(_chatId), msg, &tele.SendOptions{ParseMode: tele.ModeMarkdown})
	return err
}
