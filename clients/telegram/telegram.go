package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"liqradar/clients/notifier"
	"liqradar/config"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramClient sends alerts to Telegram.
// Implements notifier.Notifier interface.
type TelegramClient struct {
	logger  *zap.Logger
	bot     *tgbot.BotAPI
	chatID  int64
	channel string // @username target, used instead of chatID when set
	isProd  bool
}

func NewTelegramClient(logger *zap.Logger, cfg *config.Config) *TelegramClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	target := cfg.Telegram.BetaChatID
	if cfg.IsProd {
		target = cfg.Telegram.ProdChatID
	}

	tc := &TelegramClient{
		logger: logger,
		isProd: cfg.IsProd,
	}

	token := cfg.Telegram.BotToken
	if token == "" {
		logger.Warn("TELEGRAM_BOT_KEY not set, Telegram alerts disabled")
		return tc
	}

	if strings.HasPrefix(target, "@") {
		tc.channel = target
	} else {
		id, err := strconv.ParseInt(target, 10, 64)
		if err != nil {
			logger.Warn("telegram chat id invalid, Telegram alerts disabled",
				zap.String("chatID", target),
				zap.Error(err),
			)
			return tc
		}
		tc.chatID = id
	}

	endpoint := cfg.Telegram.APIEndpoint
	if endpoint == "" {
		endpoint = tgbot.APIEndpoint
	}

	bot, err := tgbot.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		logger.Error("failed to create telegram bot", zap.Error(err))
		return tc
	}
	tc.bot = bot

	logger.Info("telegram bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("bot", bot.Self.UserName),
		zap.String("chat", target),
	)

	return tc
}

// Platform implements notifier.Notifier.
func (tc *TelegramClient) Platform() string {
	return "telegram"
}

// Enabled implements notifier.Notifier.
func (tc *TelegramClient) Enabled() bool {
	return tc.bot != nil && (tc.chatID != 0 || tc.channel != "")
}

// SendAlert sends a risk alert notification.
// Implements notifier.Notifier interface.
func (tc *TelegramClient) SendAlert(alert notifier.RiskAlert) {
	if !tc.Enabled() {
		tc.logger.Warn("telegram not configured, skipping alert")
		return
	}

	text := buildAlertMessage(alert)

	var msg tgbot.MessageConfig
	if tc.channel != "" {
		msg = tgbot.NewMessageToChannel(tc.channel, text)
	} else {
		msg = tgbot.NewMessage(tc.chatID, text)
	}
	msg.ParseMode = tgbot.ModeMarkdown
	msg.DisableWebPagePreview = true

	if _, err := tc.bot.Send(msg); err != nil {
		tc.logger.Error("failed to send telegram message", zap.Error(err))
		return
	}

	tc.logger.Info("sent telegram risk alert",
		zap.String("address", notifier.ShortAddress(alert.Position.Address)),
		zap.String("coin", alert.Position.Coin),
		zap.String("kind", string(alert.Kind)),
	)
}

func buildAlertMessage(alert notifier.RiskAlert) string {
	p := alert.Position
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("*%s*\n\n", escapeMarkdown(alert.Title())))

	addr := notifier.ShortAddress(p.Address)
	if p.AddressURL != "" {
		sb.WriteString(fmt.Sprintf("*Address:* [%s](%s)\n", escapeMarkdown(addr), p.AddressURL))
	} else {
		sb.WriteString(fmt.Sprintf("*Address:* %s\n", escapeMarkdown(addr)))
	}

	sideEmoji := "🟢"
	if p.Direction == "SHORT" {
		sideEmoji = "🔴"
	}
	sb.WriteString(fmt.Sprintf("*Position:* %s %s %s\n", sideEmoji, p.Direction, escapeMarkdown(p.Coin)))
	sb.WriteString(fmt.Sprintf("*Notional:* %s\n", notifier.FormatUSD(p.NotionalUSD)))
	if p.Leverage > 0 {
		sb.WriteString(fmt.Sprintf("*Leverage:* %.0fx %s\n", p.Leverage, p.LeverageType))
	}
	sb.WriteString(fmt.Sprintf("*Entry / Mark:* %s / %s\n", notifier.FormatPrice(p.EntryPrice), notifier.FormatPrice(p.MarkPrice)))
	sb.WriteString(fmt.Sprintf("*Liquidation:* %s (%.2f%% away)\n", notifier.FormatPrice(p.LiquidationPrice), p.DistanceToLiq*100))
	sb.WriteString(fmt.Sprintf("*Unrealized PnL:* %s\n", notifier.FormatUSD(p.UnrealizedPnl)))

	if alert.TriggerTrade != nil {
		tr := alert.TriggerTrade
		sb.WriteString(fmt.Sprintf("*Trigger:* %s %s @ %s\n",
			notifier.FormatUSD(tr.Notional), escapeMarkdown(tr.Coin), notifier.FormatPrice(tr.Price)))
	}

	sb.WriteString("\n")
	if p.AccountValue != nil {
		sb.WriteString(fmt.Sprintf("*Account Value:* %s", notifier.FormatUSD(*p.AccountValue)))
		if p.OpenPositions > 0 {
			sb.WriteString(fmt.Sprintf(" (%d open)", p.OpenPositions))
		}
		sb.WriteString("\n")
	}
	if p.AllTimePnl != nil {
		sb.WriteString(fmt.Sprintf("*All-time PnL:* %s\n", notifier.FormatUSD(*p.AllTimePnl)))
	}
	if p.WalletAgeDays != nil {
		age := fmt.Sprintf("%.0f days", *p.WalletAgeDays)
		if p.IsNewAddress {
			age += " 🆕"
		}
		sb.WriteString(fmt.Sprintf("*Wallet Age:* %s\n", age))
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	sb.WriteString(fmt.Sprintf("\n_liqradar • %s_", ts.UTC().Format("2006-01-02 15:04:05 MST")))

	return sb.String()
}

// Close cleans up resources. Implements notifier.Notifier interface.
// The bot never polls for updates, so there is nothing to stop.
func (tc *TelegramClient) Close() error {
	return nil
}

// escapeMarkdown escapes special characters for Telegram Markdown.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"]", "\\]",
		"`", "\\`",
	)
	return replacer.Replace(s)
}
