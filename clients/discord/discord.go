package discord

import (
	"fmt"
	"strings"
	"time"

	"liqradar/clients/notifier"
	"liqradar/config"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorCritical   = 0xE74C3C
	colorWarning    = 0xE67E22
	colorWatch      = 0x95A5A6
	colorLiquidated = 0x8E44AD
)

// DiscordClient sends alerts to Discord.
// Implements notifier.Notifier interface.
type DiscordClient struct {
	logger    *zap.Logger
	session   *discordgo.Session
	channelID string
	isProd    bool
}

func NewDiscordClient(logger *zap.Logger, cfg *config.Config) *DiscordClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	channelID := cfg.Discord.BetaChannelID
	if cfg.IsProd {
		channelID = cfg.Discord.ProdChannelID
	}

	token := cfg.Discord.BotToken
	if token == "" {
		logger.Warn("DISCORD_BOT_TOKEN not set, Discord alerts disabled")
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		logger.Error("failed to create discord session", zap.Error(err))
		return &DiscordClient{
			logger:    logger,
			channelID: channelID,
			isProd:    cfg.IsProd,
		}
	}

	logger.Info("discord bot initialized",
		zap.Bool("isProd", cfg.IsProd),
		zap.String("channelID", channelID),
	)

	return &DiscordClient{
		logger:    logger,
		session:   session,
		channelID: channelID,
		isProd:    cfg.IsProd,
	}
}

// Platform implements notifier.Notifier.
func (dc *DiscordClient) Platform() string {
	return "discord"
}

// Enabled implements notifier.Notifier.
func (dc *DiscordClient) Enabled() bool {
	return dc.session != nil && dc.channelID != ""
}

// SendAlert sends a rich embedded risk alert.
// Implements notifier.Notifier interface.
func (dc *DiscordClient) SendAlert(alert notifier.RiskAlert) {
	if !dc.Enabled() {
		dc.logger.Warn("discord session not initialized, skipping alert")
		return
	}

	embed := buildRiskEmbed(alert)

	_, err := dc.session.ChannelMessageSendEmbed(dc.channelID, embed)
	if err != nil {
		dc.logger.Error("failed to send discord embed", zap.Error(err))
		return
	}

	dc.logger.Info("sent discord risk alert",
		zap.String("address", notifier.ShortAddress(alert.Position.Address)),
		zap.String("coin", alert.Position.Coin),
		zap.String("kind", string(alert.Kind)),
	)
}

func embedColor(alert notifier.RiskAlert) int {
	if alert.Kind == notifier.AlertKindLiquidated {
		return colorLiquidated
	}
	switch alert.Position.DangerLevel {
	case notifier.LevelCritical:
		return colorCritical
	case notifier.LevelWarning:
		return colorWarning
	default:
		return colorWatch
	}
}

func buildRiskEmbed(alert notifier.RiskAlert) *discordgo.MessageEmbed {
	p := alert.Position

	sideEmoji := "🟢"
	if p.Direction == "SHORT" {
		sideEmoji = "🔴"
	}

	leverage := "N/A"
	if p.Leverage > 0 {
		leverage = strings.TrimSpace(fmt.Sprintf("%.0fx %s", p.Leverage, p.LeverageType))
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Address", Value: addressDisplay(p), Inline: true},
		{Name: "Position", Value: fmt.Sprintf("%s %s %s", sideEmoji, p.Direction, p.Coin), Inline: true},
		{Name: "Notional", Value: notifier.FormatUSD(p.NotionalUSD), Inline: true},
		{Name: "Entry / Mark", Value: fmt.Sprintf("%s / %s", notifier.FormatPrice(p.EntryPrice), notifier.FormatPrice(p.MarkPrice)), Inline: true},
		{Name: "Liquidation", Value: fmt.Sprintf("%s (%.2f%%)", notifier.FormatPrice(p.LiquidationPrice), p.DistanceToLiq*100), Inline: true},
		{Name: "Leverage", Value: leverage, Inline: true},
		{Name: "Unrealized PnL", Value: notifier.FormatUSD(p.UnrealizedPnl), Inline: true},
		{Name: "Account Value", Value: optionalUSD(p.AccountValue), Inline: true},
		{Name: "All-time PnL", Value: optionalUSD(p.AllTimePnl), Inline: true},
	}

	walletAge := "N/A"
	if p.WalletAgeDays != nil {
		walletAge = fmt.Sprintf("%.0f days", *p.WalletAgeDays)
		if p.IsNewAddress {
			walletAge += " 🆕"
		}
	}
	fields = append(fields, &discordgo.MessageEmbedField{Name: "Wallet Age", Value: walletAge, Inline: true})

	if p.OpenPositions > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Open Positions", Value: fmt.Sprintf("%d", p.OpenPositions), Inline: true,
		})
	}

	var description string
	if alert.TriggerTrade != nil {
		tr := alert.TriggerTrade
		description = fmt.Sprintf("Triggered by %s %s trade @ %s",
			notifier.FormatUSD(tr.Notional), tr.Coin, notifier.FormatPrice(tr.Price))
	}
	if len(p.Labels) > 0 {
		if description != "" {
			description += "\n"
		}
		description += "Labels: " + strings.Join(p.Labels, ", ")
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return &discordgo.MessageEmbed{
		Title:       alert.Title(),
		URL:         p.AddressURL,
		Description: description,
		Color:       embedColor(alert),
		Fields:      fields,
		Footer: &discordgo.MessageEmbedFooter{
			Text: "liqradar * " + ts.UTC().Format("2006-01-02 15:04:05 MST"),
		},
		Timestamp: ts.Format(time.RFC3339),
	}
}

func addressDisplay(p notifier.AlertPosition) string {
	short := notifier.ShortAddress(p.Address)
	if p.AddressURL != "" {
		return fmt.Sprintf("[%s](%s)", short, p.AddressURL)
	}
	return short
}

func optionalUSD(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return notifier.FormatUSD(*v)
}

// Close closes the Discord session.
func (dc *DiscordClient) Close() error {
	if dc.session != nil {
		return dc.session.Close()
	}
	return nil
}
