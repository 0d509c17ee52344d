package telegram

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"liqradar/clients/notifier"
	"liqradar/config"

	"go.uber.org/zap"
)

// fakeBotAPI emulates the Telegram Bot API endpoints the client uses.
type fakeBotAPI struct {
	*httptest.Server
	mu       sync.Mutex
	sent     []map[string]string
	failSend bool
}

func newFakeBotAPI(t *testing.T) *fakeBotAPI {
	t.Helper()
	f := &fakeBotAPI{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			w.Write([]byte(`{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"radar","username":"radar_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
			}
			f.mu.Lock()
			f.sent = append(f.sent, map[string]string{
				"chat_id":    r.FormValue("chat_id"),
				"text":       r.FormValue("text"),
				"parse_mode": r.FormValue("parse_mode"),
			})
			fail := f.failSend
			f.mu.Unlock()
			if fail {
				w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
				return
			}
			w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":1700000000,"chat":{"id":-100123,"type":"channel"}}}`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return f
}

func (f *fakeBotAPI) endpoint() string {
	return f.URL + "/bot%s/%s"
}

func (f *fakeBotAPI) messages() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func testConfig(endpoint, token string, isProd bool) *config.Config {
	cfg := config.Defaults()
	cfg.IsProd = isProd
	cfg.Telegram = config.TelegramConfig{
		BotToken:    token,
		ProdChatID:  "-100999",
		BetaChatID:  "-100123",
		APIEndpoint: endpoint,
	}
	return cfg
}

func sampleAlert() notifier.RiskAlert {
	age := 3.0
	pnl := -1_250_000.0
	acct := 12_000_000.0
	return notifier.RiskAlert{
		Kind: notifier.AlertKindAtRisk,
		Position: notifier.AlertPosition{
			Address:          "0xabcdef0123456789abcdef0123456789abcdef01",
			AddressURL:       "https://app.hyperliquid.xyz/explorer/address/0xabcdef0123456789abcdef0123456789abcdef01",
			Coin:             "BTC",
			Direction:        "LONG",
			NotionalUSD:      4_750_000,
			Size:             50,
			EntryPrice:       96000,
			MarkPrice:        95000,
			LiquidationPrice: 92000,
			DistanceToLiq:    0.0316,
			DangerLevel:      notifier.LevelCritical,
			Leverage:         10,
			LeverageType:     "cross",
			UnrealizedPnl:    -50_000,
			WalletAgeDays:    &age,
			AllTimePnl:       &pnl,
			IsNewAddress:     true,
			AccountValue:     &acct,
			OpenPositions:    2,
		},
		TriggerTrade: &notifier.TradeInfo{Coin: "BTC", Price: 95000, Notional: 600_000},
		Timestamp:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestNewTelegramClient_NoToken(t *testing.T) {
	client := NewTelegramClient(zap.NewNop(), testConfig("", "", false))

	if client.Enabled() {
		t.Error("expected client disabled without token")
	}
	if client.Platform() != "telegram" {
		t.Errorf("unexpected platform: %s", client.Platform())
	}

	// Should not panic
	client.SendAlert(sampleAlert())
}

func TestNewTelegramClient_InvalidChatID(t *testing.T) {
	api := newFakeBotAPI(t)
	defer api.Close()

	cfg := testConfig(api.endpoint(), "token", false)
	cfg.Telegram.BetaChatID = "not-a-number"

	client := NewTelegramClient(nil, cfg)
	if client.Enabled() {
		t.Error("expected client disabled with invalid chat id")
	}
}

func TestNewTelegramClient_ProdVsBetaChat(t *testing.T) {
	api := newFakeBotAPI(t)
	defer api.Close()

	beta := NewTelegramClient(nil, testConfig(api.endpoint(), "token", false))
	if beta.chatID != -100123 {
		t.Errorf("expected beta chat, got %d", beta.chatID)
	}

	prod := NewTelegramClient(nil, testConfig(api.endpoint(), "token", true))
	if prod.chatID != -100999 {
		t.Errorf("expected prod chat, got %d", prod.chatID)
	}
	if !prod.Enabled() {
		t.Error("expected prod client enabled")
	}
}

func TestSendAlert_Success(t *testing.T) {
	api := newFakeBotAPI(t)
	defer api.Close()

	client := NewTelegramClient(nil, testConfig(api.endpoint(), "token", false))
	if !client.Enabled() {
		t.Fatal("expected client enabled")
	}

	client.SendAlert(sampleAlert())

	msgs := api.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0]["chat_id"] != "-100123" {
		t.Errorf("unexpected chat id: %s", msgs[0]["chat_id"])
	}
	if msgs[0]["parse_mode"] != "Markdown" {
		t.Errorf("unexpected parse mode: %s", msgs[0]["parse_mode"])
	}
	if !strings.Contains(msgs[0]["text"], "CRITICAL") {
		t.Errorf("expected level in text, got %s", msgs[0]["text"])
	}
}

func TestSendAlert_ChannelUsername(t *testing.T) {
	api := newFakeBotAPI(t)
	defer api.Close()

	cfg := testConfig(api.endpoint(), "token", false)
	cfg.Telegram.BetaChatID = "@liq_alerts"
	client := NewTelegramClient(nil, cfg)

	client.SendAlert(sampleAlert())

	msgs := api.messages()
	if len(msgs) != 1 || msgs[0]["chat_id"] != "@liq_alerts" {
		t.Fatalf("expected message to channel username, got %v", msgs)
	}
}

func TestSendAlert_APIErrorDoesNotPanic(t *testing.T) {
	api := newFakeBotAPI(t)
	defer api.Close()
	api.failSend = true

	client := NewTelegramClient(nil, testConfig(api.endpoint(), "token", false))
	client.SendAlert(sampleAlert())

	if len(api.messages()) != 1 {
		t.Error("expected the send to be attempted once")
	}
}

func TestBuildAlertMessage(t *testing.T) {
	msg := buildAlertMessage(sampleAlert())

	for _, want := range []string{
		"*🚨 CRITICAL: $4.75M BTC LONG*",
		"[0xabcd…cdef01](https://app.hyperliquid.xyz/explorer/address/",
		"*Position:* 🟢 LONG BTC",
		"*Leverage:* 10x cross",
		"*Liquidation:* $92000.0 (3.16% away)",
		"*Trigger:* $600.0K BTC @ $95000.0",
		"*Account Value:* $12.00M (2 open)",
		"*All-time PnL:* -$1.25M",
		"*Wallet Age:* 3 days 🆕",
		"2025-01-02 03:04:05 UTC",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestBuildAlertMessage_UnknownEnrichment(t *testing.T) {
	alert := sampleAlert()
	alert.Position.WalletAgeDays = nil
	alert.Position.AllTimePnl = nil
	alert.Position.AccountValue = nil
	alert.Position.Leverage = 0
	alert.TriggerTrade = nil

	msg := buildAlertMessage(alert)

	for _, absent := range []string{"Wallet Age", "All-time PnL", "Account Value", "Leverage", "Trigger"} {
		if strings.Contains(msg, absent) {
			t.Errorf("expected %q omitted when unknown:\n%s", absent, msg)
		}
	}
}

func TestEscapeMarkdown(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "hello"},
		{"k_PEPE", "k\\_PEPE"},
		{"*bold*", "\\*bold\\*"},
		{"[link]", "\\[link\\]"},
		{"`code`", "\\`code\\`"},
	}

	for _, tt := range tests {
		if got := escapeMarkdown(tt.input); got != tt.expected {
			t.Errorf("escapeMarkdown(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
