package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/FACorreiaa/subpay-bot/internal/domain/billing"
	"github.com/FACorreiaa/subpay-bot/internal/domain/catalog"
	"github.com/FACorreiaa/subpay-bot/internal/domain/entitlement"
	"github.com/FACorreiaa/subpay-bot/internal/types"
)

// BalanceProvider exposes the wallet balance for the admin panel.
type BalanceProvider interface {
	AccountInfo(ctx context.Context) (balance float64, currency string, err error)
}

// Bot is the presentation layer: command routing, menus and admin
// toggles. All subscription semantics live in the domain packages; the
// bot only calls BuildPaymentRequest, Spawn and the entitlement reads.
type Bot struct {
	logger       *slog.Logger
	api          *tgbotapi.BotAPI
	catalog      *catalog.Catalog
	builder      *billing.Builder
	reconciler   *billing.Reconciler
	entitlements entitlement.Service
	gateway      types.PaymentGateway
	balance      BalanceProvider

	admins map[int64]struct{}

	// Per-admin test-mode toggles. Presentation-owned state; the core
	// only ever sees it as a boolean per call.
	mu        sync.Mutex
	testModes map[int64]bool
}

func NewBot(
	api *tgbotapi.BotAPI,
	cat *catalog.Catalog,
	builder *billing.Builder,
	reconciler *billing.Reconciler,
	entitlements entitlement.Service,
	gateway types.PaymentGateway,
	balance BalanceProvider,
	adminIDs []int64,
	logger *slog.Logger,
) *Bot {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	return &Bot{
		logger:       logger,
		api:          api,
		catalog:      cat,
		builder:      builder,
		reconciler:   reconciler,
		entitlements: entitlements,
		gateway:      gateway,
		balance:      balance,
		admins:       admins,
		testModes:    make(map[int64]bool),
	}
}

// Run consumes updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	b.logger.InfoContext(ctx, "telegram bot started", slog.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	// From is nil for channel posts and anonymous admins; commands need
	// a sender identity.
	case update.Message != nil && update.Message.From != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.send(msg.Chat.ID, "👋 Welcome!\nChoose an action:", mainKeyboard(b.isAdmin(msg.From.ID)))
	case "status":
		b.handleStatus(ctx, msg)
	case "balance":
		if !b.isAdmin(msg.From.ID) {
			b.send(msg.Chat.ID, "⛔ This command is admin-only.")
			return
		}
		b.sendBalance(ctx, msg.Chat.ID)
	}
}

func (b *Bot) handleStatus(ctx context.Context, msg *tgbotapi.Message) {
	ent, err := b.entitlements.Get(ctx, msg.From.ID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			b.send(msg.Chat.ID, "You have no subscription yet. Use /start to pick a tier.")
			return
		}
		b.logger.ErrorContext(ctx, "failed to read entitlement", slog.Any("error", err))
		b.send(msg.Chat.ID, "Could not read your subscription status. Please try again later.")
		return
	}

	if !ent.ActiveAt(time.Now()) {
		b.send(msg.Chat.ID, "Your subscription has expired. Use /start to renew.")
		return
	}
	label := ""
	if ent.TierLabel != nil {
		label = *ent.TierLabel
	}
	b.send(msg.Chat.ID, fmt.Sprintf("Status: %s\nActive until: %s",
		label, ent.WindowEnd.Format("02.01.2006 15:04")))
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	data := cb.Data
	chatID := cb.Message.Chat.ID

	switch {
	case data == "subscribe":
		b.answer(cb, "")
		b.send(chatID,
			"Pick the subscription tier that suits you:\n\n"+
				"🔹 Basic - core features\n"+
				"🔹 Standard - extended features\n"+
				"🔹 Premium - full access",
			subscriptionKeyboard(b.catalog.List()))

	case data == "cancel_payment":
		b.answer(cb, "")
		b.send(chatID, "Payment cancelled. Send /start to begin again.")

	case data == "cancel_extend":
		b.answer(cb, "")
		b.edit(chatID, cb.Message.MessageID, "❌ Subscription extension cancelled.")

	case data == "back_to_main":
		b.answer(cb, "")
		b.edit(chatID, cb.Message.MessageID, "👋 Main menu\nChoose an action:", mainKeyboard(b.isAdmin(cb.From.ID)))

	case data == "admin_panel", data == "admin_test_mode", data == "admin_balance":
		b.handleAdminCallback(ctx, cb)

	case strings.HasPrefix(data, "check_payment_"):
		b.handleManualCheck(ctx, cb, strings.TrimPrefix(data, "check_payment_"))

	case strings.HasPrefix(data, "extend_"):
		b.answer(cb, "")
		b.handleExtendChoice(ctx, cb, strings.TrimPrefix(data, "extend_"))

	case strings.HasPrefix(data, "sub_"):
		b.answer(cb, "")
		b.handleTierChoice(ctx, cb, data)

	default:
		b.answer(cb, "")
	}
}

// handleTierChoice is the fresh-purchase entry point. An active window
// is intercepted with a renew prompt before any payment request exists.
func (b *Bot) handleTierChoice(ctx context.Context, cb *tgbotapi.CallbackQuery, tierID string) {
	userID := cb.From.ID
	chatID := cb.Message.Chat.ID

	tier, err := b.catalog.Resolve(tierID)
	if err != nil {
		b.alert(cb, "❌ Unknown subscription tier")
		return
	}

	// The renew prompt wins over everything, test mode included: an
	// active window is never silently overwritten.
	if ent, err := b.entitlements.Get(ctx, userID); err == nil && ent.ActiveAt(time.Now()) {
		b.send(chatID, fmt.Sprintf(
			"You already have an active subscription until: %s\nExtend it?",
			ent.WindowEnd.Format("02.01.2006 15:04")),
			extendKeyboard(tierID))
		return
	}

	if b.isAdmin(userID) && b.testMode(userID) {
		b.simulatePayment(ctx, cb, tier)
		return
	}

	b.startPayment(ctx, cb, tier, false)
}

func (b *Bot) handleExtendChoice(ctx context.Context, cb *tgbotapi.CallbackQuery, tierID string) {
	tier, err := b.catalog.Resolve(tierID)
	if err != nil {
		b.alert(cb, "❌ Unknown subscription tier")
		return
	}
	b.startPayment(ctx, cb, tier, true)
}

// startPayment builds the payment descriptor, shows the pay button and
// spawns the fire-and-forget reconciliation task for the token.
func (b *Bot) startPayment(ctx context.Context, cb *tgbotapi.CallbackQuery, tier types.Tier, isExtension bool) {
	userID := cb.From.ID
	chatID := cb.Message.Chat.ID

	req, err := b.builder.BuildPaymentRequest(ctx, tier.ID, userID, isExtension)
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to build payment request",
			slog.String("tier", tier.ID), slog.Any("error", err))
		b.send(chatID, "Could not create the payment form. Please try again later.")
		return
	}

	verb := "pay for"
	if isExtension {
		verb = "extend"
	}
	b.send(chatID, fmt.Sprintf(
		"💳 To %s %s (%d₽), press 'Pay' below.\n\n"+
			"⏳ The bot checks the payment status automatically.\n"+
			"Payment window: %s",
		verb, tier.DisplayName, tier.Price, b.reconciler.MaxWait()),
		paymentKeyboard(req.RedirectURL, req.CorrelationToken))

	b.reconciler.Spawn(ctx, req.CorrelationToken, chatID, isExtension)
}

// simulatePayment grants immediately through the same service path the
// reconciler uses, skipping the gateway entirely.
func (b *Bot) simulatePayment(ctx context.Context, cb *tgbotapi.CallbackQuery, tier types.Tier) {
	chatID := cb.Message.Chat.ID
	name := cb.From.UserName
	if name == "" {
		name = "Unknown"
	}

	end, err := b.entitlements.Grant(ctx, cb.From.ID, name, tier)
	if err != nil {
		b.logger.ErrorContext(ctx, "simulated grant failed", slog.Any("error", err))
		b.send(chatID, "Simulated payment failed. Check the logs.")
		return
	}

	b.send(chatID, fmt.Sprintf(
		"🧪 Test mode\nTier: %s\nAmount: %d₽\n\n✅ Payment simulated.\n"+
			"Status granted: %s\nActive until: %s",
		tier.DisplayName, tier.Price, tier.Label, end.Format("02.01.2006 15:04")))
}

// handleManualCheck serves the "I paid" button with a one-shot history
// query over a wider window than the background poller uses.
func (b *Bot) handleManualCheck(ctx context.Context, cb *tgbotapi.CallbackQuery, token string) {
	ops, err := b.gateway.OperationHistory(ctx, token, time.Now().Add(-30*time.Minute))
	if err != nil {
		b.logger.ErrorContext(ctx, "manual payment check failed", slog.Any("error", err))
		b.alert(cb, "Could not check the payment. Please try again later.")
		return
	}

	for _, op := range ops {
		if op.Status == types.OperationStatusSuccess && op.Label == token {
			b.answer(cb, "")
			b.edit(cb.Message.Chat.ID, cb.Message.MessageID,
				"✅ Payment received! Your subscription is being activated.")
			return
		}
	}
	b.alert(cb, "❌ Payment not found yet. If you already paid, wait a moment and try again.")
}

func (b *Bot) handleAdminCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if !b.isAdmin(cb.From.ID) {
		b.alert(cb, "⛔ You do not have access to the admin panel.")
		return
	}
	b.answer(cb, "")
	chatID := cb.Message.Chat.ID

	switch cb.Data {
	case "admin_panel":
		b.edit(chatID, cb.Message.MessageID,
			"👨‍💼 Admin panel\nChoose an action:", adminKeyboard(b.testMode(cb.From.ID)))

	case "admin_test_mode":
		b.mu.Lock()
		b.testModes[cb.From.ID] = !b.testModes[cb.From.ID]
		mode := "live"
		if b.testModes[cb.From.ID] {
			mode = "test"
		}
		b.mu.Unlock()
		b.edit(chatID, cb.Message.MessageID,
			fmt.Sprintf("👨‍💼 Admin panel\nMode: %s\nChoose an action:", mode),
			adminKeyboard(b.testMode(cb.From.ID)))

	case "admin_balance":
		b.sendBalance(ctx, chatID)
	}
}

func (b *Bot) sendBalance(ctx context.Context, chatID int64) {
	balance, currency, err := b.balance.AccountInfo(ctx)
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to fetch wallet balance", slog.Any("error", err))
		b.send(chatID, "❌ Could not fetch the wallet balance.")
		return
	}
	b.send(chatID, fmt.Sprintf("💰 Wallet balance: %.2f %s", balance, currency))
}

func (b *Bot) isAdmin(userID int64) bool {
	_, ok := b.admins[userID]
	return ok
}

func (b *Bot) testMode(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.testModes[userID]
}

func (b *Bot) send(chatID int64, text string, keyboard ...tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	if len(keyboard) > 0 {
		msg.ReplyMarkup = keyboard[0]
	}
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("failed to send message", slog.Int64("chatID", chatID), slog.Any("error", err))
	}
}

func (b *Bot) edit(chatID int64, messageID int, text string, keyboard ...tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if len(keyboard) > 0 {
		msg.ReplyMarkup = &keyboard[0]
	}
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("failed to edit message", slog.Int64("chatID", chatID), slog.Any("error", err))
	}
}

func (b *Bot) answer(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		b.logger.Error("failed to answer callback", slog.Any("error", err))
	}
}

func (b *Bot) alert(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallbackWithAlert(cb.ID, text)); err != nil {
		b.logger.Error("failed to answer callback", slog.Any("error", err))
	}
}
