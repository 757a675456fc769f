package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/FACorreiaa/subpay-bot/internal/types"
)

func mainKeyboard(isAdmin bool) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📱 Subscriptions", "subscribe"),
		),
	}
	if isAdmin {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("👨‍💼 Admin panel", "admin_panel"),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func subscriptionKeyboard(tiers []types.Tier) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(tiers)+1)
	for _, t := range tiers {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("🔹 %s - %d₽", t.DisplayName, t.Price), t.ID),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("❌ Cancel", "cancel_payment"),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func paymentKeyboard(paymentURL, token string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("💳 Pay", paymentURL),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ I paid", "check_payment_"+token),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❌ Cancel", "cancel_payment"),
		),
	)
}

func extendKeyboard(tierID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Extend", "extend_"+tierID),
			tgbotapi.NewInlineKeyboardButtonData("❌ Cancel", "cancel_extend"),
		),
	)
}

func adminKeyboard(testMode bool) tgbotapi.InlineKeyboardMarkup {
	modeLabel := "🔄 Switch to test mode"
	if testMode {
		modeLabel = "🔄 Switch to live mode"
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(modeLabel, "admin_test_mode"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💰 Balance", "admin_balance"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔙 Back to main menu", "back_to_main"),
		),
	)
}
