// Package notify delivers circulation events to the staff telegram channel.
// Delivery is fire-and-forget: failures are logged and never reach the
// transaction that produced the event.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/biblio-bot/internal/domain/lending"
)

var _ lending.Notifier = (*Telegram)(nil)

type Telegram struct {
	api       *tgbotapi.BotAPI
	log       *slog.Logger
	adminChat int64
}

func NewTelegram(api *tgbotapi.BotAPI, log *slog.Logger, adminChatID int64) *Telegram {
	return &Telegram{api: api, log: log, adminChat: adminChatID}
}

func (t *Telegram) send(text string) {
	msg := tgbotapi.NewMessage(t.adminChat, text)
	if _, err := t.api.Send(msg); err != nil {
		t.log.Error("notify send failed", "err", err)
	}
}

func (t *Telegram) LoanCreated(_ context.Context, loan lending.Loan, lastCopy bool) {
	text := fmt.Sprintf("📕 Loan #%d: item %d unit %d to patron %d, due %s",
		loan.ID, loan.ItemID, loan.UnitID, loan.PatronID, loan.DueAt.Format("2006-01-02"))
	if lastCopy {
		text += "\n⚠️ last copy gone, item out of stock"
	}
	t.send(text)
}

func (t *Telegram) LoanReturned(_ context.Context, loan lending.Loan, debtCents int64) {
	text := fmt.Sprintf("📗 Return of loan #%d: unit %d back in circulation", loan.ID, loan.UnitID)
	if debtCents > 0 {
		text += fmt.Sprintf(", debt %d.%02d", debtCents/100, debtCents%100)
	}
	t.send(text)
}

func (t *Telegram) HoldPlaced(_ context.Context, hold lending.Hold) {
	t.send(fmt.Sprintf("📙 Hold #%d: unit %d reserved for patron %d until %s",
		hold.ID, hold.UnitID, hold.PatronID, hold.ExpiresAt.Format("2006-01-02")))
}

func (t *Telegram) HoldCanceled(_ context.Context, hold lending.Hold) {
	t.send(fmt.Sprintf("📒 Hold #%d canceled, unit %d released", hold.ID, hold.UnitID))
}
