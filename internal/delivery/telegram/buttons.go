// internal/delivery/telegram/buttons.go
package telegram

import (
	"thb-mmk-exchange-bot/internal/core/domain/conversation"
)

// Markup переводит кнопки диалога в разметку Bot API
func Markup(rows [][]conversation.Button) *InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}

	keyboard := make([][]InlineKeyboardButton, 0, len(rows))
	for _, r := range rows {
		buttons := make([]InlineKeyboardButton, 0, len(r))
		for _, b := range r {
			buttons = append(buttons, InlineKeyboardButton{
				Text:         b.Text,
				CallbackData: b.Data,
			})
		}
		keyboard = append(keyboard, buttons)
	}
	return &InlineKeyboardMarkup{InlineKeyboard: keyboard}
}
