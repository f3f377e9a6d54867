package handlers

import (
	"github.com/go-telegram/bot/models"

	"github.com/edgard/aulabot/internal/session"
)

// keyboard converts the buttons of a prompt. It returns nil for prompts
// without buttons.
func keyboard(p session.Prompt) *models.InlineKeyboardMarkup {
	if len(p.Keyboard) == 0 {
		return nil
	}
	rows := make([][]models.InlineKeyboardButton, 0, len(p.Keyboard))
	for _, row := range p.Keyboard {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, models.InlineKeyboardButton{Text: b.Text, CallbackData: b.Data})
		}
		rows = append(rows, buttons)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}
