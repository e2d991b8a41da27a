package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"euphoria-magic/internal/botstate"
)

const callbackPrefix = "em"

// Callback actions.
const (
	actToggle   = "opt"
	actNote     = "note"
	actGenerate = "gen"
	actPick     = "pick"
	actCanvas   = "canvas"
	actVideo    = "video"
)

var optionLabels = map[string]string{
	botstate.OptionClothing:    "Preserve clothing",
	botstate.OptionAccessories: "Preserve accessories",
	botstate.OptionExpression:  "Preserve expression",
	botstate.OptionPose:        "Copy pose",
}

func cb(ownerID int64, parts ...string) string {
	return fmt.Sprintf("%s:%d:%s", callbackPrefix, ownerID, strings.Join(parts, ":"))
}

func parseCallback(data string) (ownerID int64, action string, args []string, ok bool) {
	parts := strings.Split(strings.TrimSpace(data), ":")
	if len(parts) < 3 || parts[0] != callbackPrefix {
		return 0, "", nil, false
	}
	ownerID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, "", nil, false
	}
	return ownerID, parts[2], parts[3:], true
}

func check(v bool) string {
	if v {
		return "✅"
	}
	return "⬜"
}

func optionsText(st botstate.ChatState) string {
	var b strings.Builder
	b.WriteString("⚙️ Options\n\n")
	fmt.Fprintf(&b, "Scene photo: %s\n", check(!st.Reference.Empty()))
	fmt.Fprintf(&b, "Person photo: %s\n", check(!st.Subject.Empty()))
	if note := st.Params.CustomInstructions; note != "" {
		fmt.Fprintf(&b, "Note: %s\n", note)
	}
	return b.String()
}

func optionsKeyboard(ownerID int64, st botstate.ChatState) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(botstate.Options)+1)
	for _, opt := range botstate.Options {
		label := check(st.Enabled(opt)) + " " + optionLabels[opt]
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, cb(ownerID, actToggle, opt)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("📝 Note", cb(ownerID, actNote)),
		tgbotapi.NewInlineKeyboardButtonData("🎨 Generate", cb(ownerID, actGenerate)),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func pickKeyboard(ownerID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✏️ Edit this one", cb(ownerID, actPick)),
		tgbotapi.NewInlineKeyboardButtonData("🎬 Video", cb(ownerID, actVideo)),
	))
}

func canvasKeyboard(ownerID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("➕ Add to Canvas", cb(ownerID, actCanvas)),
	))
}

func (h *Handler) sendOptions(chatID, userID int64) error {
	st := h.state.Get(chatID, userID)
	msgID, err := h.bot.SendTextWithKeyboard(chatID, optionsText(st), optionsKeyboard(userID, st))
	if err != nil {
		return err
	}
	h.state.Update(chatID, userID, func(st *botstate.ChatState) { st.MenuMessageID = msgID })
	return nil
}

func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if q == nil || q.Message == nil || q.From == nil {
		return nil
	}
	ownerID, action, args, ok := parseCallback(q.Data)
	if !ok {
		return nil
	}
	if ownerID != q.From.ID {
		_ = h.bot.AnswerCallback(q.ID, "This menu is not for you.", true)
		return nil
	}

	chatID := q.Message.Chat.ID
	msgID := q.Message.MessageID

	switch action {
	case actToggle:
		if len(args) < 1 {
			return nil
		}
		st := h.state.Update(chatID, ownerID, func(st *botstate.ChatState) {
			st.Toggle(args[0])
			st.MenuMessageID = msgID
		})
		_ = h.bot.AnswerCallback(q.ID, "", false)
		return h.bot.EditTextWithKeyboard(chatID, msgID, optionsText(st), optionsKeyboard(ownerID, st))
	case actNote:
		h.state.Update(chatID, ownerID, func(st *botstate.ChatState) { st.AwaitingNote = true })
		_ = h.bot.AnswerCallback(q.ID, "", false)
		return h.bot.SendText(chatID, askNoteText)
	case actGenerate:
		_ = h.bot.AnswerCallback(q.ID, "Generating…", false)
		return h.generate(ctx, chatID, ownerID)
	case actPick:
		return h.pick(q.ID, chatID, ownerID, msgID)
	case actCanvas:
		return h.addToCanvas(q.ID, chatID, ownerID, msgID)
	case actVideo:
		_ = h.bot.AnswerCallback(q.ID, "Creating video…", false)
		h.pickQuietly(chatID, ownerID, msgID)
		return h.runVideo(ctx, chatID, ownerID)
	}
	return nil
}
