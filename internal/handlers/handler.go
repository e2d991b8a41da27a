package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"euphoria-magic/internal/botstate"
	"euphoria-magic/internal/generate"
	"euphoria-magic/internal/imageio"
	"euphoria-magic/internal/mediagroup"
	"euphoria-magic/internal/session"
	"euphoria-magic/internal/telegram"
	"euphoria-magic/internal/video"
)

// Bot is the subset of the Telegram client the handler drives.
type Bot interface {
	SendText(chatID int64, text string) error
	SendTyping(chatID int64)
	SendTextWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) (int, error)
	EditTextWithKeyboard(chatID int64, messageID int, text string, kb tgbotapi.InlineKeyboardMarkup) error
	AnswerCallback(callbackID, text string, alert bool) error
	SendPhoto(chatID int64, dataURL, caption string, kb *tgbotapi.InlineKeyboardMarkup) (int, error)
	SendVideoURL(chatID int64, url, caption string) error
	DownloadPhoto(ctx context.Context, fileID string) (imageio.Payload, error)
}

type Generator interface {
	Generate(ctx context.Context, in generate.Input) (generate.Result, error)
}

type VideoRunner interface {
	Run(ctx context.Context, in video.Input) (video.Result, error)
}

type Options struct {
	Bot       Bot
	Generator Generator
	Sessions  *session.Store
	Video     VideoRunner
	State     *botstate.Store
	Logger    *slog.Logger
}

type Handler struct {
	bot        Bot
	generator  Generator
	sessions   *session.Store
	video      VideoRunner
	state      *botstate.Store
	logger     *slog.Logger
	aggregator *mediagroup.Aggregator
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	state := opts.State
	if state == nil {
		state = botstate.NewStore()
	}

	return &Handler{
		bot:       opts.Bot,
		generator: opts.Generator,
		sessions:  opts.Sessions,
		video:     opts.Video,
		state:     state,
		logger:    logger,
	}
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(ctx, update.CallbackQuery)
	}
	if update.Message == nil || update.Message.From == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID
	userID := msg.From.ID

	if msg.IsCommand() {
		return h.handleCommand(ctx, chatID, userID, msg)
	}

	if len(msg.Photo) > 0 {
		return h.handlePhoto(ctx, chatID, userID, msg)
	}

	if msg.Text != "" {
		return h.handleText(ctx, chatID, userID, msg.Text)
	}

	return nil
}

// HandleMediaGroup treats the first two photos of an album as scene and
// subject and generates right away.
func (h *Handler) HandleMediaGroup(ctx context.Context, group mediagroup.Group) {
	var err error
	if len(group.FileIDs) < 2 {
		err = h.addPhotos(ctx, group.ChatID, group.UserID, group.Caption, group.FileIDs)
	} else {
		err = h.setPair(ctx, group.ChatID, group.UserID, group.Caption, group.FileIDs[:2])
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Error("media group processing failed", "err", err)
	}
}

func (h *Handler) handleCommand(ctx context.Context, chatID, userID int64, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start", "help":
		return h.bot.SendText(chatID, helpText)
	case "reset":
		st := h.state.Get(chatID, userID)
		if st.SessionID != "" && h.sessions != nil {
			h.sessions.Delete(st.SessionID)
		}
		h.state.Reset(chatID, userID)
		return h.bot.SendText(chatID, "✅ Cleared. Send a scene photo to start again.")
	case "options":
		return h.sendOptions(chatID, userID)
	case "note":
		note := strings.TrimSpace(msg.CommandArguments())
		if note == "" {
			h.state.Update(chatID, userID, func(st *botstate.ChatState) { st.AwaitingNote = true })
			return h.bot.SendText(chatID, askNoteText)
		}
		h.state.Update(chatID, userID, func(st *botstate.ChatState) { st.SetNote(note) })
		return h.sendOptions(chatID, userID)
	case "cancel":
		h.state.Update(chatID, userID, func(st *botstate.ChatState) { st.AwaitingNote = false })
		return h.bot.SendText(chatID, "OK.")
	case "generate":
		return h.generate(ctx, chatID, userID)
	case "video":
		return h.runVideo(ctx, chatID, userID)
	default:
		return h.bot.SendText(chatID, "❌ Unknown command. Use /help.")
	}
}

func (h *Handler) handleText(ctx context.Context, chatID, userID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	st := h.state.Get(chatID, userID)
	if st.AwaitingNote {
		h.state.Update(chatID, userID, func(st *botstate.ChatState) { st.SetNote(text) })
		return h.sendOptions(chatID, userID)
	}
	if st.SessionID == "" {
		return h.bot.SendText(chatID, "📷 Generate an image first: send a scene photo, then a photo of the person.")
	}
	return h.chatEdit(ctx, chatID, userID, st.SessionID, text)
}

func (h *Handler) handlePhoto(ctx context.Context, chatID, userID int64, msg *tgbotapi.Message) error {
	photo := msg.Photo[len(msg.Photo)-1]

	if msg.MediaGroupID != "" && h.aggregator != nil {
		h.aggregator.Add(mediagroup.Item{
			ChatID:       chatID,
			UserID:       userID,
			MessageID:    msg.MessageID,
			MediaGroupID: msg.MediaGroupID,
			Caption:      msg.Caption,
			FileID:       photo.FileID,
		})
		return nil
	}

	return h.addPhotos(ctx, chatID, userID, msg.Caption, []string{photo.FileID})
}

func (h *Handler) download(ctx context.Context, fileIDs []string) ([]imageio.Payload, error) {
	out := make([]imageio.Payload, len(fileIDs))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, fileID := range fileIDs {
		eg.Go(func() error {
			p, err := h.bot.DownloadPhoto(egCtx, fileID)
			if err != nil {
				return err
			}
			out[i] = p
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// addPhotos fills the image slots one photo at a time.
func (h *Handler) addPhotos(ctx context.Context, chatID, userID int64, caption string, fileIDs []string) error {
	photos, err := h.download(ctx, fileIDs)
	if err != nil {
		h.logger.Error("photo download failed", "err", err)
		return h.bot.SendText(chatID, "❌ Could not download the photo. Please send it again.")
	}

	var slot botstate.Slot
	st := h.state.Update(chatID, userID, func(st *botstate.ChatState) {
		for _, p := range photos {
			slot = st.AddPhoto(p)
		}
		if strings.TrimSpace(caption) != "" {
			st.SetNote(caption)
		}
	})

	if !st.Ready() {
		if slot == botstate.SlotReference {
			return h.bot.SendText(chatID, "🏞 Scene saved. Now send a photo of the person.")
		}
		return nil
	}
	_ = h.bot.SendText(chatID, "🧍 Subject saved.")
	return h.generate(ctx, chatID, userID)
}

func (h *Handler) setPair(ctx context.Context, chatID, userID int64, caption string, fileIDs []string) error {
	photos, err := h.download(ctx, fileIDs)
	if err != nil {
		h.logger.Error("album download failed", "err", err)
		return h.bot.SendText(chatID, "❌ Could not download the photos. Please send them again.")
	}

	h.state.Update(chatID, userID, func(st *botstate.ChatState) {
		st.SetPair(photos[0], photos[1])
		if strings.TrimSpace(caption) != "" {
			st.SetNote(caption)
		}
	})
	return h.generate(ctx, chatID, userID)
}

const (
	helpText = "✨ Euphoria Magic\n\n" +
		"Send two photos: first the scene you like, then the person to put in it. " +
		"An album of two photos works too.\n\n" +
		"After generating, write what to change and I will edit the image. " +
		"Tap \"Add to Canvas\" to keep an edit.\n\n" +
		"Commands:\n" +
		"/options - preservation toggles\n" +
		"/note <text> - extra instructions\n" +
		"/generate - generate again\n" +
		"/video - animate the current image\n" +
		"/reset - start over"
	askNoteText = "📝 Send the extra instructions (cancel: /cancel)."
)
