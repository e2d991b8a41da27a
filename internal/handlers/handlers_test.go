package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"euphoria-magic/internal/botstate"
	"euphoria-magic/internal/fal"
	"euphoria-magic/internal/gemini"
	"euphoria-magic/internal/generate"
	"euphoria-magic/internal/imageio"
	"euphoria-magic/internal/mediagroup"
	"euphoria-magic/internal/prompt"
	"euphoria-magic/internal/session"
	"euphoria-magic/internal/telegram"
	"euphoria-magic/internal/video"
)

const (
	chatID = int64(100)
	userID = int64(7)
)

type sentPhoto struct {
	ID       int
	DataURL  string
	Caption  string
	Keyboard *tgbotapi.InlineKeyboardMarkup
}

type fakeBot struct {
	mu       sync.Mutex
	nextID   int
	texts    []string
	photos   []sentPhoto
	answers  []string
	videos   []string
	failFile string
}

func (b *fakeBot) id() int {
	b.nextID++
	return 1000 + b.nextID
}

func (b *fakeBot) SendText(chatID int64, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.texts = append(b.texts, text)
	return nil
}

func (b *fakeBot) SendTyping(int64) {}

func (b *fakeBot) SendTextWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.texts = append(b.texts, text)
	return b.id(), nil
}

func (b *fakeBot) EditTextWithKeyboard(chatID int64, messageID int, text string, kb tgbotapi.InlineKeyboardMarkup) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.texts = append(b.texts, text)
	return nil
}

func (b *fakeBot) AnswerCallback(callbackID, text string, alert bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answers = append(b.answers, text)
	return nil
}

func (b *fakeBot) SendPhoto(chatID int64, dataURL, caption string, kb *tgbotapi.InlineKeyboardMarkup) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := sentPhoto{ID: b.id(), DataURL: dataURL, Caption: caption, Keyboard: kb}
	b.photos = append(b.photos, p)
	return p.ID, nil
}

func (b *fakeBot) SendVideoURL(chatID int64, url, caption string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.videos = append(b.videos, url)
	return nil
}

func (b *fakeBot) DownloadPhoto(ctx context.Context, fileID string) (imageio.Payload, error) {
	if fileID == b.failFile {
		return imageio.Payload{}, errors.New("telegram down")
	}
	return imageio.Payload{Data: fileID, MIMEType: "image/jpeg"}, nil
}

func (b *fakeBot) lastText() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.texts) == 0 {
		return ""
	}
	return b.texts[len(b.texts)-1]
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls []generate.Input
	err   error
}

func (g *fakeGenerator) Generate(ctx context.Context, in generate.Input) (generate.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, in)
	if g.err != nil {
		return generate.Result{}, g.err
	}
	return generate.Result{Images: []string{
		"data:image/png;base64,VkFSMQ==",
		"data:image/png;base64,VkFSMg==",
	}}, nil
}

type editorFunc func(ctx context.Context, req gemini.EditRequest) (gemini.EditResult, error)

func (f editorFunc) Edit(ctx context.Context, req gemini.EditRequest) (gemini.EditResult, error) {
	return f(ctx, req)
}

type fakeVideo struct {
	got video.Input
	err error
}

func (v *fakeVideo) Run(ctx context.Context, in video.Input) (video.Result, error) {
	v.got = in
	if v.err != nil {
		return video.Result{}, v.err
	}
	return video.Result{VideoURL: "https://cdn.example/v.mp4", Prompt: "slow pan"}, nil
}

type fixture struct {
	h     *Handler
	bot   *fakeBot
	gen   *fakeGenerator
	video *fakeVideo
	state *botstate.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		bot:   &fakeBot{},
		gen:   &fakeGenerator{},
		video: &fakeVideo{},
		state: botstate.NewStore(),
	}
	sessions := session.NewStore(session.Options{
		Editor: editorFunc(func(ctx context.Context, req gemini.EditRequest) (gemini.EditResult, error) {
			if strings.Contains(req.Message, "?") {
				return gemini.EditResult{Text: "It is a beach."}, nil
			}
			return gemini.EditResult{ImageURL: "data:image/png;base64,RURJVA=="}, nil
		}),
	})
	f.h = New(Options{
		Bot:       f.bot,
		Generator: f.gen,
		Sessions:  sessions,
		Video:     f.video,
		State:     f.state,
	})
	return f
}

func message(text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: userID},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.Fields(text)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return msg
}

func photo(fileID, caption string) *tgbotapi.Message {
	msg := message("")
	msg.Caption = caption
	msg.Photo = []tgbotapi.PhotoSize{{FileID: fileID + "-small"}, {FileID: fileID}}
	return msg
}

func callback(owner int64, msgID int, data string) telegram.Update {
	return telegram.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: owner},
		Message: &tgbotapi.Message{MessageID: msgID, Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}}
}

func (f *fixture) send(t *testing.T, msg *tgbotapi.Message) {
	t.Helper()
	require.NoError(t, f.h.HandleUpdate(context.Background(), telegram.Update{Message: msg}))
}

func (f *fixture) press(t *testing.T, owner int64, msgID int, data string) {
	t.Helper()
	require.NoError(t, f.h.HandleUpdate(context.Background(), callback(owner, msgID, data)))
}

func TestTwoPhotosGenerate(t *testing.T) {
	f := newFixture(t)

	f.send(t, photo("scene", ""))
	assert.Contains(t, f.bot.lastText(), "Scene saved")
	require.Empty(t, f.gen.calls)

	f.send(t, photo("person", "keep the hat"))
	require.Len(t, f.gen.calls, 1)
	in := f.gen.calls[0]
	assert.Equal(t, "scene", in.Reference.Payload.Data)
	assert.Equal(t, "person", in.Subject.Payload.Data)
	assert.Equal(t, "keep the hat", in.Params.CustomInstructions)
	assert.Equal(t, prompt.SubjectRoles, in.Roles)

	require.Len(t, f.bot.photos, 2)
	assert.Equal(t, "Variation 1", f.bot.photos[0].Caption)
	assert.Equal(t, "Variation 2", f.bot.photos[1].Caption)
	require.NotNil(t, f.bot.photos[0].Keyboard)

	st := f.state.Get(chatID, userID)
	assert.NotEmpty(t, st.SessionID)
	assert.Len(t, st.Variations, 2)
	assert.Equal(t, map[int]int{f.bot.photos[0].ID: 0, f.bot.photos[1].ID: 1}, st.Picks)
}

func TestGenerateNeedsBothPhotos(t *testing.T) {
	f := newFixture(t)

	f.send(t, message("/generate"))
	assert.Contains(t, f.bot.lastText(), "scene photo first")

	f.send(t, photo("scene", ""))
	f.send(t, message("/generate"))
	assert.Contains(t, f.bot.lastText(), "photo of the person")
	assert.Empty(t, f.gen.calls)
}

func TestGenerateFailure(t *testing.T) {
	f := newFixture(t)
	f.gen.err = errors.New("quota")

	f.send(t, photo("scene", ""))
	f.send(t, photo("person", ""))
	assert.Contains(t, f.bot.lastText(), "Generation failed")
	assert.Empty(t, f.bot.photos)
	assert.Empty(t, f.state.Get(chatID, userID).SessionID)
}

func TestDownloadFailure(t *testing.T) {
	f := newFixture(t)
	f.bot.failFile = "scene"

	f.send(t, photo("scene", ""))
	assert.Contains(t, f.bot.lastText(), "Could not download")
	assert.True(t, f.state.Get(chatID, userID).Reference.Empty())
}

func TestMediaGroupPair(t *testing.T) {
	f := newFixture(t)

	f.h.HandleMediaGroup(context.Background(), mediagroup.Group{
		ChatID:  chatID,
		UserID:  userID,
		Caption: "sunset light",
		FileIDs: []string{"scene", "person", "extra"},
	})
	require.Len(t, f.gen.calls, 1)
	assert.Equal(t, "scene", f.gen.calls[0].Reference.Payload.Data)
	assert.Equal(t, "person", f.gen.calls[0].Subject.Payload.Data)
	assert.Equal(t, "sunset light", f.gen.calls[0].Params.CustomInstructions)
}

func TestChatEditAndAddToCanvas(t *testing.T) {
	f := newFixture(t)
	f.send(t, photo("scene", ""))
	f.send(t, photo("person", ""))
	sessionID := f.state.Get(chatID, userID).SessionID

	f.send(t, message("what is this?"))
	assert.Equal(t, "It is a beach.", f.bot.lastText())

	f.send(t, message("add sunglasses"))
	require.Len(t, f.bot.photos, 3)
	proposal := f.bot.photos[2]
	assert.Equal(t, "data:image/png;base64,RURJVA==", proposal.DataURL)
	assert.Equal(t, "Here's your updated image:", proposal.Caption)

	f.press(t, userID, proposal.ID, cb(userID, actCanvas))
	assert.Equal(t, "Added to canvas ✅", f.bot.answers[len(f.bot.answers)-1])

	sess, err := f.h.sessions.Get(sessionID)
	require.NoError(t, err)
	assert.Equal(t, "RURJVA==", sess.CurrentImage().Data)
}

func TestAddToCanvasStaleMessage(t *testing.T) {
	f := newFixture(t)
	f.press(t, userID, 555, cb(userID, actCanvas))
	assert.Equal(t, []string{"This edit is no longer available."}, f.bot.answers)
}

func TestPickSwitchesSession(t *testing.T) {
	f := newFixture(t)
	f.send(t, photo("scene", ""))
	f.send(t, photo("person", ""))
	first := f.state.Get(chatID, userID).SessionID

	second := f.bot.photos[1]
	f.press(t, userID, second.ID, cb(userID, actPick))
	assert.Equal(t, "Editing this variation", f.bot.answers[0])

	st := f.state.Get(chatID, userID)
	require.NotEqual(t, first, st.SessionID)
	_, err := f.h.sessions.Get(first)
	assert.ErrorIs(t, err, session.ErrNotFound)

	sess, err := f.h.sessions.Get(st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "VkFSMg==", sess.CurrentImage().Data)
}

func TestCallbackOwnerCheck(t *testing.T) {
	f := newFixture(t)
	f.press(t, 9999, 1, cb(userID, actToggle, botstate.OptionPose))
	assert.Equal(t, []string{"This menu is not for you."}, f.bot.answers)
	assert.False(t, f.state.Get(chatID, userID).Params.CopyPose)
}

func TestOptionsToggleAndNote(t *testing.T) {
	f := newFixture(t)

	f.send(t, message("/options"))
	f.press(t, userID, 1, cb(userID, actToggle, botstate.OptionPose))
	assert.True(t, f.state.Get(chatID, userID).Params.CopyPose)

	f.press(t, userID, 1, cb(userID, actNote))
	assert.Equal(t, askNoteText, f.bot.lastText())

	f.send(t, message("make it rainy"))
	st := f.state.Get(chatID, userID)
	assert.Equal(t, "make it rainy", st.Params.CustomInstructions)
	assert.False(t, st.AwaitingNote)
	assert.Contains(t, f.bot.lastText(), "Note: make it rainy")

	f.send(t, message("/note   golden hour  "))
	assert.Equal(t, "golden hour", f.state.Get(chatID, userID).Params.CustomInstructions)
}

func TestTextWithoutSession(t *testing.T) {
	f := newFixture(t)
	f.send(t, message("make it brighter"))
	assert.Contains(t, f.bot.lastText(), "Generate an image first")
}

func TestVideo(t *testing.T) {
	f := newFixture(t)

	f.send(t, message("/video"))
	assert.Contains(t, f.bot.lastText(), "Generate an image first")

	f.send(t, photo("scene", ""))
	f.send(t, photo("person", ""))
	f.press(t, userID, f.bot.photos[1].ID, cb(userID, actVideo))

	assert.Equal(t, "VkFSMg==", f.video.got.Image.Payload.Data)
	assert.Equal(t, []string{"https://cdn.example/v.mp4"}, f.bot.videos)
}

func TestVideoValidationError(t *testing.T) {
	f := newFixture(t)
	f.video.err = &video.ValidationError{Errors: []string{"Duration must be between 1 and 10 seconds"}}

	f.send(t, photo("scene", ""))
	f.send(t, photo("person", ""))
	f.send(t, message("/video"))
	assert.Equal(t, "❌ Duration must be between 1 and 10 seconds", f.bot.lastText())
	assert.Empty(t, f.bot.videos)
}

func TestVideoWithoutFalKey(t *testing.T) {
	f := newFixture(t)
	f.video.err = fmt.Errorf("generate video: %w", fal.ErrNoAPIKey)

	f.send(t, photo("scene", ""))
	f.send(t, photo("person", ""))
	f.send(t, message("/video"))
	assert.Equal(t, "🎬 Video is not configured on this bot.", f.bot.lastText())
	assert.Empty(t, f.bot.videos)
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	f.send(t, photo("scene", ""))
	f.send(t, photo("person", ""))
	sessionID := f.state.Get(chatID, userID).SessionID

	f.send(t, message("/reset"))
	st := f.state.Get(chatID, userID)
	assert.False(t, st.Ready())
	assert.Empty(t, st.SessionID)
	_, err := f.h.sessions.Get(sessionID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestParseCallback(t *testing.T) {
	owner, action, args, ok := parseCallback(cb(42, actToggle, "pose"))
	require.True(t, ok)
	assert.Equal(t, int64(42), owner)
	assert.Equal(t, actToggle, action)
	assert.Equal(t, []string{"pose"}, args)

	_, _, _, ok = parseCallback("pv:1:x")
	assert.False(t, ok)
	_, _, _, ok = parseCallback("em:abc:x")
	assert.False(t, ok)
}
