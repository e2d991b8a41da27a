package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"euphoria-magic/internal/botstate"
	"euphoria-magic/internal/fal"
	"euphoria-magic/internal/generate"
	"euphoria-magic/internal/imageio"
	"euphoria-magic/internal/prompt"
	"euphoria-magic/internal/session"
	"euphoria-magic/internal/video"
)

var errStale = errors.New("this image is no longer available")

func (h *Handler) generate(ctx context.Context, chatID, userID int64) error {
	st := h.state.Get(chatID, userID)
	switch {
	case st.Reference.Empty():
		return h.bot.SendText(chatID, "🏞 Send the scene photo first.")
	case st.Subject.Empty():
		return h.bot.SendText(chatID, "🧍 Now send a photo of the person.")
	}
	if h.generator == nil || h.sessions == nil {
		return h.bot.SendText(chatID, "❌ Generation is not available right now.")
	}

	h.bot.SendTyping(chatID)
	_ = h.bot.SendText(chatID, "🎨 Generating two variations, please wait…")

	result, err := h.generator.Generate(ctx, generate.Input{
		Reference: imageio.Source{Payload: st.Reference},
		Subject:   imageio.Source{Payload: st.Subject},
		Params:    st.Params,
		Roles:     prompt.SubjectRoles,
	})
	if err != nil {
		h.logger.Error("generation failed", "chat", chatID, "err", err)
		return h.bot.SendText(chatID, "❌ Generation failed. Try again with /generate.")
	}

	sess, err := h.newSession(result.Images[0], st.Params)
	if err != nil {
		return err
	}
	if st.SessionID != "" {
		h.sessions.Delete(st.SessionID)
	}
	h.state.Update(chatID, userID, func(st *botstate.ChatState) {
		st.StartGeneration(result.Images, sess.ID)
	})

	kb := pickKeyboard(userID)
	for i, img := range result.Images {
		msgID, err := h.bot.SendPhoto(chatID, img, fmt.Sprintf("Variation %d", i+1), &kb)
		if err != nil {
			return err
		}
		h.state.Update(chatID, userID, func(st *botstate.ChatState) { st.TrackPick(msgID, i) })
	}
	return h.bot.SendText(chatID, "✏️ Write what to change and I will edit variation 1, or tap \"Edit this one\" on the other.")
}

func (h *Handler) newSession(dataURL string, params prompt.Params) (*session.Session, error) {
	mimeType, data, err := imageio.ParseDataURL(dataURL)
	if err != nil {
		return nil, fmt.Errorf("generated image: %w", err)
	}
	return h.sessions.Create(imageio.Payload{Data: data, MIMEType: mimeType}, params)
}

func (h *Handler) chatEdit(ctx context.Context, chatID, userID int64, sessionID, text string) error {
	if h.sessions == nil {
		return h.bot.SendText(chatID, "❌ Editing is not available right now.")
	}
	sess, err := h.sessions.Get(sessionID)
	if err != nil {
		return h.bot.SendText(chatID, "⌛ This edit session has expired. Run /generate again.")
	}

	h.bot.SendTyping(chatID)
	reply, err := sess.Send(ctx, text)
	switch {
	case errors.Is(err, session.ErrBusy):
		return h.bot.SendText(chatID, "⏳ Still working on your previous edit.")
	case errors.Is(err, session.ErrEmptyMessage):
		return nil
	case err != nil:
		h.logger.Error("chat edit failed", "chat", chatID, "err", err)
		return h.bot.SendText(chatID, reply.Content)
	}

	if !reply.HasAddToCanvas {
		return h.bot.SendText(chatID, reply.Content)
	}
	kb := canvasKeyboard(userID)
	msgID, err := h.bot.SendPhoto(chatID, reply.ImageURL, reply.Content, &kb)
	if err != nil {
		return err
	}
	h.state.Update(chatID, userID, func(st *botstate.ChatState) { st.TrackProposal(msgID, reply.ID) })
	return nil
}

// switchTo starts a fresh session over the variation shown in msgID.
func (h *Handler) switchTo(chatID, userID int64, msgID int) error {
	if h.sessions == nil {
		return errStale
	}
	st := h.state.Get(chatID, userID)
	idx, ok := st.Picks[msgID]
	if !ok || idx >= len(st.Variations) {
		return errStale
	}

	sess, err := h.newSession(st.Variations[idx], st.Params)
	if err != nil {
		return err
	}
	h.state.Update(chatID, userID, func(st *botstate.ChatState) { st.SessionID = sess.ID })
	if st.SessionID != "" && st.SessionID != sess.ID {
		h.sessions.Delete(st.SessionID)
	}
	return nil
}

func (h *Handler) pick(callbackID string, chatID, userID int64, msgID int) error {
	if err := h.switchTo(chatID, userID, msgID); err != nil {
		_ = h.bot.AnswerCallback(callbackID, capitalize(err.Error()), true)
		return nil
	}
	_ = h.bot.AnswerCallback(callbackID, "Editing this variation", false)
	return h.bot.SendText(chatID, "✏️ Write what to change.")
}

func (h *Handler) pickQuietly(chatID, userID int64, msgID int) {
	if err := h.switchTo(chatID, userID, msgID); err != nil && !errors.Is(err, errStale) {
		h.logger.Warn("switch variation failed", "chat", chatID, "err", err)
	}
}

func (h *Handler) addToCanvas(callbackID string, chatID, userID int64, msgID int) error {
	st := h.state.Get(chatID, userID)
	proposal, ok := st.Proposals[msgID]
	if !ok || h.sessions == nil {
		_ = h.bot.AnswerCallback(callbackID, "This edit is no longer available.", true)
		return nil
	}
	sess, err := h.sessions.Get(st.SessionID)
	if err != nil {
		_ = h.bot.AnswerCallback(callbackID, "This edit is no longer available.", true)
		return nil
	}
	if _, err := sess.Commit(proposal); err != nil {
		h.logger.Warn("commit failed", "chat", chatID, "err", err)
		_ = h.bot.AnswerCallback(callbackID, "Could not add this image.", true)
		return nil
	}
	_ = h.bot.AnswerCallback(callbackID, "Added to canvas ✅", false)
	return h.bot.SendText(chatID, "✅ Added to canvas. Next edits start from this image.")
}

func (h *Handler) runVideo(ctx context.Context, chatID, userID int64) error {
	if h.video == nil {
		return h.bot.SendText(chatID, "🎬 Video is not configured on this bot.")
	}
	st := h.state.Get(chatID, userID)
	if st.SessionID == "" || h.sessions == nil {
		return h.bot.SendText(chatID, "📷 Generate an image first.")
	}
	sess, err := h.sessions.Get(st.SessionID)
	if err != nil {
		return h.bot.SendText(chatID, "⌛ This edit session has expired. Run /generate again.")
	}

	_ = h.bot.SendText(chatID, "🎬 Creating a video, this can take a minute or two…")
	res, err := h.video.Run(ctx, video.Input{Image: imageio.Source{Payload: sess.CurrentImage()}})
	if err != nil {
		h.logger.Error("video failed", "chat", chatID, "err", err)
		var verr *video.ValidationError
		if errors.As(err, &verr) {
			return h.bot.SendText(chatID, "❌ "+strings.Join(verr.Errors, "\n"))
		}
		if errors.Is(err, fal.ErrNoAPIKey) {
			return h.bot.SendText(chatID, "🎬 Video is not configured on this bot.")
		}
		return h.bot.SendText(chatID, "❌ Video generation failed. Try /video again.")
	}
	return h.bot.SendVideoURL(chatID, res.VideoURL, res.Prompt)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
