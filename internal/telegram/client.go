package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/celestix/gotgproto"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"github.com/blockedby/videorelay/internal/logger"
)

// Client wraps gotgproto and provides high-level, rate-limited message
// operations. All rpc errors are translated to the typed error kinds in
// errors.go before they reach callers.
type Client struct {
	manager     *Manager
	rateLimiter *RateLimiter
	log         *logger.Logger
}

// NewClient creates a new telegram client wrapper using the Manager.
func NewClient(manager *Manager) *Client {
	return &Client{
		manager:     manager,
		rateLimiter: DefaultRateLimiter(),
		log:         logger.Get(),
	}
}

// Close stops the client via the manager.
func (c *Client) Close() {
	if c.manager != nil {
		c.manager.Stop()
	}
}

// GetStatus returns the current status of the telegram client.
func (c *Client) GetStatus() Status {
	return c.manager.GetStatus()
}

// Self returns the authenticated user id.
func (c *Client) Self() int64 {
	return c.manager.SelfID()
}

// RateLimiter exposes the flood-wait gate shared by all edit call sites.
func (c *Client) RateLimiter() *RateLimiter {
	return c.rateLimiter
}

// CoolingDown reports whether the process-wide flood-wait cooldown is active.
func (c *Client) CoolingDown() bool {
	return c.rateLimiter.CoolingDown()
}

// getProto returns the current protocol client if available.
func (c *Client) getProto() (*gotgproto.Client, error) {
	proto := c.manager.GetClient()
	if proto == nil {
		return nil, ErrUnauthorized
	}
	return proto, nil
}

// inputPeer resolves a chat id to an input peer via the session peer storage.
func (c *Client) inputPeer(chatID int64) (tg.InputPeerClass, *gotgproto.Client, error) {
	proto, err := c.getProto()
	if err != nil {
		return nil, nil, err
	}
	peer := proto.PeerStorage.GetInputPeerById(chatID)
	if _, empty := peer.(*tg.InputPeerEmpty); empty {
		return nil, nil, fmt.Errorf("%w: unknown peer %d", ErrNotFound, chatID)
	}
	return peer, proto, nil
}

// SendReply posts a new text message replying to replyTo and returns its id.
func (c *Client) SendReply(ctx context.Context, chatID int64, replyTo int, text string) (int, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return 0, err
	}

	proto, err := c.getProto()
	if err != nil {
		return 0, err
	}

	req := &tg.MessagesSendMessageRequest{Message: text}
	if replyTo > 0 {
		req.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: replyTo}
	}

	sent, err := proto.CreateContext().SendMessage(chatID, req)
	if err != nil {
		return 0, c.noteError(err)
	}
	return sent.ID, nil
}

// EditText replaces the text of an existing message.
func (c *Client) EditText(ctx context.Context, chatID int64, msgID int, text string) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	proto, err := c.getProto()
	if err != nil {
		return err
	}

	_, err = proto.CreateContext().EditMessage(chatID, &tg.MessagesEditMessageRequest{
		ID:      msgID,
		Message: text,
	})
	if err != nil {
		return c.noteError(err)
	}
	return nil
}

// EditVideo replaces a message with text plus an uploaded video file carrying
// inline-playback attributes.
func (c *Client) EditVideo(ctx context.Context, chatID int64, msgID int, text, path string, attrs VideoAttributes) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	peer, proto, err := c.inputPeer(chatID)
	if err != nil {
		return err
	}
	api := proto.API()

	file, err := uploader.NewUploader(api).FromPath(ctx, path)
	if err != nil {
		return fmt.Errorf("upload video: %w", err)
	}

	media := &tg.InputMediaUploadedDocument{
		File:     file,
		MimeType: "video/mp4",
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeVideo{
				SupportsStreaming: true,
				Duration:          attrs.Duration.Seconds(),
				W:                 attrs.Width,
				H:                 attrs.Height,
			},
			&tg.DocumentAttributeFilename{FileName: "video.mp4"},
		},
	}

	_, err = api.MessagesEditMessage(ctx, &tg.MessagesEditMessageRequest{
		Peer:    peer,
		ID:      msgID,
		Message: text,
		Media:   media,
	})
	if err != nil {
		return c.noteError(err)
	}
	return nil
}

// DeleteMessages removes messages from a chat.
func (c *Client) DeleteMessages(ctx context.Context, chatID int64, msgIDs []int) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	proto, err := c.getProto()
	if err != nil {
		return err
	}

	if err := proto.CreateContext().DeleteMessages(chatID, msgIDs); err != nil {
		return c.noteError(err)
	}
	return nil
}

// GetMessage fetches a single message by id.
func (c *Client) GetMessage(ctx context.Context, chatID int64, msgID int) (*Message, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	proto, err := c.getProto()
	if err != nil {
		return nil, err
	}

	msgs, err := proto.CreateContext().GetMessages(chatID, []tg.InputMessageClass{&tg.InputMessageID{ID: msgID}})
	if err != nil {
		return nil, c.noteError(err)
	}
	for _, raw := range msgs {
		if m := parseMessage(raw, chatID); m != nil && m.ID == msgID {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: message %d in chat %d", ErrNotFound, msgID, chatID)
}

// MessagesAfter returns up to limit of the newest messages in the chat whose
// id is greater than afterID, oldest first. Used by the claim protocol to
// scan for foreign claim stamps among successor messages.
func (c *Client) MessagesAfter(ctx context.Context, chatID int64, afterID int, limit int) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	peer, proto, err := c.inputPeer(chatID)
	if err != nil {
		return nil, err
	}

	history, err := proto.API().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  peer,
		Limit: limit,
	})
	if err != nil {
		return nil, c.noteError(err)
	}

	var out []Message
	for _, raw := range extractHistory(history) {
		if m := parseMessage(raw, chatID); m != nil && m.ID > afterID {
			out = append(out, *m)
		}
	}
	// history arrives newest first; callers want chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Dialogs enumerates the most recent dialogs as Chat values.
func (c *Client) Dialogs(ctx context.Context, limit int) ([]Chat, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	proto, err := c.getProto()
	if err != nil {
		return nil, err
	}

	res, err := proto.API().MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		Limit:      limit,
		OffsetPeer: &tg.InputPeerEmpty{},
	})
	if err != nil {
		return nil, c.noteError(err)
	}

	var chats []tg.ChatClass
	var users []tg.UserClass
	switch d := res.(type) {
	case *tg.MessagesDialogs:
		chats, users = d.Chats, d.Users
	case *tg.MessagesDialogsSlice:
		chats, users = d.Chats, d.Users
	}

	var out []Chat
	for _, raw := range chats {
		switch ch := raw.(type) {
		case *tg.Chat:
			out = append(out, Chat{
				ID:               ch.ID,
				Title:            ch.Title,
				Kind:             ChatGroup,
				ParticipantCount: ch.ParticipantsCount,
			})
		case *tg.Channel:
			count, _ := ch.GetParticipantsCount()
			out = append(out, Chat{
				ID:               ch.ID,
				Title:            ch.Title,
				Kind:             ChatChannel,
				Megagroup:        ch.Megagroup,
				ParticipantCount: count,
			})
		}
	}
	for _, raw := range users {
		u, ok := raw.(*tg.User)
		if !ok || u.Bot || u.Self {
			continue
		}
		title := u.FirstName
		if u.LastName != "" {
			title += " " + u.LastName
		}
		out = append(out, Chat{ID: u.ID, Title: title, Kind: ChatPrivate})
	}
	return out, nil
}

// noteError translates an rpc error and records flood waits on the limiter.
func (c *Client) noteError(err error) error {
	translated := translateRPC(err)
	if secs, ok := AsFloodWait(translated); ok {
		c.log.Warn().Int("wait_seconds", secs).Msg("telegram: FLOOD_WAIT, entering cooldown")
		c.rateLimiter.SetFloodWait(secs)
	}
	return translated
}

// extractHistory flattens a history response into raw message classes.
func extractHistory(res tg.MessagesMessagesClass) []tg.MessageClass {
	switch h := res.(type) {
	case *tg.MessagesChannelMessages:
		return h.Messages
	case *tg.MessagesMessages:
		return h.Messages
	case *tg.MessagesMessagesSlice:
		return h.Messages
	}
	return nil
}

// parseMessage converts a raw message into our Message type.
func parseMessage(raw tg.MessageClass, chatID int64) *Message {
	m, ok := raw.(*tg.Message)
	if !ok {
		return nil
	}

	_, forwarded := m.GetFwdFrom()
	msg := &Message{
		ID:        m.ID,
		ChatID:    chatID,
		Text:      m.Message,
		Date:      time.Unix(int64(m.Date), 0),
		Forwarded: forwarded,
	}
	if from, ok := m.FromID.(*tg.PeerUser); ok {
		msg.SenderID = from.UserID
	}
	if m.ReplyTo != nil {
		if header, ok := m.ReplyTo.(*tg.MessageReplyHeader); ok {
			msg.ReplyToID = header.ReplyToMsgID
		}
	}
	return msg
}
