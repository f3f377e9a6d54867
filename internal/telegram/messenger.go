package telegram

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/aulabot/internal/database"
	"github.com/edgard/aulabot/internal/errs"
)

const typingInterval = 4 * time.Second

// Recorder logs messages sent by the bot to a group.
type Recorder interface {
	AddMessage(ctx context.Context, message *database.Message, items []database.ContentItem) error
}

// Messenger is the outbound Telegram surface. Everything it sends to a group
// chat is logged through the Recorder; private chats are not logged.
//
// It is created before the bot so that handlers can hold it, and becomes
// usable once Bind is called.
type Messenger struct {
	recorder Recorder
	logger   *slog.Logger
	tg       atomic.Pointer[bot.Bot]
	selfID   atomic.Int64
}

// NewMessenger creates an unbound Messenger.
func NewMessenger(recorder Recorder, logger *slog.Logger) *Messenger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Messenger{recorder: recorder, logger: logger.With("component", "messenger")}
}

// Bind attaches the bot instance used for every call. selfID is the bot's
// own user id as reported by GetMe.
func (m *Messenger) Bind(tg *bot.Bot, selfID int64) {
	m.selfID.Store(selfID)
	m.tg.Store(tg)
}

func (m *Messenger) client() (*bot.Bot, error) {
	tg := m.tg.Load()
	if tg == nil {
		return nil, errs.NewTelegramError("messenger used before bind", nil)
	}
	return tg, nil
}

// SendText sends a plain text message.
func (m *Messenger) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	return m.sendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}, text)
}

// SendMarkdown sends a message parsed as legacy Markdown.
func (m *Messenger) SendMarkdown(ctx context.Context, chatID int64, text string) (int, error) {
	return m.sendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeMarkdownV1,
	}, text)
}

// Reply sends text as a reply to replyTo.
func (m *Messenger) Reply(ctx context.Context, chatID int64, replyTo int, text string) (int, error) {
	return m.sendMessage(ctx, &bot.SendMessageParams{
		ChatID:          chatID,
		Text:            text,
		ReplyParameters: &models.ReplyParameters{MessageID: replyTo, AllowSendingWithoutReply: true},
	}, text)
}

// SendPrompt sends a Markdown message with an optional inline keyboard.
func (m *Messenger) SendPrompt(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) (int, error) {
	params := &bot.SendMessageParams{ChatID: chatID, Text: text, ParseMode: models.ParseModeMarkdownV1}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}
	return m.sendMessage(ctx, params, text)
}

// EditPrompt replaces the text and keyboard of a previous prompt.
func (m *Messenger) EditPrompt(ctx context.Context, chatID int64, messageID int, text string, keyboard *models.InlineKeyboardMarkup) error {
	tg, err := m.client()
	if err != nil {
		return err
	}
	params := &bot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
		ParseMode: models.ParseModeMarkdownV1,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}
	if _, err := tg.EditMessageText(ctx, params); err != nil {
		return errs.NewTelegramError("failed to edit prompt", err)
	}
	return nil
}

// AnswerCallback acknowledges a button press.
func (m *Messenger) AnswerCallback(ctx context.Context, callbackID string) error {
	tg, err := m.client()
	if err != nil {
		return err
	}
	if _, err := tg.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: callbackID}); err != nil {
		return errs.NewTelegramError("failed to answer callback query", err)
	}
	return nil
}

// SendItem sends one content item. Media is re-sent by file id when known
// and uploaded from the archived file otherwise.
func (m *Messenger) SendItem(ctx context.Context, chatID int64, item database.ContentItem) (int, error) {
	tg, err := m.client()
	if err != nil {
		return 0, err
	}

	var msg *models.Message
	switch item.Kind {
	case database.ContentText:
		return m.SendText(ctx, chatID, item.Text)
	case database.ContentContact:
		msg, err = tg.SendContact(ctx, &bot.SendContactParams{
			ChatID:      chatID,
			PhoneNumber: item.Phone,
			FirstName:   item.FirstName,
			LastName:    item.LastName,
		})
	case database.ContentLocation:
		msg, err = tg.SendLocation(ctx, &bot.SendLocationParams{
			ChatID:    chatID,
			Latitude:  item.Latitude,
			Longitude: item.Longitude,
		})
	default:
		if !item.Kind.IsMedia() {
			return 0, errs.NewValidationError(fmt.Sprintf("unsupported content kind %q", item.Kind), nil)
		}
		var file models.InputFile
		var closeFile func()
		file, closeFile, err = inputFile(item)
		if err != nil {
			return 0, err
		}
		defer closeFile()
		msg, err = sendMedia(ctx, tg, chatID, item, file)
	}
	if err != nil {
		return 0, errs.NewTelegramError(fmt.Sprintf("failed to send %s", item.Kind), err)
	}

	m.record(ctx, msg, item)
	return msg.ID, nil
}

// SendDocument uploads a local file as a document.
func (m *Messenger) SendDocument(ctx context.Context, chatID int64, path, caption string) (int, error) {
	tg, err := m.client()
	if err != nil {
		return 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()

	msg, err := tg.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID:   chatID,
		Document: &models.InputFileUpload{Filename: filepath.Base(path), Data: f},
		Caption:  caption,
	})
	if err != nil {
		return 0, errs.NewTelegramError("failed to send document", err)
	}
	m.record(ctx, msg, database.ContentItem{Kind: database.ContentDocument, Text: caption, FilePath: path})
	return msg.ID, nil
}

// Kick bans userID from chatID.
func (m *Messenger) Kick(ctx context.Context, chatID, userID int64) error {
	tg, err := m.client()
	if err != nil {
		return err
	}
	if _, err := tg.BanChatMember(ctx, &bot.BanChatMemberParams{ChatID: chatID, UserID: userID}); err != nil {
		return errs.NewTelegramError(fmt.Sprintf("failed to kick user %d", userID), err)
	}
	return nil
}

// Unban lifts a ban. It does nothing for members that are not banned.
func (m *Messenger) Unban(ctx context.Context, chatID, userID int64) error {
	tg, err := m.client()
	if err != nil {
		return err
	}
	_, err = tg.UnbanChatMember(ctx, &bot.UnbanChatMemberParams{ChatID: chatID, UserID: userID, OnlyIfBanned: true})
	if err != nil {
		return errs.NewTelegramError(fmt.Sprintf("failed to unban user %d", userID), err)
	}
	return nil
}

// Promote grants userID the administrative rights an instructor needs.
func (m *Messenger) Promote(ctx context.Context, chatID, userID int64) error {
	tg, err := m.client()
	if err != nil {
		return err
	}
	_, err = tg.PromoteChatMember(ctx, &bot.PromoteChatMemberParams{
		ChatID:             chatID,
		UserID:             userID,
		CanManageChat:      true,
		CanDeleteMessages:  true,
		CanRestrictMembers: true,
		CanInviteUsers:     true,
		CanPinMessages:     true,
	})
	if err != nil {
		return errs.NewTelegramError(fmt.Sprintf("failed to promote user %d", userID), err)
	}
	return nil
}

// InviteLink exports the primary invite link of chatID.
func (m *Messenger) InviteLink(ctx context.Context, chatID int64) (string, error) {
	tg, err := m.client()
	if err != nil {
		return "", err
	}
	link, err := tg.ExportChatInviteLink(ctx, &bot.ExportChatInviteLinkParams{ChatID: chatID})
	if err != nil {
		return "", errs.NewTelegramError("failed to export invite link", err)
	}
	return link, nil
}

// IsAdmin reports whether the bot is an administrator of chatID.
func (m *Messenger) IsAdmin(ctx context.Context, chatID int64) (bool, error) {
	tg, err := m.client()
	if err != nil {
		return false, err
	}
	member, err := tg.GetChatMember(ctx, &bot.GetChatMemberParams{ChatID: chatID, UserID: m.selfID.Load()})
	if err != nil {
		return false, errs.NewTelegramError("failed to get bot membership", err)
	}
	return member.Type == models.ChatMemberTypeAdministrator || member.Type == models.ChatMemberTypeOwner, nil
}

// Leave makes the bot leave chatID.
func (m *Messenger) Leave(ctx context.Context, chatID int64) error {
	tg, err := m.client()
	if err != nil {
		return err
	}
	if _, err := tg.LeaveChat(ctx, &bot.LeaveChatParams{ChatID: chatID}); err != nil {
		return errs.NewTelegramError("failed to leave chat", err)
	}
	return nil
}

// FileLink resolves a file id to its download URL.
func (m *Messenger) FileLink(ctx context.Context, fileID string) (string, error) {
	tg, err := m.client()
	if err != nil {
		return "", err
	}
	f, err := tg.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return "", errs.NewTelegramError("failed to get file", err)
	}
	if f.FilePath == "" {
		return "", errs.NewTelegramError("empty file path returned from Telegram", nil)
	}
	return tg.FileDownloadLink(f), nil
}

// KeepTyping shows the typing indicator in chatID until ctx is done.
func (m *Messenger) KeepTyping(ctx context.Context, chatID int64) {
	tg, err := m.client()
	if err != nil {
		return
	}
	ticker := time.NewTicker(typingInterval)
	defer ticker.Stop()

	for {
		if _, err := tg.SendChatAction(ctx, &bot.SendChatActionParams{ChatID: chatID, Action: models.ChatActionTyping}); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.DebugContext(ctx, "Typing action failed", "chat_id", chatID, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Messenger) sendMessage(ctx context.Context, params *bot.SendMessageParams, text string) (int, error) {
	tg, err := m.client()
	if err != nil {
		return 0, err
	}
	msg, err := tg.SendMessage(ctx, params)
	if err != nil {
		return 0, errs.NewTelegramError("failed to send message", err)
	}
	m.record(ctx, msg, database.ContentItem{Kind: database.ContentText, Text: text})
	return msg.ID, nil
}

// record logs a message the bot sent to a group. Failures are logged only.
func (m *Messenger) record(ctx context.Context, msg *models.Message, item database.ContentItem) {
	if msg == nil || !isGroupChat(msg.Chat) || m.recorder == nil {
		return
	}
	logged := &database.Message{
		ChatMessageID: msg.ID,
		GroupID:       msg.Chat.ID,
		Received:      false,
		Academic:      true,
		SentAt:        time.Unix(int64(msg.Date), 0),
	}
	if msg.ReplyToMessage != nil {
		logged.ReplyToChatMessageID = sql.NullInt64{Int64: int64(msg.ReplyToMessage.ID), Valid: true}
	}
	item.ID, item.AnnouncementID, item.MessageID, item.Position = 0, sql.NullInt64{}, sql.NullInt64{}, 0
	if err := m.recorder.AddMessage(ctx, logged, []database.ContentItem{item}); err != nil {
		m.logger.ErrorContext(ctx, "Failed to log sent message", "chat_id", msg.Chat.ID, "message_id", msg.ID, "error", err)
	}
}

func inputFile(item database.ContentItem) (models.InputFile, func(), error) {
	if item.FileID != "" {
		return &models.InputFileString{Data: item.FileID}, func() {}, nil
	}
	if item.FilePath == "" {
		return nil, nil, errs.NewValidationError(fmt.Sprintf("%s item has no file", item.Kind), nil)
	}
	f, err := os.Open(item.FilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open archived media: %w", err)
	}
	return &models.InputFileUpload{Filename: filepath.Base(item.FilePath), Data: f}, func() { f.Close() }, nil
}

func sendMedia(ctx context.Context, tg *bot.Bot, chatID int64, item database.ContentItem, file models.InputFile) (*models.Message, error) {
	switch item.Kind {
	case database.ContentPhoto:
		return tg.SendPhoto(ctx, &bot.SendPhotoParams{ChatID: chatID, Photo: file, Caption: item.Text})
	case database.ContentVideo:
		return tg.SendVideo(ctx, &bot.SendVideoParams{ChatID: chatID, Video: file, Caption: item.Text})
	case database.ContentAudio:
		return tg.SendAudio(ctx, &bot.SendAudioParams{ChatID: chatID, Audio: file, Caption: item.Text})
	case database.ContentVoice:
		return tg.SendVoice(ctx, &bot.SendVoiceParams{ChatID: chatID, Voice: file, Caption: item.Text})
	case database.ContentVideoNote:
		return tg.SendVideoNote(ctx, &bot.SendVideoNoteParams{ChatID: chatID, VideoNote: file})
	case database.ContentSticker:
		return tg.SendSticker(ctx, &bot.SendStickerParams{ChatID: chatID, Sticker: file})
	case database.ContentAnimation:
		return tg.SendAnimation(ctx, &bot.SendAnimationParams{ChatID: chatID, Animation: file, Caption: item.Text})
	default:
		return tg.SendDocument(ctx, &bot.SendDocumentParams{ChatID: chatID, Document: file, Caption: item.Text})
	}
}

func isGroupChat(chat models.Chat) bool {
	return chat.Type == models.ChatTypeGroup || chat.Type == models.ChatTypeSupergroup
}
