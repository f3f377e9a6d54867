package handlers

import (
	"github.com/go-telegram/bot/models"

	"github.com/edgard/aulabot/internal/database"
)

// contentItem converts the payload of msg. Captions are stored as the item
// text. It reports false for messages with nothing storable, such as
// service messages.
func contentItem(msg *models.Message) (database.ContentItem, bool) {
	if msg == nil {
		return database.ContentItem{}, false
	}
	item := database.ContentItem{Text: msg.Caption}

	switch {
	case msg.Animation != nil:
		item.Kind, item.FileID, item.MimeType = database.ContentAnimation, msg.Animation.FileID, msg.Animation.MimeType
	case len(msg.Photo) > 0:
		// sizes are ascending; keep the largest
		item.Kind, item.FileID, item.MimeType = database.ContentPhoto, msg.Photo[len(msg.Photo)-1].FileID, "image/jpeg"
	case msg.Document != nil:
		item.Kind, item.FileID, item.MimeType = database.ContentDocument, msg.Document.FileID, msg.Document.MimeType
	case msg.Video != nil:
		item.Kind, item.FileID, item.MimeType = database.ContentVideo, msg.Video.FileID, msg.Video.MimeType
	case msg.Audio != nil:
		item.Kind, item.FileID, item.MimeType = database.ContentAudio, msg.Audio.FileID, msg.Audio.MimeType
	case msg.Voice != nil:
		item.Kind, item.FileID, item.MimeType = database.ContentVoice, msg.Voice.FileID, msg.Voice.MimeType
	case msg.VideoNote != nil:
		item.Kind, item.FileID, item.MimeType = database.ContentVideoNote, msg.VideoNote.FileID, "video/mp4"
	case msg.Sticker != nil:
		item.Kind, item.FileID = database.ContentSticker, msg.Sticker.FileID
	case msg.Contact != nil:
		item.Kind = database.ContentContact
		item.Phone, item.FirstName, item.LastName = msg.Contact.PhoneNumber, msg.Contact.FirstName, msg.Contact.LastName
	case msg.Location != nil:
		item.Kind, item.Latitude, item.Longitude = database.ContentLocation, msg.Location.Latitude, msg.Location.Longitude
	case msg.Text != "":
		item.Kind, item.Text = database.ContentText, msg.Text
	default:
		return database.ContentItem{}, false
	}
	return item, true
}

// messageText returns the text or caption of msg.
func messageText(msg *models.Message) string {
	if msg == nil {
		return ""
	}
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

// userOf converts a Telegram user. Role and validity are left to the store.
func userOf(u *models.User) database.User {
	if u == nil {
		return database.User{}
	}
	return database.User{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Username: u.Username}
}

// groupOf converts a group chat. ok is false for private chats and channels.
func groupOf(chat models.Chat) (database.Group, bool) {
	var kind database.GroupKind
	switch chat.Type {
	case models.ChatTypeGroup:
		kind = database.KindGroup
	case models.ChatTypeSupergroup:
		kind = database.KindSupergroup
	default:
		return database.Group{}, false
	}
	return database.Group{ID: chat.ID, Title: chat.Title, Kind: kind}, true
}
