// Copyright 2024-2026 Aiku AI

// Package telegram adapts a telego bot to the bridge's Telegram interfaces.
package telegram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog"

	"github.com/aiku/q2tg/pkg/connector"
)

var (
	_ connector.TelegramClient       = (*Client)(nil)
	_ connector.TelegramUpdateSource = (*Client)(nil)
)

// Client wraps a telego bot.
type Client struct {
	Bot *telego.Bot
	log zerolog.Logger
	me  *telego.User
}

// NewClient creates the bot and fetches its own user. apiURL may be empty
// for the official Bot API server.
func NewClient(ctx context.Context, cfg connector.TelegramConfig, log zerolog.Logger) (*Client, error) {
	opts := []telego.BotOption{telego.WithDiscardLogger()}
	if cfg.APIURL != "" {
		opts = append(opts, telego.WithAPIServer(cfg.APIURL))
	}
	bot, err := telego.NewBot(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	me, err := bot.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get bot user: %w", err)
	}
	log = log.With().Str("component", "telegram").Str("bot_username", me.Username).Logger()
	log.Info().Int64("bot_id", me.ID).Msg("Connected to Telegram")
	return &Client{Bot: bot, log: log, me: me}, nil
}

func (c *Client) BotID() int64 { return c.me.ID }

// Username returns the bot's username without the @.
func (c *Client) Username() string { return c.me.Username }

// Updates starts long polling.
func (c *Client) Updates(ctx context.Context) (<-chan telego.Update, error) {
	updates, err := c.Bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message", "edited_message", "my_chat_member"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start long polling: %w", err)
	}
	return updates, nil
}

// Send delivers msg and returns the ids of the created messages.
func (c *Client) Send(ctx context.Context, chatID int64, msg *connector.OutboundMessage) ([]int, error) {
	var reply *telego.ReplyParameters
	if msg.ReplyTo != 0 {
		reply = &telego.ReplyParameters{MessageID: msg.ReplyTo, AllowSendingWithoutReply: true}
	}
	chat := tu.ID(chatID)
	switch {
	case msg.Location != nil:
		return c.sendLocation(ctx, chat, msg, reply)
	case msg.IsText():
		sent, err := c.Bot.SendMessage(ctx, &telego.SendMessageParams{
			ChatID:          chat,
			Text:            msg.HTML,
			ParseMode:       telego.ModeHTML,
			ReplyParameters: reply,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to send text: %w", err)
		}
		return []int{sent.MessageID}, nil
	case len(msg.Media) == 1:
		return c.sendMedia(ctx, chat, msg.Media[0], msg.HTML, reply)
	default:
		return c.sendAlbum(ctx, chat, msg, reply)
	}
}

func (c *Client) sendLocation(ctx context.Context, chat telego.ChatID, msg *connector.OutboundMessage, reply *telego.ReplyParameters) ([]int, error) {
	loc := msg.Location
	var sent *telego.Message
	var err error
	if loc.Title != "" || loc.Address != "" {
		sent, err = c.Bot.SendVenue(ctx, &telego.SendVenueParams{
			ChatID:          chat,
			Latitude:        loc.Latitude,
			Longitude:       loc.Longitude,
			Title:           loc.Title,
			Address:         loc.Address,
			ReplyParameters: reply,
		})
	} else {
		sent, err = c.Bot.SendLocation(ctx, &telego.SendLocationParams{
			ChatID:          chat,
			Latitude:        loc.Latitude,
			Longitude:       loc.Longitude,
			ReplyParameters: reply,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to send location: %w", err)
	}
	return []int{sent.MessageID}, nil
}

func inputFile(m connector.Media) telego.InputFile {
	if m.Data != nil {
		name := m.FileName
		if name == "" {
			name = m.Kind.String()
		}
		return tu.File(tu.NameReader(bytes.NewReader(m.Data), name))
	}
	return tu.FileFromURL(m.URL)
}

func (c *Client) sendMedia(ctx context.Context, chat telego.ChatID, m connector.Media, caption string, reply *telego.ReplyParameters) ([]int, error) {
	file := inputFile(m)
	var sent *telego.Message
	var err error
	switch m.Kind {
	case connector.MediaPhoto:
		sent, err = c.Bot.SendPhoto(ctx, &telego.SendPhotoParams{
			ChatID: chat, Photo: file, Caption: caption, ParseMode: telego.ModeHTML,
			HasSpoiler: m.Spoiler, ReplyParameters: reply,
		})
	case connector.MediaAnimation:
		sent, err = c.Bot.SendAnimation(ctx, &telego.SendAnimationParams{
			ChatID: chat, Animation: file, Caption: caption, ParseMode: telego.ModeHTML,
			HasSpoiler: m.Spoiler, ReplyParameters: reply,
		})
	case connector.MediaVideo:
		sent, err = c.Bot.SendVideo(ctx, &telego.SendVideoParams{
			ChatID: chat, Video: file, Caption: caption, ParseMode: telego.ModeHTML,
			HasSpoiler: m.Spoiler, ReplyParameters: reply,
		})
	case connector.MediaVoice:
		sent, err = c.Bot.SendVoice(ctx, &telego.SendVoiceParams{
			ChatID: chat, Voice: file, Caption: caption, ParseMode: telego.ModeHTML, ReplyParameters: reply,
		})
	case connector.MediaSticker:
		// Stickers take no caption, so the text follows as its own message.
		sent, err = c.Bot.SendSticker(ctx, &telego.SendStickerParams{
			ChatID: chat, Sticker: file, ReplyParameters: reply,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to send sticker: %w", err)
		}
		ids := []int{sent.MessageID}
		if caption != "" {
			text, err := c.Bot.SendMessage(ctx, &telego.SendMessageParams{
				ChatID: chat, Text: caption, ParseMode: telego.ModeHTML,
			})
			if err != nil {
				return ids, fmt.Errorf("failed to send sticker caption: %w", err)
			}
			ids = append(ids, text.MessageID)
		}
		return ids, nil
	default:
		sent, err = c.Bot.SendDocument(ctx, &telego.SendDocumentParams{
			ChatID: chat, Document: file, Caption: caption, ParseMode: telego.ModeHTML, ReplyParameters: reply,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", m.Kind, err)
	}
	return []int{sent.MessageID}, nil
}

func (c *Client) sendAlbum(ctx context.Context, chat telego.ChatID, msg *connector.OutboundMessage, reply *telego.ReplyParameters) ([]int, error) {
	media := make([]telego.InputMedia, len(msg.Media))
	for i, m := range msg.Media {
		var caption, parseMode string
		if i == 0 {
			caption, parseMode = msg.HTML, telego.ModeHTML
		}
		file := inputFile(m)
		switch m.Kind {
		case connector.MediaVideo:
			media[i] = &telego.InputMediaVideo{
				Type: telego.MediaTypeVideo, Media: file, Caption: caption, ParseMode: parseMode, HasSpoiler: m.Spoiler,
			}
		case connector.MediaDocument:
			media[i] = &telego.InputMediaDocument{
				Type: telego.MediaTypeDocument, Media: file, Caption: caption, ParseMode: parseMode,
			}
		default:
			media[i] = &telego.InputMediaPhoto{
				Type: telego.MediaTypePhoto, Media: file, Caption: caption, ParseMode: parseMode, HasSpoiler: m.Spoiler,
			}
		}
	}
	sent, err := c.Bot.SendMediaGroup(ctx, &telego.SendMediaGroupParams{
		ChatID:          chat,
		Media:           media,
		ReplyParameters: reply,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send album: %w", err)
	}
	ids := make([]int, len(sent))
	for i, m := range sent {
		ids[i] = m.MessageID
	}
	return ids, nil
}

// Delete removes messages. Telegram accepts at most 100 ids per call.
func (c *Client) Delete(ctx context.Context, chatID int64, msgIDs ...int) error {
	for start := 0; start < len(msgIDs); start += 100 {
		end := min(start+100, len(msgIDs))
		err := c.Bot.DeleteMessages(ctx, &telego.DeleteMessagesParams{
			ChatID:     tu.ID(chatID),
			MessageIDs: msgIDs[start:end],
		})
		if err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
	}
	return nil
}

func (c *Client) Pin(ctx context.Context, chatID int64, msgID int) error {
	err := c.Bot.PinChatMessage(ctx, &telego.PinChatMessageParams{
		ChatID:              tu.ID(chatID),
		MessageID:           msgID,
		DisableNotification: true,
	})
	if err != nil {
		return fmt.Errorf("failed to pin message: %w", err)
	}
	return nil
}

// GetMemberRole reports administrators as RoleAdmin only when they may
// delete messages.
func (c *Client) GetMemberRole(ctx context.Context, chatID, userID int64) (connector.MemberRole, error) {
	member, err := c.Bot.GetChatMember(ctx, &telego.GetChatMemberParams{
		ChatID: tu.ID(chatID),
		UserID: userID,
	})
	if err != nil {
		return connector.RoleUnknown, fmt.Errorf("failed to get chat member: %w", err)
	}
	return memberRole(member), nil
}

func memberRole(member telego.ChatMember) connector.MemberRole {
	switch m := member.(type) {
	case *telego.ChatMemberOwner:
		return connector.RoleOwner
	case *telego.ChatMemberAdministrator:
		if m.CanDeleteMessages {
			return connector.RoleAdmin
		}
		return connector.RoleMember
	case *telego.ChatMemberMember, *telego.ChatMemberRestricted:
		return connector.RoleMember
	default:
		return connector.RoleUnknown
	}
}

// FileURL resolves a file id to a download URL. The URL embeds the bot
// token and must not be shown to users.
func (c *Client) FileURL(ctx context.Context, fileID string) (string, error) {
	file, err := c.Bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("failed to get file: %w", err)
	}
	return c.Bot.FileDownloadURL(file.FilePath), nil
}
