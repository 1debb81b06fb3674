package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/sellkit/connector/internal/domain"

	_ "modernc.org/sqlite"
)

const authDBName = "session.db"

// meowClient implements Client on top of a whatsmeow client with a
// per-session sqlite credential store.
type meowClient struct {
	cli       *whatsmeow.Client
	container *sqlstore.Container
	handlers  Handlers
	sessionID string
}

// NewFactory returns a Factory that stores each session's credentials in
// its own sqlite database under authRoot/<sessionID>/.
func NewFactory(authRoot string) Factory {
	return func(sessionID string, handlers Handlers) (Client, error) {
		dir := filepath.Join(authRoot, sessionID)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create auth dir: %w", err)
		}

		dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)", filepath.Join(dir, authDBName))
		container, err := sqlstore.New("sqlite", dsn, newLogger(sessionID, "Database"))
		if err != nil {
			return nil, fmt.Errorf("open auth store: %w", err)
		}

		device, err := container.GetFirstDevice()
		if err != nil {
			container.Close()
			return nil, fmt.Errorf("get device: %w", err)
		}

		c := &meowClient{
			cli:       whatsmeow.NewClient(device, newLogger(sessionID, "Client")),
			container: container,
			handlers:  handlers,
			sessionID: sessionID,
		}
		c.cli.AddEventHandler(c.handleEvent)
		return c, nil
	}
}

func (c *meowClient) Initialize(ctx context.Context) error {
	if c.cli.Store.ID == nil {
		// Not paired yet: surface QR codes until pairing completes.
		qrChan, err := c.cli.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("get qr channel: %w", err)
		}
		if err := c.cli.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		go func() {
			for item := range qrChan {
				if item.Event == "code" && c.handlers.OnQR != nil {
					c.handlers.OnQR(item.Code)
				}
			}
		}()
		return nil
	}

	if err := c.cli.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (c *meowClient) Destroy() error {
	c.cli.Disconnect()
	if err := c.container.Close(); err != nil {
		return fmt.Errorf("close auth store: %w", err)
	}
	return nil
}

func (c *meowClient) handleEvent(raw interface{}) {
	switch evt := raw.(type) {
	case *events.Connected:
		if c.handlers.OnConnected != nil {
			phone := ""
			if c.cli.Store.ID != nil {
				phone = "+" + c.cli.Store.ID.User
			}
			c.handlers.OnConnected(phone)
		}
	case *events.Disconnected:
		if c.handlers.OnDisconnected != nil {
			c.handlers.OnDisconnected()
		}
	case *events.LoggedOut:
		if c.handlers.OnFatal != nil {
			c.handlers.OnFatal(fmt.Errorf("device logged out remotely (reason %d)", int(evt.Reason)))
		}
	case *events.StreamReplaced:
		if c.handlers.OnFatal != nil {
			c.handlers.OnFatal(fmt.Errorf("stream replaced by another connection"))
		}
	case *events.Message:
		if evt.Info.IsFromMe || c.handlers.OnMessage == nil {
			return
		}
		c.handlers.OnMessage(toInbound(evt, c.cli))
	}
}

func toInbound(evt *events.Message, cli *whatsmeow.Client) domain.InboundMessage {
	to := ""
	if cli.Store.ID != nil {
		to = cli.Store.ID.String()
	}
	return domain.InboundMessage{
		ID:        string(evt.Info.ID),
		From:      evt.Info.Chat.String(),
		To:        to,
		Body:      extractText(evt.Message),
		Type:      evt.Info.Type,
		IsGroup:   evt.Info.IsGroup,
		HasMedia:  hasMedia(evt.Message),
		Timestamp: evt.Info.Timestamp,
	}
}

func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if text := msg.GetConversation(); text != "" {
		return text
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	return ""
}

func hasMedia(msg *waE2E.Message) bool {
	if msg == nil {
		return false
	}
	return msg.GetImageMessage() != nil ||
		msg.GetVideoMessage() != nil ||
		msg.GetAudioMessage() != nil ||
		msg.GetDocumentMessage() != nil ||
		msg.GetStickerMessage() != nil
}

func (c *meowClient) SendText(ctx context.Context, to, body string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("parse recipient %q: %w", to, err)
	}
	_, err = c.cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)})
	if err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

func (c *meowClient) SendMedia(ctx context.Context, to string, data []byte, mimetype, caption string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("parse recipient %q: %w", to, err)
	}

	mediaType := whatsmeow.MediaDocument
	if strings.HasPrefix(mimetype, "image/") {
		mediaType = whatsmeow.MediaImage
	}

	uploaded, err := c.cli.Upload(ctx, data, mediaType)
	if err != nil {
		return fmt.Errorf("upload media: %w", err)
	}

	msg := &waE2E.Message{}
	if mediaType == whatsmeow.MediaImage {
		msg.ImageMessage = &waE2E.ImageMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimetype),
			URL:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
		}
	} else {
		msg.DocumentMessage = &waE2E.DocumentMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimetype),
			URL:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
		}
	}

	if _, err := c.cli.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("send media: %w", err)
	}
	return nil
}

func (c *meowClient) MarkRead(_ context.Context, msg domain.InboundMessage) error {
	chat, err := types.ParseJID(msg.From)
	if err != nil {
		return fmt.Errorf("parse chat %q: %w", msg.From, err)
	}
	if err := c.cli.MarkRead([]types.MessageID{types.MessageID(msg.ID)}, time.Now(), chat, chat); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (c *meowClient) SendComposing(to string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("parse recipient %q: %w", to, err)
	}
	return c.cli.SendChatPresence(jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
}

func (c *meowClient) ClearComposing(to string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("parse recipient %q: %w", to, err)
	}
	return c.cli.SendChatPresence(jid, types.ChatPresencePaused, types.ChatPresenceMediaText)
}
