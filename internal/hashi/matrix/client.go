// Package matrix provides the Matrix transport for Hashi.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/hashi/common/retry"
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// DB is an optional SQLite connection used to persist the Matrix sync
	// token (next_batch) across restarts. When nil, an in-memory store is
	// used and room history replays on every restart, which would make the
	// bot re-answer old prompts.
	DB *sql.DB
}

// Message is an incoming text message stripped down to what the router needs.
type Message struct {
	Sender  string
	RoomID  string
	EventID string
	Text    string
}

// MessageHandler processes incoming text messages.
type MessageHandler func(ctx context.Context, msg Message)

// Client wraps a mautrix client. Unlike a room-scoped admin bot, Hashi
// accepts direct messages from any user and auto-joins rooms it is invited
// to, since session state is keyed by sender rather than by room.
type Client struct {
	client  *mautrix.Client
	userID  id.UserID
	stopCh  chan struct{}
	handler MessageHandler
}

// New creates a Matrix client. The connection is not opened until Start.
func New(cfg *Config) (*Client, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}

	if cfg.DB != nil {
		client.Store = newSyncTokenStore(cfg.DB)
		slog.Info("Matrix sync store: using persistent SQLite store")
	} else {
		slog.Warn("Matrix sync store: no DB configured, using in-memory store (history will replay on restart)")
	}

	return &Client{
		client: client,
		userID: id.UserID(cfg.UserID),
		stopCh: make(chan struct{}),
	}, nil
}

// Start begins syncing with the homeserver and dispatching messages to the
// handler. It returns once the sync loop is running in the background.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	c.handler = handler

	// NOTE: E2EE is not implemented. Messages, including API keys sent via
	// bind commands, travel in plaintext and remain in room history.
	slog.Warn("Matrix E2EE is not enabled; messages are transmitted in plaintext")

	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleMessage)
	syncer.OnEventType(event.StateMember, c.handleMembership)

	// Sync in the background with exponential back-off reconnection. Without
	// retries a transient homeserver error would silently kill the sync
	// goroutine and leave the bot deaf to all new messages.
	go func() {
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			backoff = backoffMin // reset before each attempt
			if err := c.client.Sync(); err != nil {
				select {
				case <-c.stopCh:
					return
				default:
				}
				slog.Error("Matrix sync stopped; reconnecting", "err", err, "backoff", backoff)
				select {
				case <-c.stopCh:
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
				continue
			}
			// Sync returned nil — only happens on a clean StopSync() call.
			return
		}
	}()

	return nil
}

// Stop shuts down the sync loop.
func (c *Client) Stop() {
	close(c.stopCh)
	c.client.StopSync()
}

// Reply sends a text reply to a specific message in a room.
func (c *Client) Reply(ctx context.Context, roomID, eventID, text string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
		RelatesTo: &event.RelatesTo{
			InReplyTo: &event.InReplyTo{
				EventID: id.EventID(eventID),
			},
		},
	}
	_, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content)
	if err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

// SendNotice sends a notice message (less intrusive than normal messages).
func (c *Client) SendNotice(ctx context.Context, roomID, text string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    text,
	}
	_, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content)
	if err != nil {
		return fmt.Errorf("failed to send notice: %w", err)
	}
	return nil
}

// SetTyping toggles the typing indicator while an upstream request is in
// flight.
func (c *Client) SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error {
	_, err := c.client.UserTyping(ctx, id.RoomID(roomID), typing, timeout)
	if err != nil {
		return fmt.Errorf("failed to set typing: %w", err)
	}
	return nil
}

// UserID returns the bot's own user ID.
func (c *Client) UserID() string {
	return c.userID.String()
}

func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	// Ignore our own messages
	if evt.Sender == c.userID {
		return
	}

	msgContent := evt.Content.AsMessage()
	if msgContent == nil || msgContent.MsgType != event.MsgText {
		return
	}

	if c.handler != nil {
		c.handler(ctx, Message{
			Sender:  evt.Sender.String(),
			RoomID:  evt.RoomID.String(),
			EventID: evt.ID.String(),
			Text:    msgContent.Body,
		})
	}
}

// handleMembership auto-joins rooms the bot is invited to so users can start
// a conversation by inviting it to a DM.
func (c *Client) handleMembership(ctx context.Context, evt *event.Event) {
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return
	}
	if id.UserID(evt.GetStateKey()) != c.userID {
		return
	}

	roomID := evt.RoomID
	// Homeservers occasionally race the invite against the join; retry with
	// back-off before giving up on the room.
	err := retry.Do(ctx, retry.Config{MaxAttempts: 3, InitialDelay: time.Second}, func() error {
		return c.joinRoom(ctx, roomID)
	})
	if err != nil {
		slog.Error("failed to join room after invite", "room", roomID, "err", err)
		return
	}
	slog.Info("joined room after invite", "room", roomID, "inviter", evt.Sender)
}

func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		// M_FORBIDDEN is returned when the bot is already a member of the
		// room. Use mautrix's typed error check instead of string matching.
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("joinRoom: already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
