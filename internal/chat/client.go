package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sidehustle-chat/internal/apperr"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxMessageSize = 8 * 1024            // Maximum command size allowed from peer.
)

// Client is a middleman between one websocket connection and the service/hub.
// Events arrive through its Subscription; commands go straight to the service.
type Client struct {
	service *Service
	sub     *Subscription
	conn    *websocket.Conn
	userID  string
	log     zerolog.Logger

	// Replies to this connection's own commands (errors only).
	replies chan []byte
}

func NewClient(service *Service, sub *Subscription, conn *websocket.Conn, userID string, log zerolog.Logger) *Client {
	return &Client{
		service: service,
		sub:     sub,
		conn:    conn,
		userID:  userID,
		log:     log.With().Str("user_id", userID).Logger(),
		replies: make(chan []byte, 16),
	}
}

// ReadPump runs commands from the connection until it closes.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		// Cleanup: if the connection dies, leave the hub
		c.sub.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}

		var cmd WSCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.reply("", apperr.InvalidArg("malformed command"))
			continue
		}
		if err := c.handle(ctx, &cmd); err != nil {
			c.reply(cmd.Type, err)
		}
	}
}

func (c *Client) handle(ctx context.Context, cmd *WSCommand) error {
	switch cmd.Type {
	case "send":
		if cmd.RecipientID == "" && cmd.ConversationID != "" {
			_, err := c.service.AppendMessage(ctx, AppendInput{
				ConversationID: cmd.ConversationID,
				SenderID:       c.userID,
				Content:        cmd.Content,
				MediaRef:       cmd.MediaRef,
				ReplyToID:      cmd.ReplyToID,
			})
			return err
		}
		_, err := c.service.SendMessage(ctx, SendInput{
			SenderID:    c.userID,
			RecipientID: cmd.RecipientID,
			Content:     cmd.Content,
			MediaRef:    cmd.MediaRef,
			ReplyToID:   cmd.ReplyToID,
		})
		return err

	case "mark_read":
		_, err := c.service.MarkRead(ctx, cmd.ConversationID, c.userID, cmd.ThroughMessageID)
		return err

	case "follow":
		if _, err := c.service.GetConversation(ctx, cmd.ConversationID, c.userID); err != nil {
			return err
		}
		c.sub.Follow(ctx, ConversationTopic(cmd.ConversationID))
		return nil

	default:
		return apperr.InvalidArg("unknown command type")
	}
}

func (c *Client) reply(command string, err error) {
	if apperr.CodeOf(err) == apperr.CodeUnknown || apperr.CodeOf(err) == apperr.CodeInternal {
		c.log.Error().Err(err).Str("command", command).Msg("❌ websocket command failed")
	}
	data, _ := json.Marshal(WSError{
		Type:    "error",
		Command: command,
		Code:    string(apperr.CodeOf(err)),
		Message: apperr.PublicMessage(err),
	})
	select {
	case c.replies <- data:
	default:
	}
}

// WritePump pushes hub events and command replies to the connection, and pings
// it to keep it alive.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.sub.Events():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the subscription.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}

		case data := <-c.replies:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
