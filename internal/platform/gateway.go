package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	opDispatch     = 0
	opHeartbeat    = 1
	opIdentify     = 2
	opHello        = 10
	opHeartbeatACK = 11

	// guilds + guild messages + message content
	gatewayIntents = 1<<0 | 1<<9 | 1<<15

	gatewayWriteTimeout = 5 * time.Second
	helloTimeout        = 10 * time.Second
	reconnectFloor      = 2 * time.Second
	reconnectCeil       = 60 * time.Second
)

// MessageHandler receives every MESSAGE_CREATE dispatch. It must not block:
// long work belongs on the caller's pool.
type MessageHandler func(Message)

// Gateway is a websocket event client for the chat platform. It identifies,
// heartbeats, and fans MESSAGE_CREATE dispatches out to a handler. Everything
// else on the socket is ignored.
type Gateway struct {
	wsURL   string
	token   string
	handler MessageHandler
	dialer  websocket.Dialer

	writeMu sync.Mutex
	connID  string
}

func NewGateway(wsURL, token string, handler MessageHandler) (*Gateway, error) {
	wsURL = strings.TrimSpace(wsURL)
	if wsURL == "" {
		return nil, errors.New("gateway url is required")
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("gateway token is required")
	}
	if handler == nil {
		return nil, errors.New("gateway handler is required")
	}
	return &Gateway{
		wsURL:   wsURL,
		token:   token,
		handler: handler,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

type gatewayFrame struct {
	Op int             `json:"op"`
	T  string          `json:"t,omitempty"`
	S  *int64          `json:"s,omitempty"`
	D  json.RawMessage `json:"d,omitempty"`
}

type helloPayload struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type identifyPayload struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type messageCreatePayload struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Bot      bool   `json:"bot"`
	} `json:"author"`
	Mentions []struct {
		ID string `json:"id"`
	} `json:"mentions"`
	ReferencedMessage *struct {
		Author struct {
			ID string `json:"id"`
		} `json:"author"`
	} `json:"referenced_message"`
}

// Run connects and keeps the session alive until ctx is cancelled,
// reconnecting with capped backoff after any connection failure.
func (g *Gateway) Run(ctx context.Context) error {
	backoff := reconnectFloor
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.connID = uuid.NewString()[:8]
		err := g.runConn(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("gateway[%s]: session ended: %v; reconnecting in %s", g.connID, err, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectCeil {
			backoff = reconnectCeil
		}
	}
}

func (g *Gateway) runConn(ctx context.Context) error {
	conn, resp, err := g.dialer.DialContext(ctx, g.wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("gateway dial failed (%s): %w", resp.Status, err)
		}
		return fmt.Errorf("gateway dial failed: %w", err)
	}
	defer conn.Close()

	msgs := make(chan gatewayFrame, 256)
	errs := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go g.readFrames(conn, msgs, errs, done)

	interval, err := g.awaitHello(ctx, msgs, errs)
	if err != nil {
		return err
	}

	identify := gatewayFrame{Op: opIdentify}
	identify.D, _ = json.Marshal(identifyPayload{
		Token:   g.token,
		Intents: gatewayIntents,
		Properties: identifyProperties{
			OS:      "linux",
			Browser: "chorus",
			Device:  "chorus",
		},
	})
	if err := g.writeFrame(conn, identify); err != nil {
		return fmt.Errorf("gateway identify: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastSeq *int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			return err
		case <-ticker.C:
			beat := gatewayFrame{Op: opHeartbeat}
			beat.D, _ = json.Marshal(lastSeq)
			if err := g.writeFrame(conn, beat); err != nil {
				return fmt.Errorf("gateway heartbeat: %w", err)
			}
		case frame, ok := <-msgs:
			if !ok {
				select {
				case err := <-errs:
					return err
				default:
				}
				return errors.New("gateway connection closed")
			}
			if frame.S != nil {
				lastSeq = frame.S
			}
			if frame.Op != opDispatch || frame.T != "MESSAGE_CREATE" {
				continue
			}
			msg, err := parseMessageCreate(frame.D)
			if err != nil {
				log.Printf("gateway[%s]: message parse: %v", g.connID, err)
				continue
			}
			g.handler(msg)
		}
	}
}

// readFrames feeds decoded frames to msgs until the socket fails or done
// closes. The done select keeps a full buffer from pinning the goroutine
// after the session has already ended.
func (g *Gateway) readFrames(conn *websocket.Conn, msgs chan<- gatewayFrame, errs chan<- error, done <-chan struct{}) {
	defer close(msgs)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case errs <- err:
			default:
			}
			return
		}
		var frame gatewayFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("gateway[%s]: bad frame: %v", g.connID, err)
			continue
		}
		select {
		case msgs <- frame:
		case <-done:
			return
		}
	}
}

func (g *Gateway) awaitHello(ctx context.Context, msgs <-chan gatewayFrame, errs <-chan error) (time.Duration, error) {
	deadline := time.NewTimer(helloTimeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline.C:
			return 0, errors.New("gateway hello timeout")
		case err := <-errs:
			return 0, err
		case frame, ok := <-msgs:
			if !ok {
				return 0, errors.New("gateway closed before hello")
			}
			if frame.Op != opHello {
				continue
			}
			var hello helloPayload
			if err := json.Unmarshal(frame.D, &hello); err != nil {
				return 0, fmt.Errorf("gateway hello parse: %w", err)
			}
			if hello.HeartbeatInterval <= 0 {
				return 0, errors.New("gateway hello missing heartbeat interval")
			}
			return time.Duration(hello.HeartbeatInterval) * time.Millisecond, nil
		}
	}
}

func (g *Gateway) writeFrame(conn *websocket.Conn, frame gatewayFrame) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(gatewayWriteTimeout))
	defer conn.SetWriteDeadline(time.Time{})
	return conn.WriteJSON(frame)
}

func parseMessageCreate(raw json.RawMessage) (Message, error) {
	var p messageCreatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:          parseSnowflake(p.ID),
		ChannelID:   parseSnowflake(p.ChannelID),
		GuildID:     parseSnowflake(p.GuildID),
		AuthorID:    parseSnowflake(p.Author.ID),
		AuthorName:  p.Author.Username,
		AuthorIsBot: p.Author.Bot,
		Content:     p.Content,
	}
	if msg.ID == 0 || msg.ChannelID == 0 {
		return Message{}, errors.New("message missing id or channel")
	}
	for _, m := range p.Mentions {
		if id := parseSnowflake(m.ID); id != 0 {
			msg.Mentions = append(msg.Mentions, id)
		}
	}
	if p.ReferencedMessage != nil {
		msg.ReferencedAuthorID = parseSnowflake(p.ReferencedMessage.Author.ID)
	}
	if ts, err := time.Parse(time.RFC3339, p.Timestamp); err == nil {
		msg.Timestamp = ts
	} else {
		msg.Timestamp = time.Now().UTC()
	}
	return msg, nil
}

func parseSnowflake(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
