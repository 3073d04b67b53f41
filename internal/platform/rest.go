package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sender is the outbound half of the platform API used by the bot.
type Sender interface {
	SendMessage(ctx context.Context, channelID int64, content string, replyToID int64) (int64, error)
	SendAudio(ctx context.Context, channelID int64, filename string, audio []byte, replyToID int64) (int64, error)
}

// HistoryReader pages older messages out of a channel.
type HistoryReader interface {
	ChannelMessages(ctx context.Context, channelID, beforeID int64, limit int) ([]Message, error)
}

// RESTClient talks to the platform HTTP API with a bot token.
type RESTClient struct {
	apiBase string
	token   string
	client  *http.Client
}

func NewRESTClient(apiBase, token string) *RESTClient {
	return &RESTClient{
		apiBase: strings.TrimRight(strings.TrimSpace(apiBase), "/"),
		token:   strings.TrimSpace(token),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type sendMessagePayload struct {
	Content          string            `json:"content"`
	Nonce            string            `json:"nonce,omitempty"`
	MessageReference *messageReference `json:"message_reference,omitempty"`
}

type messageReference struct {
	MessageID string `json:"message_id"`
}

type messageEnvelope struct {
	ID string `json:"id"`
}

// SendMessage posts a text message, optionally as a reply, and returns the
// created message id.
func (c *RESTClient) SendMessage(ctx context.Context, channelID int64, content string, replyToID int64) (int64, error) {
	payload := sendMessagePayload{
		Content: content,
		Nonce:   uuid.NewString(),
	}
	if replyToID != 0 {
		payload.MessageReference = &messageReference{MessageID: strconv.FormatInt(replyToID, 10)}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/channels/%d/messages", c.apiBase, channelID)
	return c.postMessage(ctx, endpoint, "application/json", bytes.NewReader(body))
}

// SendAudio uploads an audio attachment via multipart, optionally as a reply.
func (c *RESTClient) SendAudio(ctx context.Context, channelID int64, filename string, audio []byte, replyToID int64) (int64, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	meta := sendMessagePayload{Nonce: uuid.NewString()}
	if replyToID != 0 {
		meta.MessageReference = &messageReference{MessageID: strconv.FormatInt(replyToID, 10)}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("encode attachment metadata: %w", err)
	}
	if err := mw.WriteField("payload_json", string(metaJSON)); err != nil {
		return 0, fmt.Errorf("write attachment metadata: %w", err)
	}

	fw, err := mw.CreateFormFile("files[0]", filename)
	if err != nil {
		return 0, fmt.Errorf("create attachment part: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return 0, fmt.Errorf("write attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return 0, fmt.Errorf("finish attachment: %w", err)
	}

	endpoint := fmt.Sprintf("%s/channels/%d/messages", c.apiBase, channelID)
	return c.postMessage(ctx, endpoint, mw.FormDataContentType(), &buf)
}

func (c *RESTClient) postMessage(ctx context.Context, endpoint, contentType string, body io.Reader) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("send message: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var env messageEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return 0, fmt.Errorf("decode message response: %w", err)
	}
	return parseSnowflake(env.ID), nil
}

// ChannelMessages fetches up to limit messages strictly older than beforeID
// (all newest messages when beforeID is zero), returned oldest-first. A
// single API request is capped at 100, so larger windows walk the before
// cursor.
func (c *RESTClient) ChannelMessages(ctx context.Context, channelID, beforeID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	newestFirst := make([]Message, 0, limit)
	cursor := beforeID
	for len(newestFirst) < limit {
		pageSize := min(limit-len(newestFirst), 100)
		page, raw, err := c.messagesPage(ctx, channelID, cursor, pageSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		newestFirst = append(newestFirst, page...)
		cursor = page[len(page)-1].ID
		if raw < pageSize {
			break
		}
	}

	out := make([]Message, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		out = append(out, newestFirst[i])
	}
	return out, nil
}

// messagesPage fetches one newest-first page and reports the raw message
// count so the caller can tell a short page from skipped parses.
func (c *RESTClient) messagesPage(ctx context.Context, channelID, beforeID int64, limit int) ([]Message, int, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if beforeID != 0 {
		q.Set("before", strconv.FormatInt(beforeID, 10))
	}
	endpoint := fmt.Sprintf("%s/channels/%d/messages?%s", c.apiBase, channelID, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bot "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, fmt.Errorf("fetch history: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var payloads []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payloads); err != nil {
		return nil, 0, fmt.Errorf("decode history: %w", err)
	}

	msgs := make([]Message, 0, len(payloads))
	for _, raw := range payloads {
		msg, err := parseMessageCreate(raw)
		if err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, len(payloads), nil
}
