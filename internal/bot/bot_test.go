package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/chorus/internal/keys"
	"github.com/ent0n29/chorus/internal/memory"
	"github.com/ent0n29/chorus/internal/persona"
	"github.com/ent0n29/chorus/internal/platform"
	"github.com/ent0n29/chorus/internal/prompt"
	"github.com/ent0n29/chorus/internal/provider"
)

const (
	selfID  = int64(999)
	diagID  = int64(777)
	chanID  = int64(100)
	guildID = int64(7)
)

type sentMessage struct {
	ChannelID int64
	Content   string
	ReplyTo   int64
	Audio     bool
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentMessage
	nextID int64
}

func (f *fakeSender) SendMessage(_ context.Context, channelID int64, content string, replyToID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentMessage{ChannelID: channelID, Content: content, ReplyTo: replyToID})
	return 5000 + f.nextID, nil
}

func (f *fakeSender) SendAudio(_ context.Context, channelID int64, _ string, _ []byte, replyToID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentMessage{ChannelID: channelID, ReplyTo: replyToID, Audio: true})
	return 5000 + f.nextID, nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

type inlinePool struct{}

func (inlinePool) Submit(job func(context.Context)) bool {
	job(context.Background())
	return true
}

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]any{"content": content},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestBot(t *testing.T, chatURL string) (*Bot, *fakeSender, *memory.InMemoryStore) {
	t.Helper()

	store := memory.NewInMemoryStore()
	keyStore := keys.NewInMemoryStore()
	if _, err := keyStore.AddKeys(context.Background(), keys.ProviderGeneration, []string{"k1"}, "", "test"); err != nil {
		t.Fatalf("AddKeys() error = %v", err)
	}

	sender := &fakeSender{}
	b, err := New(Options{
		BotName:       "Ina",
		BotKey:        "ina",
		SelfUserID:    selfID,
		DiagChannelID: diagID,
		DefaultModel:  "test-model",
		Persona:       &persona.Persona{Name: "ina", PromptBlock: "Name: Ina"},
		Store:         store,
		Buffers:       prompt.NewBufferRegistry(prompt.DefaultBufferCapacity),
		Assembler:     prompt.NewAssembler(store, nil),
		Chat:          provider.NewChatClient(chatURL, 5*time.Second),
		Keys:          keyStore,
		Sender:        sender,
		Pool:          inlinePool{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return b, sender, store
}

func userMessage(id int64, content string) platform.Message {
	return platform.Message{
		ID:         id,
		ChannelID:  chanID,
		GuildID:    guildID,
		AuthorID:   42,
		AuthorName: "ann",
		Content:    content,
		Timestamp:  time.Now().UTC(),
	}
}

func TestHandleMessageRepliesToMention(t *testing.T) {
	srv := chatServer(t, "hi ann, good to see you")
	b, sender, store := newTestBot(t, srv.URL)

	msg := userMessage(10, "hey there")
	msg.Mentions = []int64{selfID}
	b.HandleMessage(msg)

	sent := sender.messages()
	if len(sent) != 1 {
		t.Fatalf("sent = %d messages, want 1", len(sent))
	}
	if sent[0].ChannelID != chanID || sent[0].ReplyTo != 10 {
		t.Fatalf("reply = %+v, want reply to message 10 in channel", sent[0])
	}
	if sent[0].Content != "hi ann, good to see you" {
		t.Fatalf("content = %q", sent[0].Content)
	}

	scope := memory.Scope{BotKey: "ina", GuildID: guildID, ChannelID: chanID, UserID: 42}
	mem, err := store.GetMemory(context.Background(), scope, 0)
	if err != nil {
		t.Fatalf("GetMemory() error = %v", err)
	}
	if mem.RecentCount != 2 {
		t.Fatalf("RecentCount = %d, want user turn + assistant turn", mem.RecentCount)
	}
	last := mem.RecentTurns[len(mem.RecentTurns)-1]
	if last.Role != memory.RoleAssistant || last.Content != "hi ann, good to see you" {
		t.Fatalf("last turn = %+v, want persisted reply", last)
	}
}

func TestHandleMessageRecordsWithoutReplyWhenUnaddressed(t *testing.T) {
	srv := chatServer(t, "should not be called")
	b, sender, store := newTestBot(t, srv.URL)

	b.HandleMessage(userMessage(11, "talking to someone else"))

	if sent := sender.messages(); len(sent) != 0 {
		t.Fatalf("sent = %d messages, want 0", len(sent))
	}
	scope := memory.Scope{BotKey: "ina", GuildID: guildID, ChannelID: chanID, UserID: 42}
	mem, _ := store.GetMemory(context.Background(), scope, 0)
	if mem == nil || mem.RecentCount != 1 {
		t.Fatalf("unaddressed message was not recorded: %+v", mem)
	}
}

func TestHandleMessageIgnoresOwnMessages(t *testing.T) {
	srv := chatServer(t, "x")
	b, sender, store := newTestBot(t, srv.URL)

	msg := userMessage(12, "my own echo")
	msg.AuthorID = selfID
	b.HandleMessage(msg)

	if sent := sender.messages(); len(sent) != 0 {
		t.Fatalf("sent = %d, want 0", len(sent))
	}
	scopes, _ := store.ListScopes(context.Background(), "ina")
	if len(scopes) != 0 {
		t.Fatalf("scopes = %v, want none", scopes)
	}
}

func TestHandleMessageNameOnlyTrigger(t *testing.T) {
	srv := chatServer(t, "yes?")
	b, sender, _ := newTestBot(t, srv.URL)

	b.HandleMessage(userMessage(13, "Ina?"))

	if sent := sender.messages(); len(sent) != 1 {
		t.Fatalf("sent = %d, want 1 for name-only message", len(sent))
	}
}

func TestHandleMessageReplyToBotTrigger(t *testing.T) {
	srv := chatServer(t, "continuing our chat")
	b, sender, _ := newTestBot(t, srv.URL)

	msg := userMessage(14, "and another thing")
	msg.ReferencedAuthorID = selfID
	b.HandleMessage(msg)

	if sent := sender.messages(); len(sent) != 1 {
		t.Fatalf("sent = %d, want 1 for reply-to-bot", len(sent))
	}
}

func TestHandleMessageOtherBotAttribution(t *testing.T) {
	srv := chatServer(t, "x")
	b, sender, store := newTestBot(t, srv.URL)

	msg := userMessage(15, "I am another bot talking to ann")
	msg.AuthorID = 888
	msg.AuthorName = "Suma"
	msg.AuthorIsBot = true
	msg.ReferencedAuthorID = 42
	msg.Mentions = []int64{selfID}
	b.HandleMessage(msg)

	// Bots never trigger replies, even when they mention us.
	if sent := sender.messages(); len(sent) != 0 {
		t.Fatalf("sent = %d, want 0", len(sent))
	}
	scope := memory.Scope{BotKey: "ina", GuildID: guildID, ChannelID: chanID, UserID: 42}
	mem, _ := store.GetMemory(context.Background(), scope, 0)
	if mem == nil || mem.RecentCount != 1 {
		t.Fatalf("other-bot turn not charged to replied-to user: %+v", mem)
	}
	if !mem.RecentTurns[0].FromBot || mem.RecentTurns[0].Speaker != "Suma" {
		t.Fatalf("turn = %+v, want FromBot with speaker Suma", mem.RecentTurns[0])
	}
}

func TestHandleMessageDropsBotWithoutReference(t *testing.T) {
	srv := chatServer(t, "x")
	b, _, store := newTestBot(t, srv.URL)

	msg := userMessage(16, "unattributable bot noise")
	msg.AuthorID = 888
	msg.AuthorIsBot = true
	b.HandleMessage(msg)

	scopes, _ := store.ListScopes(context.Background(), "ina")
	if len(scopes) != 0 {
		t.Fatalf("scopes = %v, want none for unattributable bot message", scopes)
	}
}

func TestEmptyProviderReplyUsesFallback(t *testing.T) {
	srv := chatServer(t, "   ")
	b, sender, _ := newTestBot(t, srv.URL)

	msg := userMessage(17, "hello")
	msg.Mentions = []int64{selfID}
	b.HandleMessage(msg)

	sent := sender.messages()
	if len(sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sent))
	}
	if sent[0].Content != fallbackReply {
		t.Fatalf("content = %q, want fallback line", sent[0].Content)
	}
}

func TestProviderFailureReportsToDiagChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)
	b, sender, _ := newTestBot(t, srv.URL)

	msg := userMessage(18, "hello")
	msg.Mentions = []int64{selfID}
	b.HandleMessage(msg)

	sent := sender.messages()
	if len(sent) != 1 {
		t.Fatalf("sent = %d, want only the diag notice", len(sent))
	}
	if sent[0].ChannelID != diagID {
		t.Fatalf("notice went to channel %d, want diag %d", sent[0].ChannelID, diagID)
	}
	if !strings.Contains(sent[0].Content, "reply failed") {
		t.Fatalf("diag content = %q", sent[0].Content)
	}
}

func TestTruncateReply(t *testing.T) {
	if got := truncateReply("short"); got != "short" {
		t.Fatalf("truncateReply(short) = %q", got)
	}
	long := strings.Repeat("a", maxReplyChars+100)
	got := truncateReply(long)
	if len(got) > maxReplyChars+len("…") {
		t.Fatalf("len = %d, want <= %d", len(got), maxReplyChars+len("…"))
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("truncated reply missing ellipsis")
	}

	multibyte := strings.Repeat("é", maxReplyChars)
	got = truncateReply(multibyte)
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("multibyte truncation missing ellipsis")
	}
	for _, r := range got {
		if r != 'é' && r != '…' {
			t.Fatalf("multibyte truncation produced invalid rune %q", r)
		}
	}
}

func TestNormalizeForName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Ina", "ina"},
		{"ina?!", "ina"},
		{"  INA.  ", "ina"},
		{"ina come here", "ina come here"},
	}
	for _, tc := range cases {
		if got := normalizeForName(tc.in); got != tc.want {
			t.Fatalf("normalizeForName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
