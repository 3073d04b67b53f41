package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ent0n29/chorus/internal/compaction"
	"github.com/ent0n29/chorus/internal/keys"
	"github.com/ent0n29/chorus/internal/memory"
	"github.com/ent0n29/chorus/internal/observability"
	"github.com/ent0n29/chorus/internal/persona"
	"github.com/ent0n29/chorus/internal/platform"
	"github.com/ent0n29/chorus/internal/prompt"
	"github.com/ent0n29/chorus/internal/provider"
	"github.com/ent0n29/chorus/internal/voice"
)

const (
	// maxReplyChars is the platform's message length ceiling minus headroom.
	maxReplyChars = 1800

	fallbackReply = "Sorry, I lost my train of thought there. Say that again?"
)

// Submitter hands reply and persistence work to the owned pool.
type Submitter interface {
	Submit(job func(context.Context)) bool
}

// Options wires one character bot.
type Options struct {
	BotName         string
	BotKey          string
	SelfUserID      int64
	GuildID         int64
	TargetChannelID int64
	DiagChannelID   int64
	DefaultModel    string
	VoiceEnabled    bool
	VoiceMaxChars   int

	Persona   *persona.Persona
	Store     memory.Store
	Buffers   *prompt.BufferRegistry
	Assembler *prompt.Assembler
	Scheduler *compaction.Scheduler
	Chat      *provider.ChatClient
	Speech    *provider.SpeechClient
	Keys      keys.Store
	Sender    platform.Sender
	Decider   voice.Decider
	Profile   voice.Profile
	Pool      Submitter
	Metrics   *observability.Metrics
}

// Bot consumes platform messages, maintains conversation memory, and produces
// in-character replies.
type Bot struct {
	opts Options

	nameNeedle string
}

func New(opts Options) (*Bot, error) {
	if opts.Persona == nil {
		return nil, errors.New("bot: persona is required")
	}
	if opts.Store == nil || opts.Buffers == nil || opts.Assembler == nil {
		return nil, errors.New("bot: memory wiring is incomplete")
	}
	if opts.Chat == nil || opts.Keys == nil || opts.Sender == nil || opts.Pool == nil {
		return nil, errors.New("bot: provider wiring is incomplete")
	}
	if opts.Decider == nil {
		opts.Decider = voice.StaticDecider{}
	}
	return &Bot{
		opts:       opts,
		nameNeedle: strings.ToLower(strings.TrimSpace(opts.BotName)),
	}, nil
}

// HandleMessage is the gateway dispatch entry point. It records the turn
// synchronously and, when the message addresses this bot, queues a reply.
// It never blocks on provider work.
func (b *Bot) HandleMessage(msg platform.Message) {
	if msg.AuthorID == b.opts.SelfUserID {
		return
	}
	if b.opts.TargetChannelID != 0 && msg.ChannelID != b.opts.TargetChannelID {
		return
	}
	if strings.TrimSpace(msg.Content) == "" {
		return
	}

	scope, ok := b.scopeFor(msg)
	if !ok {
		return
	}

	turn := memory.Turn{
		ID:        msg.ID,
		Role:      memory.RoleUser,
		Speaker:   msg.AuthorName,
		FromBot:   msg.AuthorIsBot,
		Content:   msg.Content,
		CreatedAt: msg.Timestamp,
	}

	buf := b.opts.Buffers.For(scope)
	buf.Append(turn)
	b.recordTurn(scope, turn)

	if msg.AuthorIsBot || !b.shouldReply(msg) {
		return
	}

	submitted := b.opts.Pool.Submit(func(ctx context.Context) {
		b.reply(ctx, msg, scope, turn, buf)
	})
	if !submitted {
		log.Printf("bot: reply for %s dropped, pool saturated", scope.Key())
	}
}

// scopeFor attributes a message to a persisted scope. Messages from other
// bots land in the scope of the user they replied to; without that reference
// there is no scope to charge them to and they are dropped.
func (b *Bot) scopeFor(msg platform.Message) (memory.Scope, bool) {
	userID := msg.AuthorID
	if msg.AuthorIsBot {
		if msg.ReferencedAuthorID == 0 {
			return memory.Scope{}, false
		}
		userID = msg.ReferencedAuthorID
	}
	return memory.Scope{
		BotKey:    b.opts.BotKey,
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		UserID:    userID,
	}, true
}

// shouldReply applies the address triggers: explicit mention, reply to one of
// this bot's messages, or a message that is nothing but the bot's name.
func (b *Bot) shouldReply(msg platform.Message) bool {
	if b.opts.SelfUserID != 0 && msg.MentionsUser(b.opts.SelfUserID) {
		return true
	}
	if b.opts.SelfUserID != 0 && msg.ReferencedAuthorID == b.opts.SelfUserID {
		return true
	}
	return b.nameNeedle != "" && normalizeForName(msg.Content) == b.nameNeedle
}

func normalizeForName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Trim(s, ".,!?:;@ ")
}

func (b *Bot) reply(ctx context.Context, msg platform.Message, scope memory.Scope, trigger memory.Turn, buf *prompt.Buffer) {
	start := time.Now()

	assembled := b.opts.Assembler.Build(ctx, scope, trigger, buf)
	if b.opts.Metrics != nil {
		b.opts.Metrics.ContextTurns.Observe(float64(len(assembled.Turns)))
		if assembled.DeepHistory {
			b.opts.Metrics.DeepHistoryHits.Inc()
		}
	}

	replyText, err := b.generate(ctx, assembled, trigger)
	if err != nil {
		if errors.Is(err, provider.ErrEmptyReply) {
			replyText = fallbackReply
		} else {
			log.Printf("bot: generation for %s failed: %v", scope.Key(), err)
			b.reportFailure(ctx, err)
			return
		}
	}
	replyText = truncateReply(replyText)

	mode := b.deliver(ctx, msg, trigger.Content, replyText)
	if mode == "" {
		return
	}

	if b.opts.Metrics != nil {
		b.opts.Metrics.RepliesSent.WithLabelValues(mode).Inc()
		b.opts.Metrics.ObserveReplyLatency(time.Since(start))
	}
}

// generate assembles the chat messages and runs the provider rotation with a
// fresh key list and model override.
func (b *Bot) generate(ctx context.Context, assembled prompt.Context, trigger memory.Turn) (string, error) {
	apiKeys, err := b.opts.Keys.ListKeys(ctx, keys.ProviderGeneration)
	if err != nil {
		return "", fmt.Errorf("list generation keys: %w", err)
	}

	model := b.opts.DefaultModel
	if override, err := b.opts.Keys.ModelOverride(ctx); err == nil && override != "" {
		model = override
	}

	messages := make([]provider.ChatMessage, 0, len(assembled.Turns)+3)
	messages = append(messages, provider.ChatMessage{
		Role:    provider.RoleSystem,
		Content: b.opts.Persona.SystemPrompt(),
	})
	if summary := strings.TrimSpace(assembled.Summary); summary != "" {
		messages = append(messages, provider.ChatMessage{
			Role:    provider.RoleSystem,
			Content: "CONVERSATION SUMMARY SO FAR:\n" + summary,
		})
	}
	for _, t := range assembled.Turns {
		messages = append(messages, renderTurn(t))
	}
	messages = append(messages, renderTurn(trigger))

	out, err := b.opts.Chat.Complete(ctx, model, apiKeys, messages)
	if err != nil {
		b.countProviderError("generation", err)
		return "", err
	}
	return out, nil
}

// renderTurn maps a stored turn onto a provider chat message. Everything this
// bot did not say itself goes in as user content with a speaker prefix, so the
// model can track who said what in a shared channel.
func renderTurn(t memory.Turn) provider.ChatMessage {
	if t.Role == memory.RoleAssistant && !t.FromBot {
		return provider.ChatMessage{Role: provider.RoleAssistant, Content: t.Content}
	}
	content := t.Content
	if speaker := strings.TrimSpace(t.Speaker); speaker != "" {
		content = speaker + ": " + content
	}
	return provider.ChatMessage{Role: provider.RoleUser, Content: content}
}

// deliver sends the reply, preferring voice when requested and permitted, and
// persists the sent turn. The returned mode is "" when nothing went out.
func (b *Bot) deliver(ctx context.Context, msg platform.Message, userMessage, replyText string) string {
	scope, _ := b.scopeFor(msg)

	if b.wantsVoiceDelivery(ctx, userMessage, replyText) {
		if audio, err := b.synthesize(ctx, replyText); err != nil {
			log.Printf("bot: voice synthesis failed, falling back to text: %v", err)
		} else if sentID, err := b.opts.Sender.SendAudio(ctx, msg.ChannelID, "reply.mp3", audio, msg.ID); err != nil {
			log.Printf("bot: audio send failed, falling back to text: %v", err)
		} else {
			b.persistReply(scope, sentID, replyText)
			return voice.ModeVoice
		}
	}

	sentID, err := b.opts.Sender.SendMessage(ctx, msg.ChannelID, replyText, msg.ID)
	if err != nil {
		log.Printf("bot: send for %s failed: %v", scope.Key(), err)
		b.reportFailure(ctx, err)
		return ""
	}
	b.persistReply(scope, sentID, replyText)
	return voice.ModeText
}

func (b *Bot) wantsVoiceDelivery(ctx context.Context, userMessage, replyText string) bool {
	decision, err := b.opts.Decider.Decide(ctx, userMessage, replyText)
	if err != nil || decision.Mode != voice.ModeVoice {
		return false
	}
	allowed, reason := voice.AllowVoice(
		b.opts.VoiceEnabled,
		b.opts.Profile.VoiceID != "",
		replyText,
		b.opts.VoiceMaxChars,
	)
	if !allowed {
		log.Printf("bot: voice requested but blocked (%s)", reason)
	}
	return allowed
}

func (b *Bot) synthesize(ctx context.Context, text string) ([]byte, error) {
	if b.opts.Speech == nil {
		return nil, errors.New("speech client not configured")
	}
	speechKeys, err := b.opts.Keys.ListKeys(ctx, keys.ProviderSpeech)
	if err != nil {
		return nil, fmt.Errorf("list speech keys: %w", err)
	}
	settings := b.opts.Profile.Settings
	audio, err := b.opts.Speech.Synthesize(ctx, speechKeys, provider.SpeechRequest{
		VoiceID:  b.opts.Profile.VoiceID,
		Text:     text,
		Settings: &settings,
	})
	if err != nil {
		b.countProviderError("speech", err)
		return nil, err
	}
	return audio, nil
}

// persistReply records the bot's own message in buffer and store so it is
// part of future context.
func (b *Bot) persistReply(scope memory.Scope, sentID int64, content string) {
	if sentID == 0 {
		return
	}
	turn := memory.Turn{
		ID:        sentID,
		Role:      memory.RoleAssistant,
		Speaker:   b.opts.BotName,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	b.opts.Buffers.For(scope).Append(turn)
	b.recordTurn(scope, turn)
}

// recordTurn appends to the persistent store best-effort and nudges the
// compaction scheduler. Store failures never surface to the reply path.
func (b *Bot) recordTurn(scope memory.Scope, turn memory.Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.opts.Store.Append(ctx, scope, turn); err != nil {
		log.Printf("bot: append turn %d to %s failed: %v", turn.ID, scope.Key(), err)
		if b.opts.Metrics != nil {
			b.opts.Metrics.StoreErrors.WithLabelValues("append").Inc()
		}
		return
	}
	if b.opts.Scheduler != nil {
		b.opts.Scheduler.TurnAppended(scope)
	}
}

func (b *Bot) countProviderError(providerName string, err error) {
	if b.opts.Metrics == nil {
		return
	}
	class, ok := provider.FailureClass(err)
	if !ok {
		class = "other"
	}
	b.opts.Metrics.ProviderErrors.WithLabelValues(providerName, string(class)).Inc()
}

// reportFailure posts a short notice to the diagnostics channel instead of
// the conversation, so broken infrastructure never masquerades as the
// character going quiet mid-chat.
func (b *Bot) reportFailure(ctx context.Context, cause error) {
	if b.opts.DiagChannelID == 0 {
		return
	}
	notice := fmt.Sprintf("[%s] reply failed: %v", b.opts.BotName, cause)
	if len(notice) > maxReplyChars {
		notice = notice[:maxReplyChars]
	}
	if _, err := b.opts.Sender.SendMessage(ctx, b.opts.DiagChannelID, notice, 0); err != nil {
		log.Printf("bot: diag report failed: %v", err)
	}
}

// truncateReply enforces the platform length ceiling, cutting on a rune
// boundary and marking the cut.
func truncateReply(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxReplyChars {
		return s
	}
	runes := []rune(s)
	total := 0
	for i, r := range runes {
		total += len(string(r))
		if total > maxReplyChars {
			return strings.TrimSpace(string(runes[:i])) + "…"
		}
	}
	return s
}
