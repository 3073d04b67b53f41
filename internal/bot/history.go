package bot

import (
	"context"

	"github.com/ent0n29/chorus/internal/memory"
	"github.com/ent0n29/chorus/internal/platform"
)

// PlatformHistory adapts the platform message API to the prompt assembler's
// history collaborator, mapping raw channel messages onto turns.
type PlatformHistory struct {
	reader     platform.HistoryReader
	selfUserID int64
}

func NewPlatformHistory(reader platform.HistoryReader, selfUserID int64) *PlatformHistory {
	return &PlatformHistory{reader: reader, selfUserID: selfUserID}
}

func (h *PlatformHistory) FetchHistory(ctx context.Context, channelID int64, beforeTurnID int64, limit int) ([]memory.Turn, error) {
	msgs, err := h.reader.ChannelMessages(ctx, channelID, beforeTurnID, limit)
	if err != nil {
		return nil, err
	}
	turns := make([]memory.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		role := memory.RoleUser
		if m.AuthorID == h.selfUserID {
			role = memory.RoleAssistant
		}
		turns = append(turns, memory.Turn{
			ID:        m.ID,
			Role:      role,
			Speaker:   m.AuthorName,
			FromBot:   m.AuthorIsBot && m.AuthorID != h.selfUserID,
			Content:   m.Content,
			CreatedAt: m.Timestamp,
		})
	}
	return turns, nil
}
