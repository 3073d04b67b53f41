package platform

import "time"

// Message is one inbound chat message as seen by the bot.
type Message struct {
	ID                 int64
	ChannelID          int64
	GuildID            int64
	AuthorID           int64
	AuthorName         string
	AuthorIsBot        bool
	Content            string
	Mentions           []int64
	ReferencedAuthorID int64
	Timestamp          time.Time
}

// MentionsUser reports whether the message explicitly mentions the given id.
func (m Message) MentionsUser(id int64) bool {
	for _, u := range m.Mentions {
		if u == id {
			return true
		}
	}
	return false
}
