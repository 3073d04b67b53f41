package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ent0n29/chorus/internal/config"
	"github.com/ent0n29/chorus/internal/memory"
)

// memwipe clears persisted conversation memory for a bot, a guild, a channel
// or a single user scope. Without -yes it only prints what would be wiped.
func main() {
	var (
		botName   = flag.String("bot", "", "bot name whose scopes to wipe (required)")
		guildID   = flag.Int64("guild", 0, "restrict to one guild id")
		channelID = flag.Int64("channel", 0, "restrict to one channel id")
		userID    = flag.Int64("user", 0, "restrict to one user id")
		cutoff    = flag.Int64("cutoff", 0, "cutoff turn id recorded on wiped scopes (0 keeps the existing cutoff)")
		yes       = flag.Bool("yes", false, "actually wipe; default is a dry run")
	)
	flag.Parse()

	if strings.TrimSpace(*botName) == "" {
		fmt.Fprintln(os.Stderr, "memwipe: -bot is required")
		flag.Usage()
		os.Exit(2)
	}
	botKey := config.SanitizeBotKey(*botName)

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		log.Fatalf("DATABASE_URL is required: memwipe operates on the persistent store only")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, err := memory.NewStore(ctx, databaseURL)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer store.Close()

	scopes, err := store.ListScopes(ctx, botKey)
	if err != nil {
		log.Fatalf("list scopes failed: %v", err)
	}

	matched := make([]memory.Scope, 0, len(scopes))
	for _, s := range scopes {
		if *guildID != 0 && s.GuildID != *guildID {
			continue
		}
		if *channelID != 0 && s.ChannelID != *channelID {
			continue
		}
		if *userID != 0 && s.UserID != *userID {
			continue
		}
		matched = append(matched, s)
	}

	if len(matched) == 0 {
		fmt.Printf("no scopes match bot=%s guild=%d channel=%d user=%d\n", botKey, *guildID, *channelID, *userID)
		return
	}

	fmt.Printf("%d scope(s) match:\n", len(matched))
	for _, s := range matched {
		describeScope(ctx, store, s)
	}

	if !*yes {
		fmt.Println("\ndry run: nothing wiped. Re-run with -yes to clear these scopes.")
		return
	}

	wiped := 0
	for _, s := range matched {
		if err := store.ClearMemory(ctx, s, *cutoff); err != nil {
			log.Printf("wipe %s failed: %v", s.Key(), err)
			continue
		}
		wiped++
	}
	fmt.Printf("wiped %d of %d scope(s)\n", wiped, len(matched))
	if wiped != len(matched) {
		os.Exit(1)
	}
}

func describeScope(ctx context.Context, store memory.Store, s memory.Scope) {
	mem, err := store.GetMemory(ctx, s, 3)
	if err != nil || mem == nil {
		fmt.Printf("  %s (no detail: %v)\n", s.Key(), err)
		return
	}
	fmt.Printf("  %s  recent_count=%d cutoff=%d summary=%d chars\n",
		s.Key(), mem.RecentCount, mem.CutoffTurnID, len(mem.Summary))
	for _, t := range mem.RecentTurns {
		fmt.Printf("    #%d %s: %s\n", t.ID, t.Role, snippet(t.Content, 80))
	}
}

func snippet(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
