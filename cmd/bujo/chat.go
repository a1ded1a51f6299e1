package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/basket/bujo/internal/ai"
	"github.com/basket/bujo/internal/rotation"
)

func runChatCommand(ctx context.Context, args []string) int {
	fs := newFlagSet("chat")
	sessionID := fs.String("session", "", "continue this session (default: start a new one)")
	userID := fs.String("user", "", "account the conversation belongs to (default: user_id from config)")
	if err := fs.Parse(args); err != nil {
		return usageCode(err)
	}
	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" {
		fmt.Fprintln(stderr, "usage: bujo chat [-session id] <prompt>")
		return 2
	}

	a, code := startApp(ctx, true)
	if a == nil {
		return code
	}
	defer a.Close()

	client, err := a.chatClient(a.keyCoordinator())
	if err != nil {
		return fail(a.logger, "", err)
	}
	user := strings.TrimSpace(*userID)
	if user == "" {
		user = a.cfg.UserID
	}
	coach := ai.NewCoach(client, a.repos, a.cfg.AI.Provider, a.cfg.AI.SystemPrompt)

	ans, err := coach.Ask(ctx, user, *sessionID, prompt)
	if err != nil {
		switch {
		case errors.Is(err, ai.ErrRateLimited):
			fmt.Fprintln(stderr, "every API key is rate limited; try again later")
		case errors.Is(err, ai.ErrNoUsableKey):
			fmt.Fprintf(stderr, "no API key configured for %s (set OPENROUTER_API_KEYS or ai.providers in config.yaml)\n", a.cfg.AI.Provider)
		default:
			fmt.Fprintf(stderr, "chat failed: %v\n", err)
		}
		if ans.SessionID != "" {
			fmt.Fprintf(stderr, "session: %s\n", ans.SessionID)
		}
		return 1
	}
	fmt.Fprintln(stdout, ans.Reply.Content)
	fmt.Fprintf(stderr, "session: %s\n", ans.SessionID)
	return 0
}

// keyView is the printable form of a rotation.Status.
type keyView struct {
	Provider      string     `json:"provider"`
	Index         int        `json:"index"`
	Key           string     `json:"key"`
	Available     bool       `json:"available"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	Failures      int        `json:"failures"`
}

func runKeysCommand(ctx context.Context, args []string) int {
	fs := newFlagSet("keys")
	jsonOutput := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return usageCode(err)
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(stderr, "usage: bujo keys [-json]")
		return 2
	}

	a, code := startApp(ctx, true)
	if a == nil {
		return code
	}
	defer a.Close()

	views := keyViews(a.keyCoordinator())
	if *jsonOutput {
		if err := writeJSON(stdout, views); err != nil {
			return fail(a.logger, "", err)
		}
		return 0
	}
	if len(views) == 0 {
		fmt.Fprintln(stdout, "no API keys configured")
		return 0
	}
	st := newStyles(isTerminal())
	for _, v := range views {
		state := st.pass.Render("available")
		if !v.Available {
			state = st.warn.Render("cooling down")
		}
		fmt.Fprintf(stdout, "%-12s #%d %s  %s\n", v.Provider, v.Index, v.Key, state)
	}
	return 0
}

func keyViews(keys *rotation.Coordinator) []keyView {
	var out []keyView
	providers := keys.Providers()
	slices.Sort(providers)
	for _, provider := range providers {
		for _, s := range keys.Snapshot(provider) {
			v := keyView{
				Provider:  provider,
				Index:     s.Index,
				Key:       s.Masked,
				Available: s.Available,
				Failures:  s.Failures,
			}
			if !s.CooldownUntil.IsZero() {
				until := s.CooldownUntil
				v.CooldownUntil = &until
			}
			out = append(out, v)
		}
	}
	return out
}
