package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/basket/bujo/internal/model"
	"github.com/basket/bujo/internal/repository"
	"github.com/basket/bujo/internal/shared"
)

var ErrEmptyPrompt = errors.New("empty prompt")

const sessionTitleRunes = 48

// Coach runs persisted conversations for a user on top of Client.
type Coach struct {
	client       *Client
	repos        *repository.Set
	provider     string
	systemPrompt string
}

func NewCoach(client *Client, repos *repository.Set, provider, systemPrompt string) *Coach {
	return &Coach{client: client, repos: repos, provider: provider, systemPrompt: systemPrompt}
}

// Answer is the assistant turn plus the session it was stored in.
type Answer struct {
	SessionID string
	Reply     Reply
}

// Ask appends text to the session, creating one when sessionID is empty or
// unknown for the user, and stores the assistant's reply. The user turn is
// kept even when the provider call fails.
func (c *Coach) Ask(ctx context.Context, userID, sessionID, text string) (Answer, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Answer{}, ErrEmptyPrompt
	}
	userID = shared.NormalizeUserID(userID)

	session, err := c.session(ctx, userID, sessionID, text)
	if err != nil {
		return Answer{}, err
	}
	history, err := c.repos.Messages.BySession(ctx, userID, session.ID)
	if err != nil {
		return Answer{}, fmt.Errorf("load conversation: %w", err)
	}

	msgs := make([]Message, 0, len(history)+2)
	if c.systemPrompt != "" {
		msgs = append(msgs, Message{Role: model.RoleSystem, Content: c.systemPrompt})
	}
	for _, m := range history {
		msgs = append(msgs, Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, Message{Role: model.RoleUser, Content: text})

	if err := c.repos.Messages.Save(ctx, &model.AIMessage{
		UserID:    userID,
		SessionID: session.ID,
		Role:      model.RoleUser,
		Content:   text,
	}); err != nil {
		return Answer{}, fmt.Errorf("save prompt: %w", err)
	}

	reply, err := c.client.SendChatMessage(ctx, c.provider, msgs)
	if err != nil {
		return Answer{SessionID: session.ID}, err
	}

	if err := c.repos.Messages.Save(ctx, &model.AIMessage{
		UserID:    userID,
		SessionID: session.ID,
		Role:      model.RoleAssistant,
		Content:   reply.Content,
	}); err != nil {
		return Answer{}, fmt.Errorf("save reply: %w", err)
	}
	return Answer{SessionID: session.ID, Reply: reply}, nil
}

func (c *Coach) session(ctx context.Context, userID, sessionID, text string) (*model.AISession, error) {
	id := sessionID
	if sessionID != "" {
		s, found, err := c.repos.Sessions.Get(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		if found && s.UserID == userID {
			return s, nil
		}
		if found {
			// Another user's session; start a fresh one.
			id = ""
		}
	}
	s := &model.AISession{
		ID:       id,
		UserID:   userID,
		Title:    title(text),
		Provider: c.provider,
	}
	if err := c.repos.Sessions.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

func title(text string) string {
	r := []rune(strings.Join(strings.Fields(text), " "))
	if len(r) <= sessionTitleRunes {
		return string(r)
	}
	return string(r[:sessionTitleRunes]) + "..."
}
