package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"deathmatter/pkg/ai"
	"deathmatter/pkg/domain"
	"deathmatter/pkg/ids"
	"deathmatter/pkg/store"
	"deathmatter/pkg/uistream"
)

const (
	chatMaxTokens    = 2000
	titleMaxRunes    = 80
	titleTimeout     = 10 * time.Second
	messageWindow    = 24 * time.Hour
	defaultChatLimit = 20
	maxChatLimit     = 100
)

// ChatMessage is an incoming user turn.
type ChatMessage struct {
	ID   string
	Role string
	Text string
}

// ChatTurn is one request to continue a document's chat.
type ChatTurn struct {
	ChatID     string
	DocumentID string
	Message    ChatMessage
	Visibility domain.Visibility
}

// SendChatMessage validates the turn, creates the chat on first use, stores
// the user message and starts streaming the assistant reply. The assistant
// message is stored when the stream finishes.
func (a *App) SendChatMessage(ctx context.Context, user domain.User, turn ChatTurn) (*uistream.Stream, error) {
	chatID, err := parseID(turn.ChatID)
	if err != nil {
		return nil, err
	}
	documentID, err := parseID(turn.DocumentID)
	if err != nil {
		return nil, err
	}
	messageID := ids.New()
	if strings.TrimSpace(turn.Message.ID) != "" {
		if messageID, err = parseID(turn.Message.ID); err != nil {
			return nil, err
		}
	}
	if role := strings.TrimSpace(turn.Message.Role); role != "" && role != string(domain.RoleUser) {
		return nil, fmt.Errorf("%w: message role must be user", ErrInvalidInput)
	}
	text := strings.TrimSpace(turn.Message.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: message text required", ErrInvalidInput)
	}
	visibility := turn.Visibility
	switch visibility {
	case "":
		visibility = domain.VisibilityPrivate
	case domain.VisibilityPrivate, domain.VisibilityPublic:
	default:
		return nil, fmt.Errorf("%w: unknown visibility %q", ErrInvalidInput, visibility)
	}

	doc, err := a.ownedDocument(ctx, user.ID, documentID)
	if err != nil {
		return nil, err
	}
	chat, chatExists, err := a.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}
	if chatExists && chat.UserID != user.ID {
		return nil, ErrForbidden
	}
	if chatExists && chat.DocumentID != nil && *chat.DocumentID != doc.ID {
		return nil, fmt.Errorf("%w: chat belongs to another document", ErrInvalidInput)
	}

	now := a.now()
	sent, err := a.store.CountUserMessagesSince(ctx, user.ID, now.Add(-messageWindow))
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	if sent >= a.maxMessagesPerDay {
		a.metrics.ChatTurn("capped")
		return nil, ErrMessageCapReached
	}

	if !chatExists {
		chat = domain.Chat{
			ID:                chatID,
			UserID:            user.ID,
			EntryID:           doc.EntryID,
			Title:             a.chatTitle(ctx, text),
			DocumentID:        &doc.ID,
			DocumentCreatedAt: &doc.CreatedAt,
			Visibility:        visibility,
			CreatedAt:         now,
		}
		if err := a.store.CreateChat(ctx, chat); err != nil {
			return nil, fmt.Errorf("create chat: %w", err)
		}
	}

	history, err := a.store.ListMessagesByChat(ctx, chat.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	messages := append(historyMessages(history), ai.Message{Role: ai.RoleUser, Content: text})

	// Stored before streaming so turns still in flight count toward the cap.
	if err := a.store.SaveMessages(ctx, []domain.Message{{
		ID:        messageID,
		ChatID:    chat.ID,
		Role:      domain.RoleUser,
		Parts:     []domain.Part{{Type: "text", Text: text}},
		CreatedAt: now,
	}}); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}
	req := ai.ChatRequest{
		System:    assistantPrompt + "\n\n" + documentContextPrompt(doc),
		Messages:  messages,
		MaxTokens: chatMaxTokens,
	}

	var usage ai.Usage
	started := time.Now()
	return uistream.New(ctx, uistream.Options{
		Execute: func(ctx context.Context, w *uistream.Writer) error {
			updater := documentUpdater{app: a, userID: user.ID, w: w}
			var err error
			usage, err = a.streamReply(ctx, w, req, ai.NewToolset(updater.chatTool()))
			return err
		},
		OnFinish: func(ctx context.Context, s uistream.Summary) {
			a.metrics.ObserveStream("chat", time.Since(started).Seconds())
			a.metrics.AddTokens("chat", usage.PromptTokens, usage.CompletionTokens)
			if len(s.Parts) > 0 {
				err := a.store.SaveMessages(ctx, []domain.Message{{
					ID:        s.MessageID,
					ChatID:    chat.ID,
					Role:      domain.RoleAssistant,
					Parts:     s.Parts,
					CreatedAt: a.now(),
				}})
				if err != nil {
					a.logger(ctx).Error("save assistant message failed", "chat_id", chat.ID, "err", err)
				}
			}
			switch {
			case s.Canceled:
				a.metrics.ChatTurn("canceled")
			case s.Err != nil:
				a.metrics.ChatTurn("error")
				a.logger(ctx).Error("chat turn failed", "chat_id", chat.ID, "err", s.Err)
			default:
				a.metrics.ChatTurn("ok")
			}
		},
		ErrorText: streamErrorText,
	}), nil
}

// ReviseRequest asks for a one-off revision of a document.
type ReviseRequest struct {
	DocumentID string
	Messages   []ChatMessage
}

// Revise streams a single revision of the document. Nothing but the
// document itself is written.
func (a *App) Revise(ctx context.Context, user domain.User, in ReviseRequest) (*uistream.Stream, error) {
	documentID, err := parseID(in.DocumentID)
	if err != nil {
		return nil, err
	}
	var messages []ai.Message
	for _, m := range in.Messages {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		role := ai.RoleUser
		if m.Role == string(domain.RoleAssistant) {
			role = ai.RoleAssistant
		}
		messages = append(messages, ai.Message{Role: role, Content: text})
	}
	if len(messages) == 0 || messages[len(messages)-1].Role != ai.RoleUser {
		return nil, fmt.Errorf("%w: a user message is required", ErrInvalidInput)
	}
	doc, err := a.ownedDocument(ctx, user.ID, documentID)
	if err != nil {
		return nil, err
	}
	req := ai.ChatRequest{
		System:    revisePrompt + "\n\n" + documentContextPrompt(doc),
		Messages:  messages,
		MaxTokens: chatMaxTokens,
	}
	var usage ai.Usage
	return uistream.New(ctx, uistream.Options{
		Execute: func(ctx context.Context, w *uistream.Writer) error {
			updater := documentUpdater{app: a, userID: user.ID, w: w}
			var err error
			usage, err = a.streamReply(ctx, w, req, ai.NewToolset(updater.boundTool(doc.ID)))
			return err
		},
		OnFinish: func(ctx context.Context, s uistream.Summary) {
			a.metrics.AddTokens("revise", usage.PromptTokens, usage.CompletionTokens)
			if s.Err != nil && !s.Canceled {
				a.logger(ctx).Error("revision failed", "document_id", doc.ID, "err", s.Err)
			}
		},
		ErrorText: streamErrorText,
	}), nil
}

// streamReply forwards model text to w, running tools as the model asks.
func (a *App) streamReply(ctx context.Context, w *uistream.Writer, req ai.ChatRequest, tools *ai.Toolset) (ai.Usage, error) {
	gen := ai.Generator{
		Model:    a.chatModel,
		MaxSteps: a.maxToolSteps,
		OnToolCall: func(name string, err error) {
			status := "ok"
			if err != nil {
				status = "error"
			}
			a.metrics.ToolCall(name, status)
		},
	}
	s := gen.Stream(ctx, req, tools)
	defer s.Close()
	for s.Next() {
		if err := w.WriteText(s.Text()); err != nil {
			return s.Usage(), err
		}
	}
	if err := s.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return s.Usage(), ctxErr
		}
		a.metrics.UpstreamError("model")
		return s.Usage(), fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return s.Usage(), nil
}

func streamErrorText(err error) string {
	if errors.Is(err, ErrUpstream) {
		return "The assistant is unavailable right now. Please try again."
	}
	return "An error occurred."
}

// historyMessages converts the stored transcript to model messages. Only text
// parts are replayed.
func historyMessages(history []domain.Message) []ai.Message {
	out := make([]ai.Message, 0, len(history)+1)
	for _, m := range history {
		text := strings.TrimSpace(m.Text())
		if text == "" {
			continue
		}
		role := ai.RoleUser
		if m.Role == domain.RoleAssistant {
			role = ai.RoleAssistant
		}
		out = append(out, ai.Message{Role: role, Content: text})
	}
	return out
}

// chatTitle asks the title model for a name and falls back to the message itself.
func (a *App) chatTitle(ctx context.Context, text string) string {
	fallback := truncateRunes(strings.Join(strings.Fields(text), " "), titleMaxRunes)
	if a.titles == nil {
		return fallback
	}
	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()
	title, err := a.titles.GenerateText(ctx, titlePrompt, text)
	if err != nil {
		a.logger(ctx).Warn("chat title generation failed", "err", err)
		return fallback
	}
	title = strings.Trim(strings.TrimSpace(title), `"'`)
	if title == "" {
		return fallback
	}
	return truncateRunes(title, titleMaxRunes)
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max-3])) + "..."
}

// ListChats returns one page of the caller's chats, newest first.
func (a *App) ListChats(ctx context.Context, user domain.User, limit int, startingAfter, endingBefore string) (store.ChatPage, error) {
	if startingAfter != "" && endingBefore != "" {
		return store.ChatPage{}, fmt.Errorf("%w: only one of startingAfter or endingBefore may be set", ErrInvalidInput)
	}
	q := store.ChatPageQuery{UserID: user.ID, Limit: limit}
	if q.Limit <= 0 {
		q.Limit = defaultChatLimit
	}
	if q.Limit > maxChatLimit {
		q.Limit = maxChatLimit
	}
	var err error
	if startingAfter != "" {
		if q.StartingAfter, err = parseID(startingAfter); err != nil {
			return store.ChatPage{}, err
		}
	}
	if endingBefore != "" {
		if q.EndingBefore, err = parseID(endingBefore); err != nil {
			return store.ChatPage{}, err
		}
	}
	page, err := a.store.ListChatsByUser(ctx, q)
	if errors.Is(err, store.ErrCursorNotFound) {
		return store.ChatPage{}, fmt.Errorf("%w: unknown pagination cursor", ErrInvalidInput)
	}
	if err != nil {
		return store.ChatPage{}, fmt.Errorf("list chats: %w", err)
	}
	return page, nil
}

// ChatTranscript is a chat with its messages.
type ChatTranscript struct {
	Chat     domain.Chat      `json:"chat"`
	Messages []domain.Message `json:"messages"`
}

// GetChatMessages returns a chat's transcript. Public chats are readable by
// any signed-in user.
func (a *App) GetChatMessages(ctx context.Context, user domain.User, chatID string) (ChatTranscript, error) {
	id, err := parseID(chatID)
	if err != nil {
		return ChatTranscript{}, err
	}
	chat, ok, err := a.store.GetChat(ctx, id)
	if err != nil {
		return ChatTranscript{}, fmt.Errorf("load chat: %w", err)
	}
	if !ok {
		return ChatTranscript{}, ErrChatNotFound
	}
	if chat.UserID != user.ID && chat.Visibility != domain.VisibilityPublic {
		return ChatTranscript{}, ErrForbidden
	}
	msgs, err := a.store.ListMessagesByChat(ctx, chat.ID)
	if err != nil {
		return ChatTranscript{}, fmt.Errorf("list messages: %w", err)
	}
	return ChatTranscript{Chat: chat, Messages: msgs}, nil
}

func (a *App) UpdateChatVisibility(ctx context.Context, user domain.User, chatID string, visibility domain.Visibility) error {
	if visibility != domain.VisibilityPrivate && visibility != domain.VisibilityPublic {
		return fmt.Errorf("%w: unknown visibility %q", ErrInvalidInput, visibility)
	}
	chat, err := a.ownedChat(ctx, user.ID, chatID)
	if err != nil {
		return err
	}
	if err := a.store.UpdateChatVisibility(ctx, chat.ID, visibility); err != nil {
		return fmt.Errorf("update visibility: %w", err)
	}
	return nil
}

func (a *App) DeleteChat(ctx context.Context, user domain.User, chatID string) error {
	chat, err := a.ownedChat(ctx, user.ID, chatID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteChat(ctx, chat.ID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}

// DeleteTrailingMessages removes messageID and every later message in its
// chat, so a turn can be edited and resent.
func (a *App) DeleteTrailingMessages(ctx context.Context, user domain.User, chatID, messageID string) error {
	chat, err := a.ownedChat(ctx, user.ID, chatID)
	if err != nil {
		return err
	}
	msgID, err := parseID(messageID)
	if err != nil {
		return err
	}
	msgs, err := a.store.ListMessagesByChat(ctx, chat.ID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	for _, m := range msgs {
		if m.ID == msgID {
			if err := a.store.DeleteMessagesAfter(ctx, chat.ID, m.CreatedAt); err != nil {
				return fmt.Errorf("delete messages: %w", err)
			}
			return nil
		}
	}
	return ErrMessageNotFound
}

func (a *App) ListVotes(ctx context.Context, user domain.User, chatID string) ([]domain.Vote, error) {
	chat, err := a.ownedChat(ctx, user.ID, chatID)
	if err != nil {
		return nil, err
	}
	votes, err := a.store.ListVotesByChat(ctx, chat.ID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	return votes, nil
}

// Vote records an up or down vote on an assistant message.
func (a *App) Vote(ctx context.Context, user domain.User, chatID, messageID, kind string) error {
	var up bool
	switch kind {
	case "up":
		up = true
	case "down":
	default:
		return fmt.Errorf("%w: vote type must be up or down", ErrInvalidInput)
	}
	chat, err := a.ownedChat(ctx, user.ID, chatID)
	if err != nil {
		return err
	}
	msgID, err := parseID(messageID)
	if err != nil {
		return err
	}
	if err := a.store.VoteMessage(ctx, domain.Vote{ChatID: chat.ID, MessageID: msgID, IsUpvoted: up}); err != nil {
		return fmt.Errorf("vote: %w", err)
	}
	return nil
}
