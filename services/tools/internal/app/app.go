package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"deathmatter/internal/metrics"
	"deathmatter/internal/util"
	"deathmatter/pkg/ai"
	"deathmatter/pkg/cache"
	"deathmatter/pkg/domain"
	"deathmatter/pkg/ids"
	"deathmatter/pkg/notify"
	"deathmatter/pkg/placid"
	"deathmatter/pkg/queue"
	"deathmatter/pkg/quotes"
	"deathmatter/pkg/scripture"
	"deathmatter/pkg/storage"
	"deathmatter/pkg/store"
)

const (
	defaultMaxMessagesPerDay    = 10
	defaultMaxDocumentsPerEntry = 5
	defaultMaxToolSteps         = 5
	presignExpiry               = time.Hour
)

// Renderer is the subset of the Placid API used for memorial images.
type Renderer interface {
	Templates(ctx context.Context) ([]placid.Template, error)
	CreateImage(ctx context.Context, templateUUID string, layers map[string]placid.Layer) (placid.Image, error)
	GetImage(ctx context.Context, id int64) (placid.Image, error)
}

// RenderQueue schedules polling of renders Placid has not finished yet.
type RenderQueue interface {
	Enqueue(ctx context.Context, imageID string) (queue.JobStatus, error)
}

type QuoteSearcher interface {
	Search(ctx context.Context, q quotes.Query) ([]domain.Quote, error)
}

type ScriptureSearcher interface {
	Search(ctx context.Context, faith scripture.Faith, keyword, ref string, limit int) ([]scripture.Verse, error)
}

// Config holds runtime configuration and collaborators for the application.
// Clients are constructed by main and injected here.
type Config struct {
	Store store.Store
	// ChatModel answers chat turns and direct revisions.
	ChatModel ai.ChatModel
	// GenerationModel writes obituaries. Defaults to ChatModel.
	GenerationModel ai.ChatModel
	// Titles names new chats. Optional; titles fall back to the first message.
	Titles ai.TextGenerator

	Objects   storage.ObjectStore
	Renderer  Renderer
	Renders   RenderQueue
	Quotes    QuoteSearcher
	Scripture ScriptureSearcher
	Cache     *cache.JSONCache
	Contact   notify.Publisher
	Metrics   *metrics.Metrics

	MaxMessagesPerDay    int
	MaxDocumentsPerEntry int
	MaxToolSteps         int

	Now func() time.Time
}

// App is the core application service for entries, documents and chats.
type App struct {
	store           store.Store
	chatModel       ai.ChatModel
	generationModel ai.ChatModel
	titles          ai.TextGenerator
	objects         storage.ObjectStore
	renderer        Renderer
	renders         RenderQueue
	quotes          QuoteSearcher
	scripture       ScriptureSearcher
	cache           *cache.JSONCache
	contact         notify.Publisher
	metrics         *metrics.Metrics
	validate        *validator.Validate

	maxMessagesPerDay    int
	maxDocumentsPerEntry int
	maxToolSteps         int
	now                  func() time.Time
}

func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("chat model required")
	}
	generation := cfg.GenerationModel
	if generation == nil {
		generation = cfg.ChatModel
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := ids.RegisterValidation(validate); err != nil {
		return nil, fmt.Errorf("register validation: %w", err)
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &App{
		store:                cfg.Store,
		chatModel:            cfg.ChatModel,
		generationModel:      generation,
		titles:               cfg.Titles,
		objects:              cfg.Objects,
		renderer:             cfg.Renderer,
		renders:              cfg.Renders,
		quotes:               cfg.Quotes,
		scripture:            cfg.Scripture,
		cache:                cfg.Cache,
		contact:              cfg.Contact,
		metrics:              cfg.Metrics,
		validate:             validate,
		maxMessagesPerDay:    orDefault(cfg.MaxMessagesPerDay, defaultMaxMessagesPerDay),
		maxDocumentsPerEntry: orDefault(cfg.MaxDocumentsPerEntry, defaultMaxDocumentsPerEntry),
		maxToolSteps:         orDefault(cfg.MaxToolSteps, defaultMaxToolSteps),
		now:                  now,
	}, nil
}

// EnsureUser records the caller on first sight.
func (a *App) EnsureUser(ctx context.Context, user domain.User) error {
	if strings.TrimSpace(user.ID) == "" {
		return fmt.Errorf("%w: user id required", ErrInvalidInput)
	}
	if err := a.store.EnsureUser(ctx, user); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// parseID validates an identifier exactly as sent and lowercases it.
func parseID(raw string) (string, error) {
	if !ids.Valid(raw) {
		return "", ErrInvalidID
	}
	return ids.Normalize(raw), nil
}

// check runs struct validation and reports failures as ErrInvalidInput.
func (a *App) check(v any) error {
	err := a.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Tag() == "entityid" {
			return ErrInvalidID
		}
		return fmt.Errorf("%w: %s is %s", ErrInvalidInput, lowerFirst(fe.Field()), describeTag(fe))
	}
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "max":
		return "too long"
	case "email":
		return "not a valid email"
	case "oneof":
		return "not one of " + fe.Param()
	default:
		return "invalid"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// ownedEntry loads an entry and checks that userID owns it.
func (a *App) ownedEntry(ctx context.Context, userID, rawID string) (domain.Entry, error) {
	id, err := parseID(rawID)
	if err != nil {
		return domain.Entry{}, err
	}
	entry, ok, err := a.store.GetEntry(ctx, id)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("load entry: %w", err)
	}
	if !ok {
		return domain.Entry{}, ErrEntryNotFound
	}
	if entry.UserID != userID {
		return domain.Entry{}, ErrForbidden
	}
	return entry, nil
}

// ownedDocument loads the latest version of a document and checks ownership.
func (a *App) ownedDocument(ctx context.Context, userID, rawID string) (domain.Document, error) {
	id, err := parseID(rawID)
	if err != nil {
		return domain.Document{}, err
	}
	doc, ok, err := a.store.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, fmt.Errorf("load document: %w", err)
	}
	if !ok {
		return domain.Document{}, ErrDocumentNotFound
	}
	if doc.UserID != userID {
		return domain.Document{}, ErrForbidden
	}
	return doc, nil
}

// ownedChat loads a chat and checks ownership.
func (a *App) ownedChat(ctx context.Context, userID, rawID string) (domain.Chat, error) {
	id, err := parseID(rawID)
	if err != nil {
		return domain.Chat{}, err
	}
	chat, ok, err := a.store.GetChat(ctx, id)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("load chat: %w", err)
	}
	if !ok {
		return domain.Chat{}, ErrChatNotFound
	}
	if chat.UserID != userID {
		return domain.Chat{}, ErrForbidden
	}
	return chat, nil
}

func (a *App) logger(ctx context.Context) *slog.Logger {
	return util.LoggerFromContext(ctx)
}
