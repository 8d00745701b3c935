package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"deathmatter/pkg/ai"
	"deathmatter/pkg/domain"
	"deathmatter/pkg/extract"
	"deathmatter/pkg/ids"
	"deathmatter/pkg/storage"
	"deathmatter/pkg/uistream"
)

const (
	obituaryMaxTokens = 1000
	maxSourceRunes    = 24000
)

// Generation is an obituary being written. The document is saved under
// DocumentID once Stream finishes successfully.
type Generation struct {
	DocumentID string
	Stream     *uistream.Stream
}

// GenerateObituary drafts an obituary from the entry, its details and the
// form options.
func (a *App) GenerateObituary(ctx context.Context, user domain.User, entryID string, opts ObituaryOptions) (Generation, error) {
	entry, err := a.ownedEntry(ctx, user.ID, entryID)
	if err != nil {
		return Generation{}, err
	}
	if err := a.check(opts); err != nil {
		return Generation{}, err
	}
	if err := a.checkDocumentLimit(ctx, entry.ID); err != nil {
		return Generation{}, err
	}
	details, _, err := a.store.GetEntryDetails(ctx, entry.ID)
	if err != nil {
		return Generation{}, fmt.Errorf("load details: %w", err)
	}
	req := ai.ChatRequest{
		System:    obituarySystemPrompt,
		Messages:  []ai.Message{{Role: ai.RoleUser, Content: obituaryPrompt(entry, details, opts)}},
		MaxTokens: obituaryMaxTokens,
	}
	return a.startGeneration(ctx, user, entry, strings.TrimSpace(opts.Name), "form", ids.New(), req), nil
}

// FileSource is an uploaded document to write an obituary from.
type FileSource struct {
	Upload       Upload
	Name         string
	Instructions string
}

// GenerateObituaryFromFile extracts the text of an uploaded PDF, HTML or text
// file, archives the original and drafts an obituary from it.
func (a *App) GenerateObituaryFromFile(ctx context.Context, user domain.User, entryID string, src FileSource) (Generation, error) {
	entry, err := a.ownedEntry(ctx, user.ID, entryID)
	if err != nil {
		return Generation{}, err
	}
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = entry.Name
	}
	if src.Upload.Body == nil {
		return Generation{}, fmt.Errorf("%w: file required", ErrInvalidInput)
	}
	if err := a.checkDocumentLimit(ctx, entry.ID); err != nil {
		return Generation{}, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(src.Upload.Body); err != nil {
		return Generation{}, fmt.Errorf("%w: read upload: %v", ErrInvalidInput, err)
	}
	text, err := extract.Text(ctx, src.Upload.Filename, src.Upload.ContentType, buf.Bytes())
	if errors.Is(err, extract.ErrNoText) {
		return Generation{}, fmt.Errorf("%w: no readable text in file", ErrInvalidInput)
	}
	if err != nil {
		return Generation{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	text = extract.Truncate(text, maxSourceRunes)

	documentID := ids.New()
	if a.objects != nil {
		key := storage.SourceKey(user.ID, entry.ID, documentID, src.Upload.Filename)
		if err := a.objects.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), src.Upload.ContentType); err != nil {
			a.logger(ctx).Warn("archive source file failed", "entry_id", entry.ID, "key", key, "err", err)
		}
	}
	details, _, err := a.store.GetEntryDetails(ctx, entry.ID)
	if err != nil {
		return Generation{}, fmt.Errorf("load details: %w", err)
	}
	req := ai.ChatRequest{
		System:    analyzeDocumentPrompt,
		Messages:  []ai.Message{{Role: ai.RoleUser, Content: fileObituaryPrompt(entry, details, src.Instructions, text)}},
		MaxTokens: obituaryMaxTokens,
	}
	return a.startGeneration(ctx, user, entry, name, "file", documentID, req), nil
}

// startGeneration streams the model's text in whole words and saves the
// document with its token usage when the model is done.
func (a *App) startGeneration(ctx context.Context, user domain.User, entry domain.Entry, name, source, documentID string, req ai.ChatRequest) Generation {
	if name == "" {
		name = entry.Name
	}
	var (
		usage ai.Usage
		full  string
	)
	started := time.Now()
	stream := uistream.New(ctx, uistream.Options{
		Execute: func(ctx context.Context, w *uistream.Writer) error {
			gen := ai.Generator{Model: a.generationModel, MaxSteps: 1}
			s := gen.Stream(ctx, req, nil)
			defer s.Close()
			var chunker ai.WordChunker
			for s.Next() {
				for _, chunk := range chunker.Push(s.Text()) {
					if err := w.WriteText(chunk); err != nil {
						return err
					}
				}
			}
			if err := w.WriteText(chunker.Flush()); err != nil {
				return err
			}
			usage, full = s.Usage(), s.FullText()
			if err := s.Err(); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				a.metrics.UpstreamError("model")
				return fmt.Errorf("%w: %v", ErrUpstream, err)
			}
			return nil
		},
		OnFinish: func(ctx context.Context, s uistream.Summary) {
			a.metrics.ObserveStream("obituary", time.Since(started).Seconds())
			a.metrics.AddTokens("obituary", usage.PromptTokens, usage.CompletionTokens)
			log := a.logger(ctx).With("entry_id", entry.ID, "document_id", documentID)
			if s.Err != nil || s.Canceled {
				log.Warn("obituary generation did not finish", "canceled", s.Canceled, "err", s.Err)
				return
			}
			content := strings.TrimSpace(full)
			if content == "" {
				log.Warn("obituary generation produced no text")
				return
			}
			doc := domain.Document{
				ID:         documentID,
				EntryID:    entry.ID,
				UserID:     user.ID,
				Title:      "Obituary for " + name,
				Content:    content,
				Kind:       domain.KindObituary,
				TokenUsage: usage.TotalTokens,
			}
			if err := a.store.CreateDocument(ctx, doc); err != nil {
				log.Error("save obituary failed", "err", err)
				return
			}
			a.metrics.Generated(source)
			log.Info("obituary saved", "tokens", usage.TotalTokens)
		},
		ErrorText: streamErrorText,
	})
	return Generation{DocumentID: documentID, Stream: stream}
}
