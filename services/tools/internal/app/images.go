package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"deathmatter/pkg/domain"
	"deathmatter/pkg/ids"
	"deathmatter/pkg/placid"
	"deathmatter/pkg/queue"
)

const renderConcurrency = 4

// EpitaphInput fills the text and picture layers of every memorial template.
// An empty Portrait uses the entry's uploaded portrait.
type EpitaphInput struct {
	Name     string `json:"name" validate:"required,max=200"`
	Epitaph  string `json:"epitaph" validate:"required,max=500"`
	Citation string `json:"citation" validate:"max=200"`
	Birth    string `json:"birth" validate:"max=50"`
	Death    string `json:"death" validate:"max=50"`
	Portrait string `json:"portrait" validate:"omitempty,url"`
}

type imageMetadata struct {
	Variables    map[string]string `json:"variables"`
	TemplateName string            `json:"templateName"`
	GeneratedAt  string            `json:"generatedAt"`
}

type renderResult struct {
	template placid.Template
	image    placid.Image
	ok       bool
}

// CreateImages renders the epitaph with every Placid template in parallel.
// Templates that fail are logged and skipped; the call fails only when none
// of them could be rendered.
func (a *App) CreateImages(ctx context.Context, user domain.User, entryID string, in EpitaphInput) ([]domain.GeneratedImage, error) {
	entry, err := a.ownedEntry(ctx, user.ID, entryID)
	if err != nil {
		return nil, err
	}
	if err := a.check(in); err != nil {
		return nil, err
	}
	if a.renderer == nil {
		return nil, fmt.Errorf("%w: image rendering not configured", ErrUpstream)
	}
	portrait := strings.TrimSpace(in.Portrait)
	if portrait == "" {
		a.withImageURL(ctx, &entry)
		portrait = entry.ImageURL
	}
	variables := map[string]string{
		"portrait": portrait,
		"name":     strings.TrimSpace(in.Name),
		"epitaph":  strings.TrimSpace(in.Epitaph),
		"citation": strings.TrimSpace(in.Citation),
		"birth":    strings.TrimSpace(in.Birth),
		"death":    strings.TrimSpace(in.Death),
	}
	layers := make(map[string]placid.Layer, len(variables))
	for name, value := range variables {
		if name == "portrait" {
			if value != "" {
				layers[name] = placid.Layer{Image: value}
			}
			continue
		}
		layers[name] = placid.Layer{Text: value}
	}

	templates, err := a.renderer.Templates(ctx)
	if err != nil {
		a.metrics.UpstreamError("placid")
		return nil, fmt.Errorf("%w: list templates: %v", ErrUpstream, err)
	}
	if len(templates) == 0 {
		return nil, fmt.Errorf("%w: no templates available", ErrUpstream)
	}

	results := make([]renderResult, len(templates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(renderConcurrency)
	for i, tpl := range templates {
		g.Go(func() error {
			img, err := a.renderer.CreateImage(gctx, tpl.UUID, layers)
			if err != nil {
				a.metrics.UpstreamError("placid")
				a.logger(ctx).Warn("render template failed", "template", tpl.UUID, "err", err)
				return nil
			}
			if img.Status == placid.StatusError {
				a.logger(ctx).Warn("template render reported error", "template", tpl.UUID, "render_id", img.ID)
				return nil
			}
			results[i] = renderResult{template: tpl, image: img, ok: true}
			return nil
		})
	}
	_ = g.Wait()

	now := a.now()
	var images []domain.GeneratedImage
	for _, r := range results {
		if !r.ok {
			continue
		}
		title := r.template.Title
		if title == "" {
			title = "Unknown template"
		}
		meta, err := json.Marshal(imageMetadata{Variables: variables, TemplateName: title, GeneratedAt: now.Format(time.RFC3339)})
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		img := domain.GeneratedImage{
			ID:         ids.New(),
			UserID:     user.ID,
			EntryID:    entry.ID,
			TemplateID: r.template.UUID,
			RenderID:   strconv.FormatInt(r.image.ID, 10),
			Status:     domain.ImageGenerated,
			ImageURL:   r.image.ImageURL,
			Metadata:   meta,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if r.image.Status != placid.StatusFinished || r.image.ImageURL == "" {
			img.Status = domain.ImagePending
		}
		images = append(images, img)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: every template failed to render", ErrUpstream)
	}
	if err := a.store.SaveGeneratedImages(ctx, images); err != nil {
		return nil, fmt.Errorf("save images: %w", err)
	}
	for _, img := range images {
		if img.Status != domain.ImagePending || a.renders == nil {
			continue
		}
		if _, err := a.renders.Enqueue(ctx, img.ID); err != nil {
			a.logger(ctx).Warn("enqueue render poll failed", "image_id", img.ID, "err", err)
		}
	}
	return images, nil
}

// ListImages returns the entry's images, refreshing any still pending.
func (a *App) ListImages(ctx context.Context, user domain.User, entryID string) ([]domain.GeneratedImage, error) {
	entry, err := a.ownedEntry(ctx, user.ID, entryID)
	if err != nil {
		return nil, err
	}
	images, err := a.store.ListImagesByEntry(ctx, user.ID, entry.ID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	for i := range images {
		if images[i].Status != domain.ImagePending {
			continue
		}
		if updated, err := a.refreshImage(ctx, images[i]); err != nil {
			a.logger(ctx).Warn("refresh render failed", "image_id", images[i].ID, "err", err)
		} else {
			images[i] = updated
		}
	}
	return images, nil
}

func (a *App) DeleteImage(ctx context.Context, user domain.User, imageID string) error {
	id, err := parseID(imageID)
	if err != nil {
		return err
	}
	img, ok, err := a.store.GetImage(ctx, id)
	if err != nil {
		return fmt.Errorf("load image: %w", err)
	}
	if !ok {
		return ErrImageNotFound
	}
	if img.UserID != user.ID {
		return ErrForbidden
	}
	if err := a.store.DeleteImage(ctx, img.ID); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}

// PollRender is the render queue handler. It returns queue.ErrRetry while
// Placid is still working on the image.
func (a *App) PollRender(ctx context.Context, job queue.JobStatus) error {
	img, ok, err := a.store.GetImage(ctx, job.ImageID)
	if err != nil {
		return fmt.Errorf("load image: %w", err)
	}
	if !ok || img.Status != domain.ImagePending {
		return nil
	}
	updated, err := a.refreshImage(ctx, img)
	if err != nil {
		return err
	}
	if updated.Status == domain.ImagePending {
		return queue.ErrRetry
	}
	return nil
}

// refreshImage asks Placid for the render state and stores any change.
func (a *App) refreshImage(ctx context.Context, img domain.GeneratedImage) (domain.GeneratedImage, error) {
	if a.renderer == nil {
		return img, errors.New("image rendering not configured")
	}
	renderID, err := strconv.ParseInt(img.RenderID, 10, 64)
	if err != nil {
		return img, fmt.Errorf("render id %q: %w", img.RenderID, err)
	}
	remote, err := a.renderer.GetImage(ctx, renderID)
	if err != nil {
		a.metrics.UpstreamError("placid")
		return img, fmt.Errorf("get render: %w", err)
	}
	switch {
	case remote.Status == placid.StatusFinished && remote.ImageURL != "":
		img.Status, img.ImageURL = domain.ImageGenerated, remote.ImageURL
	case remote.Status == placid.StatusError:
		img.Status = domain.ImageFailed
	default:
		return img, nil
	}
	if err := a.store.UpdateImageStatus(ctx, img.ID, img.Status, img.ImageURL); err != nil {
		return img, fmt.Errorf("update image: %w", err)
	}
	img.UpdatedAt = a.now()
	return img, nil
}
