package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"deathmatter/pkg/ai/aitest"
	"deathmatter/pkg/domain"
	"deathmatter/pkg/storage"
)

func TestGenerateObituarySavesDocumentOnFinish(t *testing.T) {
	model := aitest.NewScriptedModel(aitest.Text("Ada Love", "lace, mathematician, ", "died in 1852."))
	f := newFixture(t, aitest.NewScriptedModel(), func(c *Config) { c.GenerationModel = model })
	ctx := context.Background()
	if _, err := f.app.SaveEntryDetails(ctx, f.user, f.entry.ID, domain.EntryDetails{
		Occupation: "Mathematician",
		SurvivedBy: `[{"name":"Byron King","relationship":"son"}]`,
	}); err != nil {
		t.Fatalf("save details: %v", err)
	}

	gen, err := f.app.GenerateObituary(ctx, f.user, f.entry.ID, ObituaryOptions{Name: "Ada", Tone: "warm"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var chunks []string
	for _, p := range drain(gen.Stream) {
		if p.Delta != "" {
			chunks = append(chunks, p.Delta)
		}
	}
	if strings.Join(chunks, "") != "Ada Lovelace, mathematician, died in 1852." {
		t.Fatalf("unexpected text %q", strings.Join(chunks, ""))
	}
	for _, c := range chunks[:len(chunks)-1] {
		if !strings.HasSuffix(c, " ") {
			t.Fatalf("chunk %q should end on a word boundary", c)
		}
	}

	doc, ok, err := f.store.GetDocument(ctx, gen.DocumentID)
	if err != nil || !ok {
		t.Fatalf("document not saved: ok=%v err=%v", ok, err)
	}
	if doc.Title != "Obituary for Ada" || doc.Content != "Ada Lovelace, mathematician, died in 1852." || doc.TokenUsage != 13 {
		t.Fatalf("unexpected document %+v", doc)
	}

	req := model.Requests()[0]
	if req.MaxTokens != obituaryMaxTokens {
		t.Fatalf("unexpected max tokens %d", req.MaxTokens)
	}
	prompt := req.Messages[0].Content
	for _, want := range []string{"Mathematician", "Byron King (son)", "Tone: warm", "secular"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestGenerateObituaryDocumentLimit(t *testing.T) {
	f := newFixture(t, aitest.NewScriptedModel())
	for i := 1; i < defaultMaxDocumentsPerEntry; i++ {
		seedDocument(t, f.store, f.entry)
	}
	_, err := f.app.GenerateObituary(context.Background(), f.user, f.entry.ID, ObituaryOptions{Name: "Ada"})
	if !errors.Is(err, ErrDocumentLimit) {
		t.Fatalf("expected document limit, got %v", err)
	}
}

func TestGenerateObituaryFailureSavesNothing(t *testing.T) {
	model := aitest.NewScriptedModel()
	model.Err = errors.New("provider down")
	f := newFixture(t, aitest.NewScriptedModel(), func(c *Config) { c.GenerationModel = model })
	gen, err := f.app.GenerateObituary(context.Background(), f.user, f.entry.ID, ObituaryOptions{Name: "Ada"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	drain(gen.Stream)
	if _, ok, _ := f.store.GetDocument(context.Background(), gen.DocumentID); ok {
		t.Fatalf("failed generation must not save a document")
	}
}

func TestGenerateObituaryFromFile(t *testing.T) {
	model := aitest.NewScriptedModel(aitest.Text("Ada Lovelace was a pioneer."))
	objects := storage.NewMemoryStore("http://objects.test")
	f := newFixture(t, aitest.NewScriptedModel(), func(c *Config) {
		c.GenerationModel = model
		c.Objects = objects
	})
	html := `<html><body><h1>Program</h1><p>Ada wrote the first published algorithm.</p></body></html>`
	gen, err := f.app.GenerateObituaryFromFile(context.Background(), f.user, f.entry.ID, FileSource{
		Upload:       Upload{Filename: "program.html", ContentType: "text/html", Body: strings.NewReader(html)},
		Instructions: "Mention her work with Babbage",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	drain(gen.Stream)

	prompt := model.Requests()[0].Messages[0].Content
	if !strings.Contains(prompt, "Ada wrote the first published algorithm.") || strings.Contains(prompt, "<p>") {
		t.Fatalf("prompt should carry extracted text:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Mention her work with Babbage") {
		t.Fatalf("prompt missing instructions")
	}
	key := storage.SourceKey(f.user.ID, f.entry.ID, gen.DocumentID, "program.html")
	if data, _, ok := objects.Object(key); !ok || string(data) != html {
		t.Fatalf("source file not archived under %s", key)
	}
	doc, ok, _ := f.store.GetDocument(context.Background(), gen.DocumentID)
	if !ok || doc.Title != "Obituary for Ada Lovelace" {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func TestGenerateObituaryFromEmptyFile(t *testing.T) {
	f := newFixture(t, aitest.NewScriptedModel())
	_, err := f.app.GenerateObituaryFromFile(context.Background(), f.user, f.entry.ID, FileSource{
		Upload: Upload{Filename: "blank.txt", ContentType: "text/plain", Body: strings.NewReader("  \n ")},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
