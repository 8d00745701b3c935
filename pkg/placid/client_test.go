package placid

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientTemplatesAndCreateImage(t *testing.T) {
	var created map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth %q", got)
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/templates":
			_, _ = w.Write([]byte(`{"data":[{"uuid":"t1","title":"Classic"},{"uuid":"t2","title":"Modern"}]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/images":
			_ = json.NewDecoder(r.Body).Decode(&created)
			_, _ = w.Write([]byte(`{"id":42,"status":"queued"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/images/42":
			_, _ = w.Write([]byte(`{"id":42,"status":"finished","image_url":"https://cdn/42.png"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", srv.Client())
	ctx := context.Background()
	templates, err := c.Templates(ctx)
	if err != nil || len(templates) != 2 || templates[1].Title != "Modern" {
		t.Fatalf("templates=%+v err=%v", templates, err)
	}
	img, err := c.CreateImage(ctx, "t1", map[string]Layer{
		"name":     {Text: "Ada Lovelace"},
		"portrait": {Image: "https://cdn/ada.jpg"},
	})
	if err != nil || img.ID != 42 || img.Status != StatusQueued {
		t.Fatalf("create=%+v err=%v", img, err)
	}
	if created["template_uuid"] != "t1" {
		t.Fatalf("unexpected body %v", created)
	}
	layers, _ := created["layers"].(map[string]any)
	portrait, _ := layers["portrait"].(map[string]any)
	if portrait["image"] != "https://cdn/ada.jpg" {
		t.Fatalf("unexpected portrait layer %v", layers)
	}
	img, err = c.GetImage(ctx, 42)
	if err != nil || img.Status != StatusFinished || img.ImageURL == "" {
		t.Fatalf("get=%+v err=%v", img, err)
	}
}

func TestClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"template not found"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "tok", nil).CreateImage(context.Background(), "missing", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnprocessableEntity || apiErr.Message != "template not found" {
		t.Fatalf("unexpected error %v", err)
	}
}
