package scripture

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearchBibleSendsKeyAndStripsMarkup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "bible-key" {
			t.Errorf("missing api-key header")
		}
		if r.URL.Path != "/bibles/"+DefaultBibleID+"/search" || r.URL.Query().Get("query") != "eternal life" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`{"data":{"verses":[
			{"id":"JHN.3.16","bookId":"JHN","reference":"John 3:16","text":"For God so loved the world, <span>that he gave</span>"},
			{"id":"ROM.6.23","bookId":"ROM","reference":"Romans 6:23","text":"the gift of God is eternal life"}
		]}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BibleBaseURL: srv.URL, BibleAPIKey: "bible-key", HTTPClient: srv.Client()})
	verses, err := c.Search(context.Background(), Christianity, "eternal life", "", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(verses) != 2 || verses[0].Text != "For God so loved the world, that he gave" || verses[0].Ref != "John 3:16" {
		t.Fatalf("unexpected verses %+v", verses)
	}

	verses, err = c.Search(context.Background(), Christianity, "eternal life", "romans", 0)
	if err != nil || len(verses) != 1 || verses[0].Book != "ROM" {
		t.Fatalf("ref filter: %+v err=%v", verses, err)
	}
}

func TestSearchQuran(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/search/nothing/all/en" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":404,"data":"Nothing found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"matches":[
			{"numberInSurah":156,"surah":{"number":2,"englishName":"Al-Baqara","englishNameTranslation":"The Cow"},"text":"Indeed we belong to Allah"}
		]}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{QuranBaseURL: srv.URL, HTTPClient: srv.Client()})
	verses, err := c.Search(context.Background(), Islam, "belong", "", 10)
	if err != nil || len(verses) != 1 || verses[0].ID != "2:156" || verses[0].Book != "Al-Baqara" {
		t.Fatalf("verses=%+v err=%v", verses, err)
	}
	verses, err = c.Search(context.Background(), Islam, "nothing", "", 10)
	if err != nil || len(verses) != 0 {
		t.Fatalf("no-match search: %+v err=%v", verses, err)
	}
}

func TestSearchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(Config{BibleBaseURL: srv.URL, BibleAPIKey: "bad", HTTPClient: srv.Client()})
	_, err := c.Search(context.Background(), Christianity, "x", "", 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("unexpected error %v", err)
	}
	if _, err := c.Search(context.Background(), Faith("Other"), "x", "", 0); !errors.Is(err, ErrUnsupportedFaith) {
		t.Fatalf("expected unsupported faith, got %v", err)
	}
}

func TestParseFaith(t *testing.T) {
	if f, err := ParseFaith(" islam "); err != nil || f != Islam {
		t.Fatalf("got %v %v", f, err)
	}
	if f, err := ParseFaith("Christianity"); err != nil || f != Christianity {
		t.Fatalf("got %v %v", f, err)
	}
	if _, err := ParseFaith("druid"); !errors.Is(err, ErrUnsupportedFaith) {
		t.Fatalf("expected error")
	}
}
