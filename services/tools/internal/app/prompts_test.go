package app

import (
	"strings"
	"testing"
	"time"

	"deathmatter/pkg/domain"
)

func TestFormatFamilyMembers(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", ""},
		{`[{"name":"Byron King","relationship":"son"},{"name":"Annabella","relationship":"daughter"}]`, "Byron King (son), Annabella (daughter)"},
		{`[{"name":"","relationship":"son"}]`, ""},
		{"her children", "her children"},
	}
	for _, tt := range tests {
		if got := formatFamilyMembers(tt.raw); got != tt.want {
			t.Fatalf("formatFamilyMembers(%q)=%q want %q", tt.raw, got, tt.want)
		}
	}
}

func TestFormatServices(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{
			`[{"type":"Funeral","location":"St Mary's","address":"Hucknall","date":"1852-12-03","startTime":"14:30","endTime":"16:00"}]`,
			"Funeral: St Mary's at Hucknall on December 3, 1852 at 2:30 PM - 4:00 PM",
		},
		{
			`[{"location":"Chapel","date":"1852-12-04","startTime":"00:15"},{"type":"Wake","location":""}]`,
			"Chapel on December 4, 1852 at 12:15 AM",
		},
		{
			`[{"type":"Burial","location":"Vault"},{"type":"Reception","location":"Hall","date":"1852-12-05","endTime":"12:00"}]`,
			"Burial: Vault; Reception: Hall on December 5, 1852 until 12:00 PM",
		},
		{"Private service", "Private service"},
	}
	for _, tt := range tests {
		if got := formatServices(tt.raw); got != tt.want {
			t.Fatalf("formatServices(%q)=%q want %q", tt.raw, got, tt.want)
		}
	}
}

func TestClock12(t *testing.T) {
	for in, want := range map[string]string{
		"00:05": "12:05 AM",
		"09:30": "9:30 AM",
		"12:00": "12:00 PM",
		"23:45": "11:45 PM",
		"noon":  "noon",
	} {
		if got := clock12(in); got != want {
			t.Fatalf("clock12(%q)=%q want %q", in, got, want)
		}
	}
}

func TestObituaryPrompt(t *testing.T) {
	born := time.Date(1815, time.December, 10, 0, 0, 0, 0, time.UTC)
	entry := domain.Entry{Name: "Ada Lovelace", DateOfBirth: &born, LocationBorn: "London"}
	details := domain.EntryDetails{Religious: true, Denomination: "Anglican", FavoriteScripture: "Psalm 23"}

	religious := obituaryPrompt(entry, details, ObituaryOptions{Name: "Ada", Style: "traditional", ToAvoid: "cause of death", IsReligious: true})
	for _, want := range []string{"December 10, 1815", "London", "Anglican", "Psalm 23", "traditional", "cause of death"} {
		if !strings.Contains(religious, want) {
			t.Fatalf("prompt missing %q:\n%s", want, religious)
		}
	}
	if strings.Contains(religious, "secular") {
		t.Fatalf("religious prompt should not ask for a secular obituary")
	}
	if secular := obituaryPrompt(entry, details, ObituaryOptions{Name: "Ada"}); !strings.Contains(secular, "secular") {
		t.Fatalf("secular prompt missing instruction:\n%s", secular)
	}
}
