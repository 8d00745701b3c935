package app

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"deathmatter/pkg/domain"
)

const assistantPrompt = `You are a compassionate writing assistant helping a family refine an obituary.
Answer briefly and warmly. When the user asks for a change to the obituary, call the
updateDocument tool with the complete revised text and a one-sentence description of the
change, then tell the user what you changed. Never invent facts about the deceased.`

const revisePrompt = `You revise obituaries on request. Apply the user's instructions to the
document below by calling the updateDocument tool exactly once with the complete revised
text and a one-sentence description of the change. Keep every fact that the user did not
ask you to change.`

const titlePrompt = `Write a short title (at most 60 characters) summarizing the user's first
message in a conversation about an obituary. Reply with the title only, without quotes.`

const obituarySystemPrompt = `You are an experienced obituary writer. Write a dignified,
accurate obituary in plain prose using only the facts provided. Do not use markdown
headings, lists or placeholders. Omit any detail that was not provided.`

const analyzeDocumentPrompt = `You are an experienced obituary writer. The user has supplied
a document about a person who has died, such as a eulogy, a program or a biography.
Extract the facts it contains and write a dignified obituary in plain prose. Do not use
markdown and do not invent details that are not in the document.`

func documentContextPrompt(doc domain.Document) string {
	return fmt.Sprintf("The obituary being edited has id %s and title %q. Its current content is:\n\n%s", doc.ID, doc.Title, doc.Content)
}

// ObituaryOptions are the drafting choices made on the generation form.
type ObituaryOptions struct {
	Name        string `json:"name" validate:"required,max=200"`
	Style       string `json:"style" validate:"max=100"`
	Tone        string `json:"tone" validate:"max=100"`
	ToInclude   string `json:"toInclude" validate:"max=2000"`
	ToAvoid     string `json:"toAvoid" validate:"max=2000"`
	IsReligious bool   `json:"isReligious"`
}

func obituaryPrompt(entry domain.Entry, details domain.EntryDetails, opts ObituaryOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write an obituary for %s.\n\n", entry.Name)
	b.WriteString("Facts about the deceased:\n")
	writeFact(&b, "Full name", entry.Name)
	writeFact(&b, "Date of birth", formatDate(entry.DateOfBirth))
	writeFact(&b, "Place of birth", entry.LocationBorn)
	writeFact(&b, "Date of death", formatDate(entry.DateOfDeath))
	writeFact(&b, "Place of death", entry.LocationDied)
	writeFact(&b, "Cause of death", entry.CauseOfDeath)
	writeDetails(&b, details, opts.IsReligious)

	b.WriteString("\nWriting instructions:\n")
	writeFact(&b, "Style", opts.Style)
	writeFact(&b, "Tone", opts.Tone)
	writeFact(&b, "Be sure to include", opts.ToInclude)
	writeFact(&b, "Avoid mentioning", opts.ToAvoid)
	if opts.IsReligious {
		b.WriteString("- The obituary may include religious language and references to faith.\n")
	} else {
		b.WriteString("- Keep the obituary secular.\n")
	}
	return b.String()
}

func fileObituaryPrompt(entry domain.Entry, details domain.EntryDetails, instructions, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write an obituary for %s using the document below.\n\n", entry.Name)
	b.WriteString("Known facts:\n")
	writeFact(&b, "Full name", entry.Name)
	writeFact(&b, "Date of birth", formatDate(entry.DateOfBirth))
	writeFact(&b, "Date of death", formatDate(entry.DateOfDeath))
	writeDetails(&b, details, details.Religious)
	if instructions = strings.TrimSpace(instructions); instructions != "" {
		fmt.Fprintf(&b, "\nAdditional instructions: %s\n", instructions)
	}
	fmt.Fprintf(&b, "\nDocument:\n<<<\n%s\n>>>\n", text)
	return b.String()
}

func writeDetails(b *strings.Builder, d domain.EntryDetails, religious bool) {
	writeFact(b, "Occupation", d.Occupation)
	writeFact(b, "Job title", d.JobTitle)
	writeFact(b, "Company", d.CompanyName)
	writeFact(b, "Years worked", d.YearsWorked)
	writeFact(b, "Education", d.Education)
	writeFact(b, "Accomplishments", d.Accomplishments)
	writeFact(b, "Milestones", d.Milestones)
	writeFact(b, "Biography", d.BiographicalSummary)
	writeFact(b, "Hobbies", d.Hobbies)
	writeFact(b, "Personal interests", d.PersonalInterests)
	if d.MilitaryService {
		service := strings.TrimSpace(strings.Join(nonEmpty(d.MilitaryRank, d.MilitaryBranch), ", "))
		if d.MilitaryYearsServed != "" {
			service = strings.TrimSpace(service + " (" + d.MilitaryYearsServed + ")")
		}
		if service == "" {
			service = "yes"
		}
		writeFact(b, "Military service", service)
	}
	if religious && d.Religious {
		writeFact(b, "Denomination", d.Denomination)
		writeFact(b, "Religious organization", d.Organization)
		writeFact(b, "Favorite scripture", d.FavoriteScripture)
	}
	writeFact(b, "Family", formatFamilyMembers(d.FamilyDetails))
	writeFact(b, "Survived by", formatFamilyMembers(d.SurvivedBy))
	writeFact(b, "Preceded in death by", formatFamilyMembers(d.PrecededBy))
	writeFact(b, "Services", formatServices(d.ServiceDetails))
	writeFact(b, "Donation requests", d.DonationRequests)
	writeFact(b, "Special acknowledgments", d.SpecialAcknowledgments)
	writeFact(b, "Additional notes", d.AdditionalNotes)
}

func writeFact(b *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", label, value)
}

func nonEmpty(values ...string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format("January 2, 2006")
}

// formatFamilyMembers renders a JSON list of family members as "Name (relationship)".
// Text that is not such a list is returned unchanged.
func formatFamilyMembers(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var members []domain.FamilyMember
	if err := json.Unmarshal([]byte(raw), &members); err != nil {
		return raw
	}
	parts := make([]string, 0, len(members))
	for _, m := range members {
		if strings.TrimSpace(m.Name) == "" || strings.TrimSpace(m.Relationship) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", m.Name, m.Relationship))
	}
	return strings.Join(parts, ", ")
}

type serviceDetail struct {
	Type      string `json:"type"`
	Location  string `json:"location"`
	Address   string `json:"address"`
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// formatServices renders a JSON list of services one per line. Text that is
// not such a list is returned unchanged.
func formatServices(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var services []serviceDetail
	if err := json.Unmarshal([]byte(raw), &services); err != nil {
		return raw
	}
	lines := make([]string, 0, len(services))
	for _, s := range services {
		if strings.TrimSpace(s.Location) == "" {
			continue
		}
		var line strings.Builder
		if s.Type != "" {
			line.WriteString(s.Type + ": ")
		}
		line.WriteString(s.Location)
		if s.Address != "" {
			line.WriteString(" at " + s.Address)
		}
		if s.Date != "" {
			line.WriteString(" on " + serviceDate(s.Date))
			if r := timeRange(s.StartTime, s.EndTime); r != "" {
				line.WriteString(" " + r)
			}
		}
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "; ")
}

func serviceDate(raw string) string {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("January 2, 2006")
		}
	}
	return raw
}

func timeRange(start, end string) string {
	switch {
	case start != "" && end != "":
		return "at " + clock12(start) + " - " + clock12(end)
	case start != "":
		return "at " + clock12(start)
	case end != "":
		return "until " + clock12(end)
	}
	return ""
}

// clock12 converts "15:04" to "3:04 PM".
func clock12(hhmm string) string {
	hours, minutes, ok := strings.Cut(hhmm, ":")
	if !ok {
		return hhmm
	}
	h, err := strconv.Atoi(hours)
	if err != nil {
		return hhmm
	}
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	switch {
	case h == 0:
		h = 12
	case h > 12:
		h -= 12
	}
	return fmt.Sprintf("%d:%s %s", h, minutes, suffix)
}
