package domain

import (
	"encoding/json"
	"time"
)

type DocumentKind string

const (
	KindObituary DocumentKind = "obituary"
	KindEulogy   DocumentKind = "eulogy"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type ImageStatus string

const (
	ImageGenerated ImageStatus = "generated"
	ImagePending   ImageStatus = "pending"
	ImageFailed    ImageStatus = "failed"
)

type QuoteLength string

const (
	LengthShort  QuoteLength = "short"
	LengthMedium QuoteLength = "medium"
	LengthLong   QuoteLength = "long"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Entry struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	Name         string     `json:"name"`
	DateOfBirth  *time.Time `json:"dateOfBirth,omitempty"`
	DateOfDeath  *time.Time `json:"dateOfDeath,omitempty"`
	LocationBorn string     `json:"locationBorn,omitempty"`
	LocationDied string     `json:"locationDied,omitempty"`
	CauseOfDeath string     `json:"causeOfDeath,omitempty"`
	ImageKey     string     `json:"-"`
	ImageURL     string     `json:"image,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// EntryDetails holds the long-form biography collected for an entry.
// FamilyDetails, SurvivedBy and PrecededBy carry JSON arrays of FamilyMember.
type EntryDetails struct {
	EntryID                string    `json:"entryId"`
	Occupation             string    `json:"occupation,omitempty"`
	JobTitle               string    `json:"jobTitle,omitempty"`
	CompanyName            string    `json:"companyName,omitempty"`
	YearsWorked            string    `json:"yearsWorked,omitempty"`
	Education              string    `json:"education,omitempty"`
	Accomplishments        string    `json:"accomplishments,omitempty"`
	Milestones             string    `json:"milestones,omitempty"`
	BiographicalSummary    string    `json:"biographicalSummary,omitempty"`
	Hobbies                string    `json:"hobbies,omitempty"`
	PersonalInterests      string    `json:"personalInterests,omitempty"`
	MilitaryService        bool      `json:"militaryService"`
	MilitaryBranch         string    `json:"militaryBranch,omitempty"`
	MilitaryRank           string    `json:"militaryRank,omitempty"`
	MilitaryYearsServed    string    `json:"militaryYearsServed,omitempty"`
	Religious              bool      `json:"religious"`
	Denomination           string    `json:"denomination,omitempty"`
	Organization           string    `json:"organization,omitempty"`
	FavoriteScripture      string    `json:"favoriteScripture,omitempty"`
	FamilyDetails          string    `json:"familyDetails,omitempty"`
	SurvivedBy             string    `json:"survivedBy,omitempty"`
	PrecededBy             string    `json:"precededBy,omitempty"`
	ServiceDetails         string    `json:"serviceDetails,omitempty"`
	DonationRequests       string    `json:"donationRequests,omitempty"`
	SpecialAcknowledgments string    `json:"specialAcknowledgments,omitempty"`
	AdditionalNotes        string    `json:"additionalNotes,omitempty"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

type FamilyMember struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
}

// Document is identified by (ID, CreatedAt).
type Document struct {
	ID         string       `json:"id"`
	CreatedAt  time.Time    `json:"createdAt"`
	EntryID    string       `json:"entryId"`
	UserID     string       `json:"userId"`
	Title      string       `json:"title"`
	Content    string       `json:"content"`
	Kind       DocumentKind `json:"kind"`
	TokenUsage int          `json:"tokenUsage"`
}

type Chat struct {
	ID                string     `json:"id"`
	UserID            string     `json:"userId"`
	EntryID           string     `json:"entryId"`
	Title             string     `json:"title"`
	DocumentID        *string    `json:"documentId,omitempty"`
	DocumentCreatedAt *time.Time `json:"documentCreatedAt,omitempty"`
	Visibility        Visibility `json:"visibility"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// Part is one typed element of a message: "text" carries Text,
// "data-<name>" carries ID and Data.
type Part struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type Message struct {
	ID          string          `json:"id"`
	ChatID      string          `json:"chatId"`
	Role        MessageRole     `json:"role"`
	Parts       []Part          `json:"parts"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

type Vote struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	IsUpvoted bool   `json:"isUpvoted"`
}

type GeneratedImage struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	EntryID    string          `json:"entryId"`
	TemplateID string          `json:"templateId"`
	RenderID   string          `json:"renderId"`
	ImageURL   string          `json:"imageUrl,omitempty"`
	Status     ImageStatus     `json:"status"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

type SavedQuote struct {
	ID        string      `json:"id"`
	UserID    string      `json:"userId"`
	EntryID   string      `json:"entryId"`
	Quote     string      `json:"quote"`
	Citation  string      `json:"citation,omitempty"`
	Source    string      `json:"source,omitempty"`
	Length    QuoteLength `json:"length"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Quote is a search result from the quotes or scripture providers.
type Quote struct {
	Quote    string      `json:"quote"`
	Author   string      `json:"author"`
	Source   string      `json:"source"`
	Length   QuoteLength `json:"length"`
	Category string      `json:"category,omitempty"`
}

// ClassifyLength buckets quote text: short <= 100 chars, medium <= 200, long beyond.
func ClassifyLength(text string) QuoteLength {
	n := len([]rune(text))
	switch {
	case n <= 100:
		return LengthShort
	case n <= 200:
		return LengthMedium
	default:
		return LengthLong
	}
}
