package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"deathmatter/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID        string `gorm:"primaryKey"`
	Email     string `gorm:"index"`
	Name      string
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

func (UserModel) TableName() string { return "users" }

type EntryModel struct {
	ID           string `gorm:"primaryKey"`
	UserID       string `gorm:"not null;index"`
	Name         string `gorm:"not null"`
	DateOfBirth  *time.Time
	DateOfDeath  *time.Time
	LocationBorn string
	LocationDied string
	CauseOfDeath string
	ImageKey     string
	CreatedAt    time.Time `gorm:"not null;index"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (EntryModel) TableName() string { return "entries" }

type EntryDetailsModel struct {
	EntryID                string `gorm:"primaryKey"`
	Occupation             string
	JobTitle               string
	CompanyName            string
	YearsWorked            string
	Education              string `gorm:"type:text"`
	Accomplishments        string `gorm:"type:text"`
	Milestones             string `gorm:"type:text"`
	BiographicalSummary    string `gorm:"type:text"`
	Hobbies                string `gorm:"type:text"`
	PersonalInterests      string `gorm:"type:text"`
	MilitaryService        bool   `gorm:"not null;default:false"`
	MilitaryBranch         string
	MilitaryRank           string
	MilitaryYearsServed    string
	Religious              bool `gorm:"not null;default:false"`
	Denomination           string
	Organization           string
	FavoriteScripture      string `gorm:"type:text"`
	FamilyDetails          string `gorm:"type:text"`
	SurvivedBy             string `gorm:"type:text"`
	PrecededBy             string `gorm:"type:text"`
	ServiceDetails         string `gorm:"type:text"`
	DonationRequests       string `gorm:"type:text"`
	SpecialAcknowledgments string `gorm:"type:text"`
	AdditionalNotes        string `gorm:"type:text"`
	UpdatedAt              time.Time
}

func (EntryDetailsModel) TableName() string { return "entry_details" }

// DocumentModel is keyed by (id, created_at).
type DocumentModel struct {
	ID         string    `gorm:"primaryKey"`
	CreatedAt  time.Time `gorm:"primaryKey;autoCreateTime:false"`
	EntryID    string    `gorm:"not null;index"`
	UserID     string    `gorm:"not null;index"`
	Title      string    `gorm:"not null"`
	Content    string    `gorm:"type:text;not null"`
	Kind       string    `gorm:"not null;default:obituary"`
	TokenUsage int       `gorm:"not null;default:0"`
}

func (DocumentModel) TableName() string { return "documents" }

type ChatModel struct {
	ID                string `gorm:"primaryKey"`
	UserID            string `gorm:"not null;index"`
	EntryID           string `gorm:"not null;index"`
	Title             string `gorm:"not null"`
	DocumentID        *string
	DocumentCreatedAt *time.Time
	Visibility        string    `gorm:"not null;default:private"`
	CreatedAt         time.Time `gorm:"not null;index"`
}

func (ChatModel) TableName() string { return "chats" }

type MessageModel struct {
	ID          string         `gorm:"primaryKey"`
	ChatID      string         `gorm:"not null;index"`
	Role        string         `gorm:"not null"`
	Parts       datatypes.JSON `gorm:"not null"`
	Attachments datatypes.JSON
	CreatedAt   time.Time `gorm:"not null;index"`
}

func (MessageModel) TableName() string { return "messages" }

type VoteModel struct {
	ChatID    string `gorm:"primaryKey"`
	MessageID string `gorm:"primaryKey"`
	IsUpvoted bool   `gorm:"not null"`
}

func (VoteModel) TableName() string { return "votes" }

type GeneratedImageModel struct {
	ID         string `gorm:"primaryKey"`
	UserID     string `gorm:"not null;index"`
	EntryID    string `gorm:"not null;index"`
	TemplateID string `gorm:"not null"`
	RenderID   string
	ImageURL   string
	Status     string `gorm:"not null;default:generated"`
	Metadata   datatypes.JSON
	CreatedAt  time.Time `gorm:"not null;index"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (GeneratedImageModel) TableName() string { return "generated_images" }

type SavedQuoteModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index"`
	EntryID   string    `gorm:"not null;index"`
	Quote     string    `gorm:"type:text;not null"`
	Citation  string
	Source    string
	Length    string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (SavedQuoteModel) TableName() string { return "saved_quotes" }

func allModels() []any {
	return []any{
		&UserModel{}, &EntryModel{}, &EntryDetailsModel{}, &DocumentModel{}, &ChatModel{},
		&MessageModel{}, &VoteModel{}, &GeneratedImageModel{}, &SavedQuoteModel{},
	}
}

func userToModel(u domain.User) UserModel {
	return UserModel{ID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{ID: m.ID, Email: m.Email, Name: m.Name, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt}
}

func entryToModel(e domain.Entry) EntryModel {
	return EntryModel{
		ID:           e.ID,
		UserID:       e.UserID,
		Name:         e.Name,
		DateOfBirth:  e.DateOfBirth,
		DateOfDeath:  e.DateOfDeath,
		LocationBorn: e.LocationBorn,
		LocationDied: e.LocationDied,
		CauseOfDeath: e.CauseOfDeath,
		ImageKey:     e.ImageKey,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func entryFromModel(m EntryModel) domain.Entry {
	return domain.Entry{
		ID:           m.ID,
		UserID:       m.UserID,
		Name:         m.Name,
		DateOfBirth:  m.DateOfBirth,
		DateOfDeath:  m.DateOfDeath,
		LocationBorn: m.LocationBorn,
		LocationDied: m.LocationDied,
		CauseOfDeath: m.CauseOfDeath,
		ImageKey:     m.ImageKey,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func detailsToModel(d domain.EntryDetails) EntryDetailsModel {
	return EntryDetailsModel(d)
}

func detailsFromModel(m EntryDetailsModel) domain.EntryDetails {
	return domain.EntryDetails(m)
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:         d.ID,
		CreatedAt:  d.CreatedAt,
		EntryID:    d.EntryID,
		UserID:     d.UserID,
		Title:      d.Title,
		Content:    d.Content,
		Kind:       string(d.Kind),
		TokenUsage: d.TokenUsage,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:         m.ID,
		CreatedAt:  m.CreatedAt,
		EntryID:    m.EntryID,
		UserID:     m.UserID,
		Title:      m.Title,
		Content:    m.Content,
		Kind:       domain.DocumentKind(m.Kind),
		TokenUsage: m.TokenUsage,
	}
}

func chatToModel(c domain.Chat) ChatModel {
	return ChatModel{
		ID:                c.ID,
		UserID:            c.UserID,
		EntryID:           c.EntryID,
		Title:             c.Title,
		DocumentID:        c.DocumentID,
		DocumentCreatedAt: c.DocumentCreatedAt,
		Visibility:        string(c.Visibility),
		CreatedAt:         c.CreatedAt,
	}
}

func chatFromModel(m ChatModel) domain.Chat {
	return domain.Chat{
		ID:                m.ID,
		UserID:            m.UserID,
		EntryID:           m.EntryID,
		Title:             m.Title,
		DocumentID:        m.DocumentID,
		DocumentCreatedAt: m.DocumentCreatedAt,
		Visibility:        domain.Visibility(m.Visibility),
		CreatedAt:         m.CreatedAt,
	}
}

func messageToModel(msg domain.Message) (MessageModel, error) {
	parts := msg.Parts
	if parts == nil {
		parts = []domain.Part{}
	}
	raw, err := json.Marshal(parts)
	if err != nil {
		return MessageModel{}, err
	}
	model := MessageModel{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		Role:      string(msg.Role),
		Parts:     datatypes.JSON(raw),
		CreatedAt: msg.CreatedAt,
	}
	if len(msg.Attachments) > 0 {
		model.Attachments = datatypes.JSON(msg.Attachments)
	}
	return model, nil
}

func messageFromModel(m MessageModel) (domain.Message, error) {
	var parts []domain.Part
	if len(m.Parts) > 0 {
		if err := json.Unmarshal(m.Parts, &parts); err != nil {
			return domain.Message{}, err
		}
	}
	msg := domain.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Role:      domain.MessageRole(m.Role),
		Parts:     parts,
		CreatedAt: m.CreatedAt,
	}
	if len(m.Attachments) > 0 {
		msg.Attachments = json.RawMessage(m.Attachments)
	}
	return msg, nil
}

func imageToModel(img domain.GeneratedImage) GeneratedImageModel {
	model := GeneratedImageModel{
		ID:         img.ID,
		UserID:     img.UserID,
		EntryID:    img.EntryID,
		TemplateID: img.TemplateID,
		RenderID:   img.RenderID,
		ImageURL:   img.ImageURL,
		Status:     string(img.Status),
		CreatedAt:  img.CreatedAt,
		UpdatedAt:  img.UpdatedAt,
	}
	if len(img.Metadata) > 0 {
		model.Metadata = datatypes.JSON(img.Metadata)
	}
	return model
}

func imageFromModel(m GeneratedImageModel) domain.GeneratedImage {
	img := domain.GeneratedImage{
		ID:         m.ID,
		UserID:     m.UserID,
		EntryID:    m.EntryID,
		TemplateID: m.TemplateID,
		RenderID:   m.RenderID,
		ImageURL:   m.ImageURL,
		Status:     domain.ImageStatus(m.Status),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
	if len(m.Metadata) > 0 {
		img.Metadata = json.RawMessage(m.Metadata)
	}
	return img
}

func quoteToModel(q domain.SavedQuote) SavedQuoteModel {
	return SavedQuoteModel{
		ID:        q.ID,
		UserID:    q.UserID,
		EntryID:   q.EntryID,
		Quote:     q.Quote,
		Citation:  q.Citation,
		Source:    q.Source,
		Length:    string(q.Length),
		CreatedAt: q.CreatedAt,
	}
}

func quoteFromModel(m SavedQuoteModel) domain.SavedQuote {
	return domain.SavedQuote{
		ID:        m.ID,
		UserID:    m.UserID,
		EntryID:   m.EntryID,
		Quote:     m.Quote,
		Citation:  m.Citation,
		Source:    m.Source,
		Length:    domain.QuoteLength(m.Length),
		CreatedAt: m.CreatedAt,
	}
}
