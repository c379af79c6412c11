package model

import (
	"fmt"
	"time"
)

type (
	Category     string
	AgendaStatus string
)

const (
	CategoryInvestment Category = "investment"
	CategoryPipeline   Category = "pipeline"
	CategoryPortfolio  Category = "portfolio"
	CategoryOther      Category = "other"
)

// Categories lists agenda categories in rendering order.
var Categories = []Category{
	CategoryInvestment,
	CategoryPipeline,
	CategoryPortfolio,
	CategoryOther,
}

func (c Category) IsValid() bool {
	switch c {
	case CategoryInvestment, CategoryPipeline, CategoryPortfolio, CategoryOther:
		return true
	}
	return false
}

// Rank is the position of the category in the rendered agenda.
func (c Category) Rank() int {
	for i, cat := range Categories {
		if cat == c {
			return i
		}
	}
	return len(Categories)
}

// Title is the section heading used in the agenda document.
func (c Category) Title() string {
	switch c {
	case CategoryInvestment:
		return "Investment Decisions"
	case CategoryPipeline:
		return "Pipeline Review"
	case CategoryPortfolio:
		return "Portfolio Company Updates"
	case CategoryOther:
		return "Other Business"
	default:
		return fmt.Sprintf("Unknown (%s)", string(c))
	}
}

const (
	AgendaStatusOpen       AgendaStatus = "open"
	AgendaStatusFinalizing AgendaStatus = "finalizing"
	AgendaStatusFinalized  AgendaStatus = "finalized"
)

// AgendaDraft is the per-channel agenda being built for the Monday meeting.
type AgendaDraft struct {
	ID          int64        `json:"id"`
	ChannelID   string       `json:"channel_id"`
	Status      AgendaStatus `json:"status"`
	CreatedBy   string       `json:"created_by"`
	DocumentURL *string      `json:"document_url,omitempty"`
	Items       []AgendaItem `json:"items"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	FinalizedAt *time.Time   `json:"finalized_at,omitempty"`
}

// IsActive reports whether the draft still accepts work (open or mid-finalization).
func (d *AgendaDraft) IsActive() bool {
	return d.Status == AgendaStatusOpen || d.Status == AgendaStatusFinalizing
}

type AgendaItem struct {
	ID             int64     `json:"id"`
	DraftID        int64     `json:"draft_id"`
	Category       Category  `json:"category"`
	Text           string    `json:"text"`
	SubmittedBy    string    `json:"submitted_by"`
	SubmittedAt    string    `json:"submitted_at"` // event ts of the submission
	InsertionOrder int       `json:"insertion_order"`
	CreatedAt      time.Time `json:"created_at"`
}

// AgendaRecord is the archival row written to the records store after finalization.
type AgendaRecord struct {
	ChannelID   string
	MeetingDate time.Time
	DocumentURL string
	Items       []AgendaItem
}
