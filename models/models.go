package models

import "time"

// LocalOwner is the owner recorded when the service runs without authentication.
const LocalOwner = "local"

// Category is a per-owner grouping of links. The pair (Name, Owner) is unique.
type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Owner     string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Link is one categorized submission. Links are never updated, only deleted.
type Link struct {
	ID            string    `json:"id"`
	OriginalInput string    `json:"original_input"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	URL           string    `json:"url,omitempty"` // empty for free-text notes
	CategoryID    string    `json:"category_id"`
	AIDescription string    `json:"ai_description"`
	Owner         string    `json:"user_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Verdict is a classifier decision before it is bound to a stored category.
type Verdict struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	IsNew       bool   `json:"isNew"`
}

// ClassifyInput is what every classifier sees.
type ClassifyInput struct {
	Input       string
	Title       string
	Description string
	Existing    []string // category names the owner already has
}

// PageMetadata holds what could be read from a fetched page. Both fields may be empty.
type PageMetadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// LinkView is the result of a categorization as returned to clients.
type LinkView struct {
	ID            string `json:"id"`
	OriginalInput string `json:"originalInput"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	URL           string `json:"url"`
	Category      string `json:"category"`
	AIDescription string `json:"aiDescription"`
}

// CategoryWithLinks is a category listing entry.
type CategoryWithLinks struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
	LinkCount int       `json:"link_count"`
	Links     []Link    `json:"links"`
}

// SearchResult is a link joined with the name of its category.
type SearchResult struct {
	Link
	CategoryName string `json:"category_name"`
}

// Export is a point-in-time snapshot of everything an owner has stored.
type Export struct {
	Owner      string              `json:"owner"`
	ExportedAt time.Time           `json:"exported_at"`
	Categories []CategoryWithLinks `json:"categories"`
}

// CategorizeRequest is the body of a categorize call. Input is a pointer so a
// missing field and a non-string value are both rejected.
type CategorizeRequest struct {
	Input *string `json:"input"`
}

// CategorizeResponse wraps a successful categorization.
type CategorizeResponse struct {
	Success bool     `json:"success"`
	Link    LinkView `json:"link"`
}
