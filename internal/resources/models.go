// file: internal/resources/models.go
// version: 1.0.0
// guid: 8f9a0b1c-2d3e-4f4a-9b5c-6d7e8f9a0b1c

package resources

import "time"

// School is a tenant school.
type School struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Code   string `json:"code,omitempty"`
	City   string `json:"city,omitempty"`
	Active bool   `json:"active"`
}

func (s School) CacheID() string { return s.ID }

// Book is a textbook in the curriculum.
type Book struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Class     int    `json:"class"`
	Subject   string `json:"subject"`
	Publisher string `json:"publisher,omitempty"`
	CoverURL  string `json:"coverUrl,omitempty"`
}

func (b Book) CacheID() string { return b.ID }

// Topic is a chapter or topic inside a book.
type Topic struct {
	ID       string `json:"id"`
	BookID   string `json:"bookId"`
	Title    string `json:"title"`
	Position int    `json:"position"`
	PDFURL   string `json:"pdfUrl,omitempty"`
}

func (t Topic) CacheID() string { return t.ID }

// InventoryItem is a stock line held by a school.
type InventoryItem struct {
	ID        string  `json:"id"`
	SchoolID  string  `json:"schoolId"`
	Name      string  `json:"name"`
	Category  string  `json:"category,omitempty"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

func (i InventoryItem) CacheID() string { return i.ID }

// FinanceSummary aggregates fees and expenses for a period.
type FinanceSummary struct {
	SchoolID      string  `json:"schoolId"`
	Period        string  `json:"period"`
	FeesBilled    float64 `json:"feesBilled"`
	FeesCollected float64 `json:"feesCollected"`
	Expenses      float64 `json:"expenses"`
	Outstanding   float64 `json:"outstanding"`
}

// Profile is the signed-in user.
type Profile struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Role     string   `json:"role"`
	SchoolID string   `json:"schoolId,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
}

// Notification is an inbox message.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

func (n Notification) CacheID() string { return n.ID }

// DashboardStats are the role-specific counters on the landing page.
type DashboardStats struct {
	Role     string         `json:"role"`
	Counters map[string]int `json:"counters"`
}
