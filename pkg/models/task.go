package models

import (
	"time"

	"github.com/lib/pq"
)

// Task represents a single task inside a project.
type Task struct {
	ID          string         `json:"id" db:"id"`                               // Unique identifier within the project
	ProjectID   string         `json:"project_id" db:"project_id"`               // Owning project
	CompanyID   string         `json:"company_id" db:"company_id"`               // Owning company (denormalized from the project)
	Text        string         `json:"text" db:"text"`                           // Task description shown to users
	Completed   bool           `json:"completed" db:"completed"`                 // Completion flag
	CompletedAt *time.Time     `json:"completed_at,omitempty" db:"completed_at"` // Nullable completion time
	CompletedBy string         `json:"completed_by,omitempty" db:"completed_by"` // Who completed it (bulk close stamps this)
	DependsOn   pq.StringArray `json:"depends_on" db:"depends_on"`               // IDs of prerequisite tasks in the same project
	IsBlocked   bool           `json:"is_blocked" db:"is_blocked"`               // Derived: any prerequisite missing or incomplete
	AssignedTo  string         `json:"assigned_to,omitempty" db:"assigned_to"`   // Assignee user ID
	DeletedAt   *time.Time     `json:"deleted_at,omitempty" db:"deleted_at"`     // Soft-delete marker
	DeletedBy   string         `json:"deleted_by,omitempty" db:"deleted_by"`     // Who soft-deleted it
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`               // Creation timestamp
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`               // Last update timestamp
}

// Project is the container tasks live in; it carries the company ownership
// the dispatcher needs to resolve integrations.
type Project struct {
	ID        string    `json:"id" db:"id"`                 // Unique identifier
	CompanyID string    `json:"company_id" db:"company_id"` // Owning company
	Name      string    `json:"name" db:"name"`             // Descriptive name
	CreatedAt time.Time `json:"created_at" db:"created_at"` // Creation timestamp
}

// DependsOnEqual reports whether two dependency sets are the same,
// ignoring order and duplicates.
func DependsOnEqual(a, b []string) bool {
	as := make(map[string]struct{}, len(a))
	for _, id := range a {
		as[id] = struct{}{}
	}
	bs := make(map[string]struct{}, len(b))
	for _, id := range b {
		bs[id] = struct{}{}
	}
	if len(as) != len(bs) {
		return false
	}
	for id := range as {
		if _, ok := bs[id]; !ok {
			return false
		}
	}
	return true
}
