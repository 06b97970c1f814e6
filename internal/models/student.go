package models

import "time"

// Student represents a learner in the roster. The roster is owned by an
// external collaborator; this service only ever reads it.
type Student struct {
	ID        string    `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Grade     int       `db:"grade" json:"grade"`
	Section   string    `db:"section" json:"section"`
	SeqNumber int       `db:"seq_number" json:"seq_number"`
	CardID    *string   `db:"card_id" json:"card_id,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	Grade     *int
	Section   string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// RosterScope narrows roster-wide queries (reconciliation, summaries) to a
// grade and/or section.
type RosterScope struct {
	Grade   *int   `json:"grade,omitempty"`
	Section string `json:"section,omitempty"`
}
