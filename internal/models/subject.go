package models

import "time"

// Subject is a directory record; full subject CRUD lives outside this
// service, but transfers mutate ownership here.
type Subject struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	TeacherID *string   `db:"teacher_id" json:"teacher_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Unit is one curriculum unit belonging to a subject.
type Unit struct {
	ID        string    `db:"id" json:"id"`
	SubjectID string    `db:"subject_id" json:"subject_id"`
	Name      string    `db:"name" json:"name"`
	Position  int       `db:"position" json:"position"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Teacher is a directory record; roster management lives outside this
// service, but transfers update the owned-subject set.
type Teacher struct {
	ID         string     `db:"id" json:"id"`
	FullName   string     `db:"full_name" json:"full_name"`
	Email      string     `db:"email" json:"email"`
	SubjectIDs StringList `db:"subject_ids" json:"subject_ids"`
	Active     bool       `db:"active" json:"active"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}
