package models

import "time"

type Subject struct {
	ID                 string    `db:"id" json:"id"`
	Email              string    `db:"email" json:"email"`
	PasswordHash       string    `db:"password_hash" json:"-"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	FirstName          *string   `db:"first_name" json:"first_name,omitempty"`
	LastName           *string   `db:"last_name" json:"last_name,omitempty"`
	Timezone           string    `db:"timezone" json:"timezone"`                                       // IANA name, e.g. "America/Bogota"
	ResponsiblePartyID *string   `db:"responsible_party_id" json:"responsible_party_id,omitempty"` // assigned clinician
	IsAdmin            bool      `db:"is_admin" json:"is_admin"`
}

// Location resolves the subject's declared timezone, falling back to UTC
// when it is empty or unknown.
func (s Subject) Location() *time.Location {
	return LoadLocation(s.Timezone)
}

func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
