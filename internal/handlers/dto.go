package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"moodline/internal/models"
)

// SubjectDTO is the profile as returned by /api/me. The password hash never
// leaves the store.
type SubjectDTO struct {
	ID                 string  `json:"id"`
	Email              string  `json:"email"`
	CreatedAt          string  `json:"created_at"`
	FirstName          *string `json:"first_name,omitempty"`
	LastName           *string `json:"last_name,omitempty"`
	Timezone           string  `json:"timezone"`
	ResponsiblePartyID *string `json:"responsible_party_id,omitempty"`
	IsAdmin            bool    `json:"is_admin"`
}

func ToSubjectDTO(s models.Subject) SubjectDTO {
	tz := s.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return SubjectDTO{
		ID:                 s.ID,
		Email:              s.Email,
		CreatedAt:          s.CreatedAt.Format(time.RFC3339),
		FirstName:          s.FirstName,
		LastName:           s.LastName,
		Timezone:           tz,
		ResponsiblePartyID: s.ResponsiblePartyID,
		IsAdmin:            s.IsAdmin,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// queryInt reads a positive integer query parameter. A missing value yields
// def; a malformed or non-positive one reports ok=false.
func queryInt(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
