package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"moodline/internal/models"
	"moodline/internal/store"
)

const tokenTTL = 24 * time.Hour

type SubjectAccounts interface {
	CreateSubject(ctx context.Context, s *models.Subject) error
	GetSubjectByEmail(ctx context.Context, email string) (*models.Subject, error)
}

type AuthHandler struct {
	subjects  SubjectAccounts
	jwtSecret []byte
	logger    *zap.Logger
}

func NewAuthHandler(subjects SubjectAccounts, jwtSecret []byte, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{subjects: subjects, jwtSecret: jwtSecret, logger: logger}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Timezone string `json:"timezone"`
}

func (c *credentials) normalize() bool {
	c.Email = strings.TrimSpace(strings.ToLower(c.Email))
	return c.Email != "" && c.Password != ""
}

// Signup godoc
// @Summary Register a subject
// @Tags auth
// @Accept json
// @Produce json
// @Success 201 {object} map[string]string
// @Failure 400 {string} string "Bad request"
// @Failure 409 {string} string "Email already registered"
// @Router /auth/signup [post]
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if !c.normalize() {
		http.Error(w, "email and password required", http.StatusBadRequest)
		return
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			http.Error(w, "invalid timezone", http.StatusBadRequest)
			return
		}
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(c.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "could not hash password", http.StatusInternalServerError)
		return
	}

	subject := models.Subject{Email: c.Email, PasswordHash: string(hashed), Timezone: c.Timezone}
	if err := h.subjects.CreateSubject(r.Context(), &subject); err != nil {
		if errors.Is(err, store.ErrConflict) {
			http.Error(w, "email already registered", http.StatusConflict)
			return
		}
		h.logger.Error("failed to create subject", zap.Error(err))
		http.Error(w, "could not create subject", http.StatusInternalServerError)
		return
	}

	token, err := h.issueJWT(subject.ID)
	if err != nil {
		http.Error(w, "could not issue token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token": token, "subject_id": subject.ID})
}

// Login godoc
// @Summary Exchange credentials for a bearer token
// @Tags auth
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 401 {string} string "Invalid credentials"
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if !c.normalize() {
		http.Error(w, "email and password required", http.StatusBadRequest)
		return
	}

	subject, err := h.subjects.GetSubjectByEmail(r.Context(), c.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		h.logger.Error("failed to load subject", zap.Error(err))
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(subject.PasswordHash), []byte(c.Password)) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	token, err := h.issueJWT(subject.ID)
	if err != nil {
		http.Error(w, "could not issue token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "subject_id": subject.ID})
}

func (h *AuthHandler) issueJWT(subjectID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subjectID,
		"exp": now.Add(tokenTTL).Unix(),
		"iat": now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}
