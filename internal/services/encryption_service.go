package services

import (
	"moodline/internal/crypto"
	"moodline/internal/models"
)

// EncryptionService seals the free-text fields of domain records before they
// reach the database.
type EncryptionService struct {
	cipher *crypto.Cipher
}

func NewEncryptionService(hexKey string) (*EncryptionService, error) {
	c, err := crypto.NewCipherFromHex(hexKey)
	if err != nil {
		return nil, err
	}
	return &EncryptionService{cipher: c}, nil
}

// SealSample encrypts notes in place.
func (s *EncryptionService) SealSample(sample *models.MoodSample) error {
	if sample.Notes == "" || crypto.IsSealed(sample.Notes) {
		return nil
	}
	sealed, err := s.cipher.Seal(sample.Notes)
	if err != nil {
		return err
	}
	sample.Notes = sealed
	return nil
}

// OpenSample decrypts notes in place.
func (s *EncryptionService) OpenSample(sample *models.MoodSample) error {
	notes, err := s.cipher.Open(sample.Notes)
	if err != nil {
		return err
	}
	sample.Notes = notes
	return nil
}
