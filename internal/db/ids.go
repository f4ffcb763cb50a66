package db

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/zlingapp/server-sub000/internal/models"
)

const idRandomBytes = 12

// generateID builds entity ids of the form "usr_3f9c…". Bot ids are the
// exception: they carry the literal "bot:" prefix the token layer keys on.
func generateID(prefix string) (string, error) {
	b := make([]byte, idRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}

func generateBotID() (string, error) {
	b := make([]byte, idRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return models.BotIDPrefix + hex.EncodeToString(b), nil
}
