package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/capitalize-ai/support-sync/internal/model"
)

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("content cannot be empty")
	}
	if len(content) > 100000 { // ~100KB limit
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateThreadKey parses and validates a thread key path segment.
func ValidateThreadKey(raw string) (model.ThreadKey, error) {
	key, err := model.ParseThreadKey(raw)
	if err != nil {
		return model.ThreadKey{}, errors.New("invalid thread key")
	}
	return key, nil
}

// ValidateMessageID validates a message ID. Provisional ids are accepted.
func ValidateMessageID(id string) error {
	if len(id) == 0 {
		return errors.New("message ID cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("message ID exceeds maximum length")
	}
	if strings.ContainsAny(id, "/?# ") {
		return errors.New("invalid message ID format")
	}
	return nil
}

// ValidateEmoji validates a reaction emoji.
func ValidateEmoji(emoji string) error {
	if len(emoji) == 0 {
		return errors.New("emoji cannot be empty")
	}
	if len(emoji) > 32 || !utf8.ValidString(emoji) {
		return errors.New("invalid emoji")
	}
	return nil
}

// ValidateDeleteScope validates a delete scope, defaulting to "me".
func ValidateDeleteScope(scope string) (model.DeleteScope, error) {
	switch model.DeleteScope(scope) {
	case "", model.DeleteForMe:
		return model.DeleteForMe, nil
	case model.DeleteForAll:
		return model.DeleteForAll, nil
	default:
		return "", errors.New("scope must be \"me\" or \"all\"")
	}
}
