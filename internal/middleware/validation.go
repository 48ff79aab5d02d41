package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

// maxTurnLength caps a single user turn at ~8KB. Longer input is a malformed
// request, not a conversation.
const maxTurnLength = 8000

// ValidateTurnText validates an inbound user turn.
func ValidateTurnText(text string) error {
	if len(text) == 0 {
		return errors.New("text cannot be empty")
	}
	if len(text) > maxTurnLength {
		return errors.New("text exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return errors.New("text must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}
