package config

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// MatchesPassphrase reports whether input is the instructor registration
// passphrase. Surrounding whitespace in input is ignored.
func (c InstructorConfig) MatchesPassphrase(input string) bool {
	input = strings.TrimSpace(input)
	if input == "" {
		return false
	}

	if c.PassphraseHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(c.PassphraseHash), []byte(input)) == nil
	}

	if c.Passphrase == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Passphrase), []byte(input)) == 1
}
