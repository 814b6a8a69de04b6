package validation

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxTitleLength bounds project titles, counted in runes.
const MaxTitleLength = 200

var (
	emailRe    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	fullnameRe = regexp.MustCompile(`^[A-Za-z\s\-']+$`)
)

// IsValidEmail checks the local@domain.tld shape; it does not resolve the domain.
func IsValidEmail(email string) bool {
	return emailRe.MatchString(email)
}

// IsValidPassword requires at least 8 characters with a letter, a digit and a symbol.
func IsValidPassword(password string) bool {
	if len(password) < 8 {
		return false
	}
	var letter, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	return letter && digit && symbol
}

// IsValidFullname accepts letters, spaces, hyphens and apostrophes.
func IsValidFullname(fullname string) bool {
	return fullname != "" && fullnameRe.MatchString(fullname)
}

// IsValidTitle reports whether a trimmed project title is non-empty, printable and within
// MaxTitleLength.
func IsValidTitle(title string) bool {
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > MaxTitleLength {
		return false
	}
	for _, r := range title {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}
