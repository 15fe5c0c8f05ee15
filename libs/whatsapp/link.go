// Package whatsapp builds wa.me deep links for client contact. There is no
// delivery confirmation: the link is opened by whoever receives it.
package whatsapp

import (
	"errors"
	"net/url"
	"strings"
)

var ErrEmptyPhone = errors.New("phone has no digits")

// Link returns https://wa.me/<digits>?text=<urlencoded> for the given phone
// and message. Everything except digits is stripped from the phone, so
// "+54 9 11 5555-0000" and "5491155550000" produce the same link.
func Link(phone string, message string) (string, error) {
	digits := digitsOnly(phone)
	if digits == "" {
		return "", ErrEmptyPhone
	}
	link := "https://wa.me/" + digits
	if message != "" {
		link += "?text=" + url.QueryEscape(message)
	}
	return link, nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
