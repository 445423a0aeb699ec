// Package session tracks which shopper the runtime is acting for.
//
// Front ends identify the shopper with the Shopper-Session header, an
// RFC 8941 dictionary:
//
//	Shopper-Session: user="u-1", token="eyJhbGciOi..."
//
// The first request carrying a session after an anonymous period triggers
// the login hook, which merges the local cart and wishlist into the
// shopper's server state.
package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dunglas/httpsfv"
)

// Header is the request header carrying the shopper session.
const Header = "Shopper-Session"

// Session identifies an authenticated shopper.
type Session struct {
	UserID string `json:"user"`
	Token  string `json:"token"`
}

// ParseHeader extracts the session from a Shopper-Session header value.
// Both user and token must be present as strings.
func ParseHeader(header string) (Session, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Session{}, errors.New("empty Shopper-Session header")
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return Session{}, fmt.Errorf("invalid Shopper-Session header: %w", err)
	}

	user, err := stringMember(dict, "user")
	if err != nil {
		return Session{}, err
	}
	token, err := stringMember(dict, "token")
	if err != nil {
		return Session{}, err
	}
	return Session{UserID: user, Token: token}, nil
}

// FormatHeader renders s as a Shopper-Session header value.
func FormatHeader(s Session) (string, error) {
	dict := httpsfv.NewDictionary()
	dict.Add("user", httpsfv.NewItem(s.UserID))
	dict.Add("token", httpsfv.NewItem(s.Token))
	return httpsfv.Marshal(dict)
}

func stringMember(dict *httpsfv.Dictionary, key string) (string, error) {
	member, ok := dict.Get(key)
	if !ok {
		return "", fmt.Errorf("%s key not found in Shopper-Session header", key)
	}

	item, ok := member.(httpsfv.Item)
	if !ok {
		return "", fmt.Errorf("%s value must be an item", key)
	}

	s, ok := item.Value.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%s value must be a non-empty string", key)
	}
	return s, nil
}
