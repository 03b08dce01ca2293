package session

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strings"
	"time"
)

// looksPlaintext reports whether raw names a critical token followed by an
// assignment or a JSON key terminator.
func looksPlaintext(raw string, critical []string) bool {
	for _, name := range critical {
		if strings.Contains(raw, name+"=") || strings.Contains(raw, `"`+name+`"`) {
			return true
		}
	}
	return false
}

type cookieJSON struct {
	Name           string  `json:"name"`
	Value          string  `json:"value"`
	Domain         string  `json:"domain"`
	Path           string  `json:"path"`
	Secure         bool    `json:"secure"`
	HTTPOnly       bool    `json:"httpOnly"`
	ExpirationDate float64 `json:"expirationDate"`
}

func (c cookieJSON) token() Token {
	t := Token{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
	}
	if c.ExpirationDate > 0 {
		sec, frac := math.Modf(c.ExpirationDate)
		t.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	return t
}

var errNoTokens = errors.New("no tokens found")

// parsePlaintext accepts a JSON cookie array, a {"cookies": [...]} object, a
// flat {"name": "value"} object, or name=value pairs separated by semicolons
// or newlines.
func parsePlaintext(raw string) ([]Token, error) {
	raw = strings.TrimSpace(raw)
	var tokens []Token
	switch {
	case strings.HasPrefix(raw, "["):
		var cookies []cookieJSON
		if err := json.Unmarshal([]byte(raw), &cookies); err != nil {
			return nil, err
		}
		for _, c := range cookies {
			tokens = append(tokens, c.token())
		}
	case strings.HasPrefix(raw, "{"):
		var wrapped struct {
			Cookies []cookieJSON `json:"cookies"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapped); err == nil && len(wrapped.Cookies) > 0 {
			for _, c := range wrapped.Cookies {
				tokens = append(tokens, c.token())
			}
			break
		}
		var flat map[string]string
		if err := json.Unmarshal([]byte(raw), &flat); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(flat))
		for name := range flat {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			tokens = append(tokens, Token{Name: name, Value: flat[name]})
		}
	default:
		tokens = parsePairs(raw)
	}
	tokens = dedupe(tokens)
	if len(tokens) == 0 {
		return nil, errNoTokens
	}
	return tokens, nil
}

func parsePairs(raw string) []Token {
	var tokens []Token
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == '\n' || r == '\r' })
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if len(field) >= len("cookie:") && strings.EqualFold(field[:len("cookie:")], "cookie:") {
			field = strings.TrimSpace(field[len("cookie:"):])
		}
		name, value, ok := strings.Cut(field, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		tokens = append(tokens, Token{Name: name, Value: strings.TrimSpace(value)})
	}
	return tokens
}

// dedupe keeps the first position of every name and the last value.
func dedupe(tokens []Token) []Token {
	index := make(map[string]int, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if t.Name == "" {
			continue
		}
		if i, ok := index[t.Name]; ok {
			out[i] = t
			continue
		}
		index[t.Name] = len(out)
		out = append(out, t)
	}
	return out
}
