package session

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrInvalid means no critical token could be recovered from a bundle.
var ErrInvalid = errors.New("session bundle has no critical tokens")

// Hydrator decodes session bundles. It is safe for concurrent use.
type Hydrator struct {
	key      []byte
	critical []string
	log      *zap.Logger
}

// NewHydrator returns a hydrator that decrypts with key and requires at
// least one of the critical token names.
func NewHydrator(key string, critical []string, log *zap.Logger) *Hydrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hydrator{
		key:      []byte(key),
		critical: append([]string(nil), critical...),
		log:      log,
	}
}

// Hydrate decodes raw. Plaintext is detected structurally; anything else is
// decrypted, and when decryption fails the raw string is parsed as
// plaintext once more before giving up with ErrInvalid.
func (h *Hydrator) Hydrate(raw string) (Bundle, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Bundle{}, fmt.Errorf("%w: bundle is empty", ErrInvalid)
	}

	if looksPlaintext(raw, h.critical) {
		return h.finish(raw, "plaintext")
	}

	plain, err := decrypt(raw, h.key)
	if err == nil {
		b, err := h.finish(string(plain), "encrypted")
		if err == nil {
			return b, nil
		}
		h.log.Debug("decrypted bundle unusable", zap.Error(err))
	} else {
		h.log.Debug("session bundle decryption failed", zap.Error(err))
	}
	return h.finish(raw, "fallback")
}

func (h *Hydrator) finish(plain, source string) (Bundle, error) {
	tokens, err := parsePlaintext(plain)
	b := Bundle{Tokens: tokens, Critical: make(map[string]bool, len(h.critical)), Source: source}
	for _, name := range h.critical {
		b.Critical[name] = false
	}
	for _, t := range tokens {
		if _, ok := b.Critical[t.Name]; ok && t.Value != "" {
			b.Critical[t.Name] = true
		}
	}
	h.log.Debug("session bundle decoded", zap.Object("bundle", b))
	if err != nil {
		return b, fmt.Errorf("%w: %s bundle: %v", ErrInvalid, source, err)
	}
	if !b.HasCritical() {
		return b, fmt.Errorf("%w: %s bundle", ErrInvalid, source)
	}
	return b, nil
}
