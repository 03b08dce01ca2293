// Package session turns a captured session bundle into cookies the browser
// can use. Bundles arrive either as plaintext cookie lists or encrypted with
// the process-wide session key.
package session

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Token is one credential cookie.
type Token struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	Expires  time.Time
}

// Bundle is a decoded session. Its String form and log encoding never
// include token values.
type Bundle struct {
	Tokens []Token
	// Critical maps every critical token name to whether it is present.
	Critical map[string]bool
	// Source records how the bundle was decoded: plaintext, encrypted or
	// fallback (decryption failed, raw string parsed as plaintext).
	Source string
}

// HasCritical reports whether at least one critical token is present.
func (b Bundle) HasCritical() bool {
	for _, ok := range b.Critical {
		if ok {
			return true
		}
	}
	return false
}

func (b Bundle) String() string {
	names := make([]string, 0, len(b.Critical))
	for name := range b.Critical {
		names = append(names, name)
	}
	sort.Strings(names)
	flags := make([]string, len(names))
	for i, name := range names {
		state := "missing"
		if b.Critical[name] {
			state = "present"
		}
		flags[i] = name + "=" + state
	}
	return fmt.Sprintf("%d tokens (%s) via %s", len(b.Tokens), strings.Join(flags, " "), b.Source)
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (b Bundle) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("tokens", len(b.Tokens))
	enc.AddString("source", b.Source)
	return enc.AddObject("critical", zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		for name, ok := range b.Critical {
			enc.AddBool(name, ok)
		}
		return nil
	}))
}
