package config

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Key chord parse errors
var (
	ErrEmptyChord   = errors.New("empty key chord")
	ErrInvalidChord = errors.New("invalid key chord")
)

// KeyChord is a trigger key with its modifiers.
type KeyChord struct {
	Ctrl  bool
	Alt   bool
	Shift bool
	Meta  bool

	// Key is a Vim key name ("Space", "F2", "CR") or a single character.
	Key string
}

// vimKeyNames maps lowercase aliases to Vim's spelling.
var vimKeyNames = map[string]string{
	"space":     "Space",
	"cr":        "CR",
	"enter":     "CR",
	"return":    "CR",
	"esc":       "Esc",
	"escape":    "Esc",
	"tab":       "Tab",
	"bs":        "BS",
	"backspace": "BS",
	"del":       "Del",
	"delete":    "Del",
	"ins":       "Insert",
	"insert":    "Insert",
	"up":        "Up",
	"down":      "Down",
	"left":      "Left",
	"right":     "Right",
	"home":      "Home",
	"end":       "End",
	"pageup":    "PageUp",
	"pgup":      "PageUp",
	"pagedown":  "PageDown",
	"pgdn":      "PageDown",
	"lt":        "lt",
	"bar":       "Bar",
	"bslash":    "Bslash",
	"leader":    "Leader",
}

// ParseKeyChord parses a trigger key.
//
// Supported formats:
//   - Vim-style: "<C-Space>", "<A-i>", "<F2>", "<C-S-p>"
//   - With modifiers: "Ctrl+Space", "Alt+I"
//   - Single character or key name: "i", "F9", "Space"
func ParseKeyChord(s string) (KeyChord, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return KeyChord{}, ErrEmptyChord
	}

	if strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") && len(s) > 2 {
		return parseVimChord(s[1 : len(s)-1])
	}
	if len(s) > 1 && strings.Contains(s, "+") {
		return parsePlusChord(s)
	}
	return chordKey(KeyChord{}, s)
}

func parseVimChord(inner string) (KeyChord, error) {
	parts := strings.Split(inner, "-")
	// "<C-->" maps the minus key.
	if strings.HasSuffix(inner, "--") {
		parts = append(strings.Split(strings.TrimSuffix(inner, "--"), "-"), "-")
	}

	var kc KeyChord
	for _, p := range parts[:len(parts)-1] {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "c":
			kc.Ctrl = true
		case "a", "m":
			kc.Alt = true
		case "s":
			kc.Shift = true
		case "d":
			kc.Meta = true
		default:
			return KeyChord{}, fmt.Errorf("%w: unknown modifier %q", ErrInvalidChord, p)
		}
	}
	return chordKey(kc, parts[len(parts)-1])
}

func parsePlusChord(s string) (KeyChord, error) {
	parts := strings.Split(s, "+")
	var kc KeyChord
	for _, p := range parts[:len(parts)-1] {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "ctrl", "control":
			kc.Ctrl = true
		case "alt", "option":
			kc.Alt = true
		case "shift":
			kc.Shift = true
		case "meta", "cmd", "super":
			kc.Meta = true
		default:
			return KeyChord{}, fmt.Errorf("%w: unknown modifier %q", ErrInvalidChord, p)
		}
	}
	return chordKey(kc, parts[len(parts)-1])
}

func chordKey(kc KeyChord, key string) (KeyChord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return KeyChord{}, ErrInvalidChord
	}
	lower := strings.ToLower(key)
	if name, ok := vimKeyNames[lower]; ok {
		kc.Key = name
		return kc, nil
	}
	if n, ok := functionKey(lower); ok {
		kc.Key = fmt.Sprintf("F%d", n)
		return kc, nil
	}
	if utf8.RuneCountInString(key) == 1 {
		kc.Key = key
		return kc, nil
	}
	return KeyChord{}, fmt.Errorf("%w: %q", ErrInvalidChord, key)
}

func functionKey(lower string) (int, bool) {
	var n int
	if _, err := fmt.Sscanf(lower, "f%d", &n); err != nil || fmt.Sprintf("f%d", n) != lower {
		return 0, false
	}
	return n, n >= 1 && n <= 37
}

// TriggerLHS returns the mapping lhs for an on_key setting. The "Ctrl+Space"
// form is rewritten to Vim notation; anything else is already a Vim key
// sequence ("<C-Space>", "<leader>i", "jk") and is returned trimmed, leaving
// errors to the editor's mapping call.
func TriggerLHS(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 1 && !strings.HasPrefix(s, "<") && strings.Contains(s, "+") {
		if kc, err := ParseKeyChord(s); err == nil {
			return kc.Vim()
		}
	}
	return s
}

// Vim returns the chord in Vim key notation, usable as a mapping lhs.
func (k KeyChord) Vim() string {
	var mods string
	if k.Ctrl {
		mods += "C-"
	}
	if k.Alt {
		mods += "A-"
	}
	if k.Shift {
		mods += "S-"
	}
	if k.Meta {
		mods += "D-"
	}
	if mods == "" && utf8.RuneCountInString(k.Key) == 1 {
		return k.Key
	}
	return "<" + mods + k.Key + ">"
}

// String implements fmt.Stringer.
func (k KeyChord) String() string {
	return k.Vim()
}
