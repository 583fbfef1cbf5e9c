package prompt

import (
	"fmt"
	"strings"
)

// Mode is the difficulty mode: how much of the "what to say next" help the
// learner sees. Modes are ordered from most help (L1) to least (L4).
type Mode int

const (
	// L1 is a full English script with its translation.
	L1 Mode = iota + 1
	// L2 is a full English script without a translation.
	L2
	// L3 is key vocabulary or a sentence starter.
	L3
	// L4 is a thematic goal with no English words.
	L4
)

// DefaultMode is the mode a new session starts in.
const DefaultMode = L1

// Modes lists every mode in order.
func Modes() []Mode { return []Mode{L1, L2, L3, L4} }

// IsValid reports whether m is one of L1..L4.
func (m Mode) IsValid() bool { return m >= L1 && m <= L4 }

// String returns the short code ("L1").
func (m Mode) String() string {
	if !m.IsValid() {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return fmt.Sprintf("L%d", int(m))
}

// DisplayName returns the label shown in mode pickers.
func (m Mode) DisplayName() string {
	switch m {
	case L1:
		return "L1: Full Script (CN+EN)"
	case L2:
		return "L2: English Script"
	case L3:
		return "L3: Keywords & Hints"
	case L4:
		return "L4: Free Talk"
	}
	return m.String()
}

// ShowScript reports whether the suggested script helper is shown. L4 hides
// it.
func (m Mode) ShowScript() bool { return m >= L1 && m <= L3 }

// ShowTranslation reports whether the script translation is shown.
func (m Mode) ShowTranslation() bool { return m == L1 }

// ParseMode accepts "L1".."L4" (any case) or "1".."4".
func ParseMode(s string) (Mode, error) {
	t := strings.ToUpper(strings.TrimSpace(s))
	t = strings.TrimPrefix(t, "L")
	if len(t) == 1 && t[0] >= '1' && t[0] <= '4' {
		return Mode(t[0] - '0'), nil
	}
	return 0, fmt.Errorf("prompt: unknown mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.IsValid() {
		return nil, fmt.Errorf("prompt: invalid mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
