package pix

import (
	"fmt"
	"regexp"
	"strings"
)

// KeyType identifies which Pix key grammar applies to a candidate value.
type KeyType string

const (
	KeyCPF    KeyType = "cpf"
	KeyEmail  KeyType = "email"
	KeyPhone  KeyType = "phone"
	KeyRandom KeyType = "random"

	// RANDOM_KEY_MIN_LEN is the loose floor for EVP keys. Platform-issued EVP
	// tokens are opaque, so anything shorter is certainly not one.
	RANDOM_KEY_MIN_LEN = 8

	CPF_LEN = 11
)

// Key is a validated Pix key. Normalized is always derived from Raw by the
// rules of Type and is the value that goes into BR Code payloads. Construct
// keys through Validate, never from untrusted input.
type Key struct {
	Type       KeyType `json:"type"`
	Raw        string  `json:"raw"`
	Normalized string  `json:"normalized"`
}

// ValidationError reports a rejected key or field with an actionable reason.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	evpRe   = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
)

// ParseKeyType maps loose user text to a KeyType, accepting the Portuguese
// spellings users actually type.
func ParseKeyType(s string) (KeyType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpf":
		return KeyCPF, true
	case "email", "e-mail":
		return KeyEmail, true
	case "phone", "telefone", "celular", "tel":
		return KeyPhone, true
	case "random", "aleatoria", "aleatória", "chavealeatoria", "chave_aleatoria", "evp":
		return KeyRandom, true
	}
	return "", false
}

// Validate checks raw against the grammar of keyType and returns the
// normalized key. It is pure and safe for concurrent use.
func Validate(keyType KeyType, raw string) (Key, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Key{}, &ValidationError{Field: string(keyType), Reason: "empty key"}
	}

	switch keyType {
	case KeyCPF:
		return validateCPF(trimmed)
	case KeyEmail:
		return validateEmail(trimmed)
	case KeyPhone:
		return validatePhone(trimmed)
	case KeyRandom:
		return validateRandom(trimmed)
	}
	return Key{}, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown key type %q", keyType)}
}

// OnlyDigits strips everything that is not an ASCII digit.
func OnlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// cpfCheckDigit computes one CPF check digit over digits, weighting from
// factor down. A remainder of 10 maps to 0.
func cpfCheckDigit(digits string, factor int) int {
	sum := 0
	for i := 0; i < len(digits); i++ {
		sum += int(digits[i]-'0') * (factor - i)
	}
	mod := (sum * 10) % 11
	if mod == 10 {
		return 0
	}
	return mod
}

func validateCPF(raw string) (Key, error) {
	digits := OnlyDigits(raw)
	if len(digits) != CPF_LEN {
		return Key{}, &ValidationError{Field: "cpf", Reason: "must have exactly 11 digits"}
	}

	same := true
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			same = false
			break
		}
	}
	if same {
		return Key{}, &ValidationError{Field: "cpf", Reason: "repeated-digit sequences are not valid"}
	}

	d1 := cpfCheckDigit(digits[:9], 10)
	d2 := cpfCheckDigit(digits[:10], 11)
	if d1 != int(digits[9]-'0') || d2 != int(digits[10]-'0') {
		return Key{}, &ValidationError{Field: "cpf", Reason: "check digits do not match"}
	}

	return Key{Type: KeyCPF, Raw: raw, Normalized: digits}, nil
}

func validateEmail(raw string) (Key, error) {
	if !emailRe.MatchString(raw) {
		return Key{}, &ValidationError{Field: "email", Reason: "must look like local@domain.tld"}
	}
	return Key{Type: KeyEmail, Raw: raw, Normalized: strings.ToLower(raw)}, nil
}

func validatePhone(raw string) (Key, error) {
	digits := OnlyDigits(raw)

	// Strip the Brazilian country code only when what remains is a full
	// area code + subscriber number.
	if strings.HasPrefix(digits, "55") {
		rest := digits[2:]
		if len(rest) == 10 || len(rest) == 11 {
			digits = rest
		}
	}

	if len(digits) != 10 && len(digits) != 11 {
		return Key{}, &ValidationError{Field: "phone", Reason: "must have area code + number (10 or 11 digits)"}
	}
	return Key{Type: KeyPhone, Raw: raw, Normalized: digits}, nil
}

// validateRandom accepts platform-issued EVP keys. UUID-shaped tokens are
// normalized to lower case; anything else only has to clear a minimum length,
// a deliberately loose rule since EVP keys carry no checkable structure.
func validateRandom(raw string) (Key, error) {
	if evpRe.MatchString(raw) {
		return Key{Type: KeyRandom, Raw: raw, Normalized: strings.ToLower(raw)}, nil
	}
	if len(raw) < RANDOM_KEY_MIN_LEN && len(OnlyDigits(raw)) < RANDOM_KEY_MIN_LEN {
		return Key{}, &ValidationError{Field: "random", Reason: fmt.Sprintf("must have at least %d characters", RANDOM_KEY_MIN_LEN)}
	}
	return Key{Type: KeyRandom, Raw: raw, Normalized: raw}, nil
}
