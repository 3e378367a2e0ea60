// Package serial extracts board serial numbers from OCR text.
package serial

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNoSerial is returned when no serial number pattern is found.
var ErrNoSerial = errors.New("no serial number found")

// Serial is a parsed MB<code>-<digits> serial number.
type Serial struct {
	ProductCode string `json:"product_code"` // two letters
	Number      string `json:"number"`       // digits
	Raw         string `json:"raw"`          // matched text as read
	Corrected   bool   `json:"corrected"`    // OCR confusions were fixed
	Format      string `json:"format"`
}

// String returns the canonical form.
func (s Serial) String() string {
	return "MB" + s.ProductCode + "-" + s.Number
}

var (
	// the number must not run into a confusable letter; spaces are only
	// allowed inside the MB<code>- prefix, never inside the number
	strictPattern = regexp.MustCompile(`MB ?([A-Z]) ?([A-Z]) ?- ?([0-9]+)(?:[^0-9OQDILZS]|$)`)
	// tolerant accepts digits in the code, confusable letters in the number
	// and a missing or misread separator
	tolerantPattern = regexp.MustCompile(`MB ?([A-Z0-9]) ?([A-Z0-9]) ?[-_~=.]? ?([0-9OQDILZS]*[0-9][0-9OQDILZS]*)`)
)

// Letters commonly read in place of digits, and the reverse.
var (
	toDigit = map[rune]rune{
		'O': '0', 'Q': '0', 'D': '0',
		'I': '1', 'L': '1',
		'Z': '2',
		'S': '5',
	}
	toLetter = map[rune]rune{
		'0': 'O',
		'1': 'I',
		'2': 'Z',
		'5': 'S',
	}
)

// Parse finds the first serial number in text. The strict form is tried
// first, then a form tolerant of OCR confusions (O/0, I/L/1, Z/2, S/5).
// Words stay separate, so a word following the number is never read as
// part of it.
func Parse(text string) (Serial, error) {
	up := strings.ToUpper(strings.Join(strings.Fields(text), " "))
	if len(up) < 4 {
		return Serial{}, ErrNoSerial
	}

	if m := strictPattern.FindStringSubmatch(up); m != nil {
		code := m[1] + m[2]
		return Serial{ProductCode: code, Number: m[3], Raw: "MB" + code + "-" + m[3], Format: "strict"}, nil
	}

	for _, m := range tolerantPattern.FindAllStringSubmatch(up, -1) {
		code, ok := mapRunes(m[1]+m[2], toLetter, isLetter)
		if !ok {
			continue
		}
		number, ok := mapRunes(m[3], toDigit, isDigit)
		if !ok {
			continue
		}
		return Serial{
			ProductCode: code,
			Number:      number,
			Raw:         m[0],
			Corrected:   code != m[1]+m[2] || number != m[3],
			Format:      "tolerant",
		}, nil
	}

	return Serial{}, ErrNoSerial
}

// ProductCode is a convenience wrapper returning only the product code.
func ProductCode(text string) (string, error) {
	s, err := Parse(text)
	if err != nil {
		return "", err
	}
	return s.ProductCode, nil
}

// mapRunes replaces confusable runes and checks every result rune with valid.
func mapRunes(s string, table map[rune]rune, valid func(rune) bool) (string, bool) {
	var sb strings.Builder
	for _, r := range s {
		if repl, ok := table[r]; ok {
			r = repl
		}
		if !valid(r) {
			return "", false
		}
		sb.WriteRune(r)
	}
	return sb.String(), true
}

func isLetter(r rune) bool { return r >= 'A' && r <= 'Z' }

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
