// Package roster turns uploaded class lists into student entries.
package roster

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

// Entry is one student parsed from a roster.
type Entry struct {
	Matricula string `json:"matricula"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Importer extracts roster entries from raw upload bytes.
type Importer interface {
	Import(raw []byte) ([]Entry, error)
}

// ErrUnsupported is returned for uploads that are neither PDF nor text.
var ErrUnsupported = errors.New("roster: unsupported file type")

// Auto dispatches on the detected content type: PDFs have their text layer
// extracted, plain text is parsed directly.
type Auto struct{}

// Import implements Importer.
func (Auto) Import(raw []byte) ([]Entry, error) {
	mt := mimetype.Detect(raw)
	switch {
	case mt.Is("application/pdf"):
		return PDF{}.Import(raw)
	case mt.Is("text/plain"), mt.Is("text/csv"):
		return Text{}.Import(raw)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, mt.String())
}

// PDF reads the text layer of a PDF roster.
type PDF struct{}

// Import implements Importer.
func (PDF) Import(raw []byte) ([]Entry, error) {
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("roster: open pdf: %w", err)
	}
	text, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("roster: extract text: %w", err)
	}
	body, err := io.ReadAll(text)
	if err != nil {
		return nil, fmt.Errorf("roster: read text: %w", err)
	}
	return Text{}.Import(body)
}

// Text parses one student per line: an identifier followed by the first
// name and the last name(s). Commas, semicolons and tabs separate fields
// as well as spaces. Lines that do not fit are ignored.
type Text struct{}

// Import implements Importer.
func (Text) Import(raw []byte) ([]Entry, error) {
	var out []Entry
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		e, ok := ParseLine(sc.Text())
		if !ok {
			continue
		}
		if _, dup := seen[e.Matricula]; dup {
			continue
		}
		seen[e.Matricula] = struct{}{}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("roster: scan: %w", err)
	}
	return out, nil
}

// ParseLine parses a single roster line.
func ParseLine(line string) (Entry, bool) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';'
	})
	if len(fields) < 3 {
		return Entry{}, false
	}
	id := fields[0]
	if !isIdentifier(id) {
		return Entry{}, false
	}
	for _, f := range fields[1:] {
		if !isName(f) {
			return Entry{}, false
		}
	}
	return Entry{
		Matricula: id,
		FirstName: fields[1],
		LastName:  strings.Join(fields[2:], " "),
	}, true
}

// isIdentifier requires at least one digit so header rows are skipped.
func isIdentifier(s string) bool {
	digit := false
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsLetter(r), r == '-', r == '_':
		default:
			return false
		}
	}
	return digit && len(s) >= 3
}

func isName(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && r != '-' && r != '\'' && r != '.' {
			return false
		}
	}
	return true
}
