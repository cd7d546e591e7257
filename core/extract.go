package core

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// ErrUnsupportedFormat is returned by ExtractText for unknown file types
var ErrUnsupportedFormat = errors.New("unsupported file format")

// SupportedFormats lists the extensions ExtractText understands
var SupportedFormats = []string{".txt", ".csv", ".json"}

// ExtractText turns an uploaded file into the text to analyze. Plain text is
// used as is. For JSON the top-level string values of an object are joined
// with spaces in document order. For CSV the cells of non-numeric columns are
// joined row by row, header excluded.
func ExtractText(filename string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s is not valid UTF-8 text: %w", filename, ErrUnsupportedFormat)
	}

	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".txt", "":
		return string(data), nil
	case ".json":
		return extractJSON(data)
	case ".csv":
		return extractCSV(data)
	default:
		return "", fmt.Errorf("%q (supported: %s): %w", ext, strings.Join(SupportedFormats, ", "), ErrUnsupportedFormat)
	}
}

func extractJSON(data []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("invalid JSON document: %v: %w", err, ErrUnsupportedFormat)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return "", fmt.Errorf("JSON document is not an object: %w", ErrUnsupportedFormat)
	}

	var parts []string
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return "", fmt.Errorf("invalid JSON key: %v: %w", err, ErrUnsupportedFormat)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return "", fmt.Errorf("invalid JSON value: %v: %w", err, ErrUnsupportedFormat)
		}
		if s, ok := value.(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " "), nil
}

func extractCSV(data []byte) (string, error) {
	rd := csv.NewReader(bytes.NewReader(data))
	rd.FieldsPerRecord = -1

	records, err := rd.ReadAll()
	if err != nil {
		return "", fmt.Errorf("invalid CSV document: %v: %w", err, ErrUnsupportedFormat)
	}
	if len(records) < 2 {
		return "", nil
	}

	rows := records[1:]
	width := len(records[0])

	textual := make([]bool, width)
	for col := 0; col < width; col++ {
		for _, row := range rows {
			if col >= len(row) || row[col] == "" {
				continue
			}
			if _, err := strconv.ParseFloat(strings.TrimSpace(row[col]), 64); err != nil {
				textual[col] = true
				break
			}
		}
	}

	var parts []string
	for _, row := range rows {
		for col := 0; col < width && col < len(row); col++ {
			if textual[col] && row[col] != "" {
				parts = append(parts, row[col])
			}
		}
	}
	return strings.Join(parts, " "), nil
}
