package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RecognizerMetadata contains information about a recognizer file
type RecognizerMetadata struct {
	// Version of the recognizer set
	Version string `yaml:"version"`

	// When the file was created
	CreatedAt time.Time `yaml:"created_at"`

	// Last modification time
	UpdatedAt time.Time `yaml:"updated_at"`

	// Description of the recognizer set
	Description string `yaml:"description,omitempty"`

	// Author of the recognizer set
	Author string `yaml:"author,omitempty"`

	// Hash of the file content for integrity verification
	Hash string `yaml:"hash,omitempty"`
}

// RecognizerFile is the on-disk form of a set of custom recognizers
type RecognizerFile struct {
	Metadata RecognizerMetadata `yaml:"metadata"`

	// SupportedLanguages applies to every recognizer that names none itself
	SupportedLanguages []string `yaml:"supported_languages,omitempty"`

	Recognizers []*PatternRecognizer `yaml:"recognizers"`
}

// LoadRecognizers reads and validates a YAML recognizer file.
func LoadRecognizers(path string) (*RecognizerFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recognizer file: %w", err)
	}
	f, err := ParseRecognizers(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// ParseRecognizers decodes and validates a YAML recognizer document. When the
// document carries a hash it must match the content.
func ParseRecognizers(data []byte) (*RecognizerFile, error) {
	var f RecognizerFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, configErr("recognizers", "failed to parse recognizers: %v", err)
	}

	if f.Metadata.Hash != "" {
		want := f.Metadata.Hash
		got, err := f.contentHash()
		if err != nil {
			return nil, err
		}
		if got != want {
			return nil, configErr("recognizers.metadata.hash", "integrity check failed: content hash %s does not match %s", got, want)
		}
	}

	for i, rec := range f.Recognizers {
		if rec != nil && rec.Name == "" {
			rec.Name = fmt.Sprintf("custom-recognizer-%d", i+1)
		}
	}

	if err := validateRecognizerFile(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// SaveRecognizers writes f as YAML with a fresh integrity hash.
func SaveRecognizers(f *RecognizerFile, path string) error {
	now := time.Now().UTC()
	if f.Metadata.CreatedAt.IsZero() {
		f.Metadata.CreatedAt = now
	}
	f.Metadata.UpdatedAt = now

	hash, err := f.contentHash()
	if err != nil {
		return err
	}
	f.Metadata.Hash = hash

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to serialize recognizers: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write recognizer file: %w", err)
	}
	return nil
}

// Register compiles every recognizer of f into reg.
func (f *RecognizerFile) Register(reg *Registry) error {
	for _, rec := range f.Recognizers {
		if len(rec.Languages) == 0 {
			rec.Languages = append([]string(nil), f.SupportedLanguages...)
		}
		if err := reg.Add(rec); err != nil {
			return err
		}
	}
	return nil
}

// contentHash hashes the YAML form of f with the hash field cleared.
func (f *RecognizerFile) contentHash() (string, error) {
	clone := *f
	clone.Metadata.Hash = ""
	data, err := yaml.Marshal(&clone)
	if err != nil {
		return "", fmt.Errorf("failed to serialize recognizers: %w", err)
	}
	return calculateHash(data), nil
}

func validateRecognizerFile(f *RecognizerFile) error {
	for i, rec := range f.Recognizers {
		if rec == nil {
			return configErr("recognizers", "recognizer %d is empty", i)
		}
		if rec.EntityType == "" {
			return configErr("recognizers", "recognizer %d (%s) has no supported_entity", i, rec.Name)
		}
		if len(rec.Patterns) == 0 && len(rec.DenyList) == 0 {
			return configErr("recognizers", "recognizer %d (%s) has neither patterns nor deny_list", i, rec.Name)
		}
		for j, p := range rec.Patterns {
			if p.Regex == "" {
				return configErr("recognizers", "pattern %d of recognizer %d (%s) has no regex", j, i, rec.Name)
			}
		}
	}
	return nil
}

// calculateHash generates a hash of content for integrity checking
func calculateHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
