// Package seed provides the sample contacts loaded by "phonebook seed".
package seed

import (
	_ "embed"
	"fmt"
	"io"
	"sync"

	"github.com/HerbHall/phonebook/pkg/models"
	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var defaultRawData []byte

// File is the top-level structure of a seed YAML document.
type File struct {
	Version  int                   `yaml:"version"`
	Contacts []models.ContactInput `yaml:"contacts"`
}

// Set provides lazy-loaded access to the embedded seed data.
type Set struct {
	once sync.Once
	file File
	err  error
}

// Default returns the embedded seed set. It is parsed on first access.
func Default() *Set {
	return &Set{}
}

// Version returns the version of the embedded data set.
func (s *Set) Version() (int, error) {
	s.once.Do(s.load)
	return s.file.Version, s.err
}

// Contacts returns a copy of the embedded contacts.
func (s *Set) Contacts() ([]models.ContactInput, error) {
	s.once.Do(s.load)
	if s.err != nil {
		return nil, s.err
	}
	cp := make([]models.ContactInput, len(s.file.Contacts))
	copy(cp, s.file.Contacts)
	return cp, nil
}

func (s *Set) load() {
	f, err := parse(defaultRawData)
	if err != nil {
		s.err = err
		return
	}
	s.file = *f
}

// Read parses a seed document from r.
func Read(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("seed: read: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("seed: parse yaml: %w", err)
	}
	for i, c := range f.Contacts {
		if c.Name == "" || c.Phone == "" {
			return nil, fmt.Errorf("seed: contact %d: name and phone are required", i)
		}
	}
	return &f, nil
}
