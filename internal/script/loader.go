package script

import (
	"fmt"
	"os"
	"path/filepath"
)

// Source is a named script ready to run.
type Source struct {
	Name string
	Text string
}

// LoadFile reads a script from disk. Load failures are reported to the
// caller; the engine itself never handles them.
func LoadFile(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("loading script %s: %w", path, err)
	}
	return Source{
		Name: filepath.Base(path),
		Text: string(data),
	}, nil
}

// FromString wraps inline script text as a Source.
func FromString(name, text string) Source {
	return Source{Name: name, Text: text}
}
