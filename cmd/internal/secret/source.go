package secret

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a shared secret from an environment variable, a file
// or an interactive prompt, in that order. The first successful lookup is
// cached.
type Source struct {
	label  string
	envVar string
	file   string

	// prompt reads a line without echo. Replaced in tests.
	prompt func(label string) (string, error)

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a source. label names the secret in prompts and errors.
func NewSource(label, envVar, file string) *Source {
	return &Source{
		label:  strings.TrimSpace(label),
		envVar: strings.TrimSpace(envVar),
		file:   strings.TrimSpace(file),
		prompt: promptTerminal,
	}
}

// Get returns the cached secret or resolves it on first use.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return strings.TrimSpace(value), nil
		}
	}
	if s.file != "" {
		contents, err := os.ReadFile(s.file)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", s.label, err)
		}
		value := strings.TrimSpace(string(contents))
		if value == "" {
			return "", fmt.Errorf("%s file %s is empty", s.label, s.file)
		}
		return value, nil
	}
	value, err := s.prompt(s.label)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%s cannot be empty", s.label)
	}
	return strings.TrimSpace(value), nil
}

func promptTerminal(label string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New(label + " required and no terminal available")
	}
	fmt.Fprintf(os.Stderr, "Enter %s: ", label)
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", label, err)
	}
	return string(bytes), nil
}
