// Package dictionary holds the word list used by word games.
package dictionary

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/mcoot/playhub/internal/model"
	"github.com/mcoot/playhub/internal/storage"
)

// MinWordLength is the shortest word ever accepted
const MinWordLength = 2

// Service provides dictionary/word validation functionality
type Service struct {
	storage storage.Storage
	logger  *slog.Logger

	mu     sync.RWMutex
	words  map[string]struct{}
	loaded bool
}

// New creates a new dictionary Service
func New(storage storage.Storage, logger *slog.Logger) *Service {
	return &Service{
		storage: storage,
		logger:  logger.With(slog.String("component", "dictionary")),
		words:   make(map[string]struct{}),
	}
}

// EnsureLoaded loads the dictionary from storage, falling back to the file
// at path when storage holds none. An empty path with nothing stored leaves
// the dictionary unloaded.
func (s *Service) EnsureLoaded(ctx context.Context, path string) error {
	err := s.LoadFromStorage(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, model.ErrDictionaryNotLoaded) {
		return err
	}
	if path == "" {
		s.logger.Warn("no dictionary available, word games will reject every word")
		return nil
	}
	return s.LoadFromFile(ctx, path)
}

// LoadFromStorage loads dictionary words from storage
func (s *Service) LoadFromStorage(ctx context.Context) error {
	words, err := s.storage.GetDictionaryWords(ctx)
	if err != nil {
		return err
	}
	s.loadWords(words)
	s.logger.Info("dictionary loaded from storage", slog.Int("words", len(words)))
	return nil
}

// LoadFromFile loads dictionary words from a file (one word per line)
// and saves them to storage
func (s *Service) LoadFromFile(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open dictionary: %w", err)
	}
	defer file.Close()

	var words []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word != "" {
			words = append(words, word)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read dictionary: %w", err)
	}

	if err := s.storage.SaveDictionaryWords(ctx, words); err != nil {
		return fmt.Errorf("save dictionary: %w", err)
	}

	s.loadWords(words)
	s.logger.Info("dictionary loaded from file", slog.String("path", path), slog.Int("words", len(words)))
	return nil
}

// LoadWords directly loads a slice of words (useful for testing)
func (s *Service) LoadWords(words []string) {
	s.loadWords(words)
}

func (s *Service) loadWords(words []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.words = make(map[string]struct{}, len(words))
	for _, word := range words {
		s.words[strings.ToLower(word)] = struct{}{}
	}
	s.loaded = true
}

// IsValidWord checks if a word exists in the dictionary.
// Words must be at least MinWordLength characters.
func (s *Service) IsValidWord(word string) bool {
	if utf8.RuneCountInString(word) < MinWordLength {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.loaded {
		return false
	}

	_, ok := s.words[strings.ToLower(word)]
	return ok
}

// IsLoaded returns whether the dictionary has been loaded
func (s *Service) IsLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// WordCount returns the number of words in the dictionary
func (s *Service) WordCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.words)
}

// LongestFormable returns the length of the longest dictionary word that
// can be spelled from the rack, using each rack letter at most once
func (s *Service) LongestFormable(rack []rune) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.loaded {
		return 0
	}

	available := make(map[rune]int, len(rack))
	for _, r := range rack {
		available[unicode.ToLower(r)]++
	}

	longest := 0
	for word := range s.words {
		n := utf8.RuneCountInString(word)
		if n < MinWordLength || n <= longest || n > len(rack) {
			continue
		}
		if Formable(word, available) {
			longest = n
		}
	}
	return longest
}

// Formable reports whether word can be spelled from the letter counts
func Formable(word string, available map[rune]int) bool {
	used := make(map[rune]int, len(word))
	for _, r := range strings.ToLower(word) {
		used[r]++
		if used[r] > available[r] {
			return false
		}
	}
	return true
}

// ErrDictionaryNotLoaded is returned when operations are attempted before loading
var ErrDictionaryNotLoaded = model.ErrDictionaryNotLoaded
