// Package auth loads the API tokens that guard the station HTTP endpoints.
package auth

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TokenStore holds the tokens listed in a file and reloads them when the file
// changes.
type TokenStore struct {
	path    string
	logger  *log.Logger
	watcher *fsnotify.Watcher
	delay   time.Duration

	mu     sync.RWMutex
	tokens map[string]struct{}

	timerMu   sync.Mutex
	timer     *time.Timer
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewTokenStore loads path and starts watching its directory. A missing file
// means no token is accepted until it appears.
func NewTokenStore(path string, debounce time.Duration, logger *log.Logger) (*TokenStore, error) {
	if logger == nil {
		logger = log.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	s := &TokenStore{
		path:    filepath.Clean(path),
		logger:  logger,
		watcher: watcher,
		delay:   debounce,
		tokens:  map[string]struct{}{},
		done:    make(chan struct{}),
	}

	if err := s.reload(); err != nil {
		watcher.Close()
		return nil, err
	}

	// Editors replace files on save, so the directory is what gets watched.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch token dir: %w", err)
	}

	s.wg.Add(1)
	go s.loop()

	return s, nil
}

// Close stops watching the token file.
func (s *TokenStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.timerMu.Lock()
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.timerMu.Unlock()

		s.closeErr = s.watcher.Close()
		s.wg.Wait()
	})
	return s.closeErr
}

// IsValidToken reports whether token is listed in the file.
func (s *TokenStore) IsValidToken(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}

	s.mu.RLock()
	_, ok := s.tokens[token]
	s.mu.RUnlock()
	return ok
}

// Count returns the number of loaded tokens.
func (s *TokenStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

func (s *TokenStore) loop() {
	defer s.wg.Done()

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.debounce()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Printf("token watcher error: %v", err)
		case <-s.done:
			return
		}
	}
}

func (s *TokenStore) debounce() {
	select {
	case <-s.done:
		return
	default:
	}

	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, func() {
		if err := s.reload(); err != nil {
			s.logger.Printf("token reload error: %v", err)
		}
	})
}

func (s *TokenStore) reload() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.replace(map[string]struct{}{})
		s.logger.Printf("token file %s missing; all API requests will be refused", s.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read tokens: %w", err)
	}

	tokens, err := ParseTokens(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse %s: %w", s.path, err)
	}
	s.replace(tokens)
	s.logger.Printf("loaded %d API tokens from %s", len(tokens), s.path)
	return nil
}

func (s *TokenStore) replace(tokens map[string]struct{}) {
	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()
}

// ParseTokens reads one token per line. Blank lines and text after '#' are
// ignored.
func ParseTokens(r io.Reader) (map[string]struct{}, error) {
	tokens := map[string]struct{}{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if token := strings.TrimSpace(line); token != "" {
			tokens[token] = struct{}{}
		}
	}
	return tokens, scanner.Err()
}
