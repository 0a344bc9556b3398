package persona

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("persona not found")

//go:embed schemas/persona.json
var schemaFS embed.FS

var validClientID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func personaSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		data, err := schemaFS.ReadFile("schemas/persona.json")
		if err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	})
	return schema, schemaErr
}

// Parse decodes and validates one persona document.
func Parse(data []byte, clientID string) (*Persona, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode persona %s: %w", clientID, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("persona %s: empty document", clientID)
	}
	if _, ok := raw["client_id"]; !ok {
		raw["client_id"] = clientID
	}
	s, err := personaSchema()
	if err != nil {
		return nil, err
	}
	result, err := s.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("validate persona %s: %w", clientID, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("persona %s invalid: %s", clientID, strings.Join(msgs, "; "))
	}
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode persona %s: %w", clientID, err)
	}
	p.applyDefaults(clientID)
	return &p, nil
}

// Store loads personas from <Dir>/<client_id>.yaml and caches them until
// the directory changes.
type Store struct {
	Dir    string
	Logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*Persona
	inbox map[int]string
}

func NewStore(dir string) *Store {
	return &Store{Dir: dir, cache: map[string]*Persona{}}
}

var readFile = os.ReadFile

func (s *Store) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Load returns the persona for clientID, or ErrNotFound.
func (s *Store) Load(clientID string) (*Persona, error) {
	clientID = strings.TrimSpace(clientID)
	if !validClientID.MatchString(clientID) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, clientID)
	}
	s.mu.RLock()
	p, ok := s.cache[clientID]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}
	path, err := s.path(clientID)
	if err != nil {
		return nil, err
	}
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	p, err = Parse(data, clientID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.cache == nil {
		s.cache = map[string]*Persona{}
	}
	s.cache[clientID] = p
	s.mu.Unlock()
	return p, nil
}

func (s *Store) path(clientID string) (string, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(s.Dir, clientID+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no persona config found for client_id %s", ErrNotFound, clientID)
}

// All loads every persona in the directory, sorted by client id. Files that
// fail to load are skipped with a warning.
func (s *Store) All() []*Persona {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		s.logger().Warn("harbor.personas.read_dir_failed", "dir", s.Dir, "error", err)
		return nil
	}
	var out []*Persona
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		p, err := s.Load(strings.TrimSuffix(name, ext))
		if err != nil {
			s.logger().Warn("harbor.personas.load_failed", "file", name, "error", err)
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// ResolveClientID maps a Chatwoot inbox to its persona, falling back to the
// client id from the webhook URL.
func (s *Store) ResolveClientID(clientID string, inboxID int) string {
	if inboxID <= 0 {
		return clientID
	}
	if mapped, ok := s.inboxMap()[inboxID]; ok {
		return mapped
	}
	return clientID
}

func (s *Store) inboxMap() map[int]string {
	s.mu.RLock()
	m := s.inbox
	s.mu.RUnlock()
	if m != nil {
		return m
	}
	m = map[int]string{}
	for _, p := range s.All() {
		if p.ChatwootInboxID > 0 {
			m[p.ChatwootInboxID] = p.ClientID
		}
	}
	s.mu.Lock()
	s.inbox = m
	s.mu.Unlock()
	s.logger().Info("harbor.inbox_map_built", "mapping", m)
	return m
}

// Invalidate drops cached personas and the inbox map.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cache = map[string]*Persona{}
	s.inbox = nil
	s.mu.Unlock()
}

// Watch invalidates the cache whenever a persona file changes. It returns
// once the watcher is registered; the watch ends with ctx.
func (s *Store) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(s.Dir); err != nil {
		_ = fsw.Close()
		return err
	}
	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				ext := filepath.Ext(ev.Name)
				if ext != ".yaml" && ext != ".yml" {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				s.Invalidate()
				s.logger().Info("harbor.personas.reloaded", "path", ev.Name, "op", ev.Op.String())
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				s.logger().Error("harbor.personas.watch_error", "error", err)
			}
		}
	}()
	return nil
}
