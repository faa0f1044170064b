// Package session persists conversation transcripts as JSONL files: a
// metadata header line followed by one line per message. The whole file is
// rewritten (not appended to) on every Save, using the same
// temp-file-then-rename idiom as the rest of the codebase, so a crash mid
// write never corrupts the previous good copy.
package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sipeed/picoclaw/pkg/message"
)

// maxMessageLineBytes caps how much of a single stored message line is
// trusted on read; a line larger than this is almost certainly a corrupted
// or truncated write and is dropped rather than risk an oversized message
// re-entering the transcript.
const maxMessageLineBytes = 50 * 1024

// descriptionTrigger is the number of non-empty user messages below which
// the session still lacks a human-readable description and a new one
// should be derived from the latest user text.
const descriptionTrigger = 4

// Metadata is the JSONL file's first line: everything about the session
// except its messages.
type Metadata struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
}

type Session struct {
	Metadata
	Messages []message.Message `json:"-"`
}

const sessionIndexFilename = "index.json"

type scopeIndex struct {
	ActiveSessionKey string    `json:"active_session_key"`
	OrderedSessions  []string  `json:"ordered_sessions"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type sessionIndex struct {
	Version int                    `json:"version"`
	Scopes  map[string]*scopeIndex `json:"scopes"`
}

type SessionMeta struct {
	Ordinal     int       `json:"ordinal"`
	SessionKey  string    `json:"session_key"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
	MessageCnt  int       `json:"message_cnt"`
	Active      bool      `json:"active"`
}

type Manager struct {
	sessions  map[string]*Session
	mu        sync.RWMutex
	storage   string
	index     sessionIndex
	indexPath string
}

func NewManager(storage string) *Manager {
	sm := &Manager{
		sessions: make(map[string]*Session),
		storage:  storage,
		index: sessionIndex{
			Version: 1,
			Scopes:  make(map[string]*scopeIndex),
		},
	}

	if storage != "" {
		_ = os.MkdirAll(storage, 0o755)
		sm.indexPath = filepath.Join(storage, sessionIndexFilename)
		_ = sm.loadSessions()
		_ = sm.loadIndex()
	}

	return sm
}

func (sm *Manager) GetOrCreate(key string) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if s, ok := sm.sessions[key]; ok {
		return s
	}

	now := time.Now()
	s := &Session{
		Metadata: Metadata{
			ID:      uuid.NewString(),
			Key:     key,
			Created: now,
			Updated: now,
		},
	}
	sm.sessions[key] = s
	return s
}

// AddMessage appends a message to the session and, while the session still
// has fewer than descriptionTrigger non-empty user messages, regenerates
// the description from the latest one.
func (sm *Manager) AddMessage(key string, m message.Message) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	s, ok := sm.sessions[key]
	if !ok {
		s = &Session{Metadata: Metadata{ID: uuid.NewString(), Key: key, Created: time.Now()}}
		sm.sessions[key] = s
	}

	s.Messages = append(s.Messages, m)
	s.Updated = time.Now()

	if m.Role == message.RoleUser {
		if text := strings.TrimSpace(m.AsConcatText()); text != "" {
			if countNonEmptyUserMessages(s.Messages) <= descriptionTrigger {
				s.Description = deriveDescription(text)
			}
		}
	}
}

func countNonEmptyUserMessages(messages []message.Message) int {
	n := 0
	for _, m := range messages {
		if m.Role == message.RoleUser && strings.TrimSpace(m.AsConcatText()) != "" {
			n++
		}
	}
	return n
}

func deriveDescription(text string) string {
	const maxLen = 80
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}

func (sm *Manager) GetHistory(key string) []message.Message {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	s, ok := sm.sessions[key]
	if !ok {
		return nil
	}
	out := make([]message.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// GetMetadata returns a session's metadata header without its messages.
func (sm *Manager) GetMetadata(key string) (Metadata, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.sessions[key]
	if !ok {
		return Metadata{}, false
	}
	return s.Metadata, true
}

// ListKeysWithPrefix returns every known session key starting with prefix,
// sorted newest-updated-first. Used by the schedule tool to find the
// sessions a cron job has run under.
func (sm *Manager) ListKeysWithPrefix(prefix string) []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	type keyed struct {
		key     string
		updated time.Time
	}
	var matches []keyed
	for key, s := range sm.sessions {
		if strings.HasPrefix(key, prefix) {
			matches = append(matches, keyed{key, s.Updated})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].updated.After(matches[j].updated) })

	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.key
	}
	return out
}

func (sm *Manager) GetSummary(key string) string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if s, ok := sm.sessions[key]; ok {
		return s.Summary
	}
	return ""
}

func (sm *Manager) SetSummary(key, summary string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if s, ok := sm.sessions[key]; ok {
		s.Summary = summary
		s.Updated = time.Now()
	}
}

func (sm *Manager) SetHistory(key string, messages []message.Message) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if s, ok := sm.sessions[key]; ok {
		msgs := make([]message.Message, len(messages))
		copy(msgs, messages)
		s.Messages = msgs
		s.Updated = time.Now()
	}
}

// Save rewrites the session's JSONL file in full: the metadata line, then
// one line per message, written to a temp file and renamed over the target.
func (sm *Manager) Save(key string) error {
	if sm.storage == "" {
		return nil
	}

	sm.mu.RLock()
	s, ok := sm.sessions[key]
	if !ok {
		sm.mu.RUnlock()
		return nil
	}
	meta := s.Metadata
	msgs := make([]message.Message, len(s.Messages))
	copy(msgs, s.Messages)
	sm.mu.RUnlock()

	var buf bytes.Buffer
	metaLine, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	buf.Write(metaLine)
	buf.WriteByte('\n')
	for _, m := range msgs {
		line, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	filename := sanitizeFilename(key)
	if filename == "." || !filepath.IsLocal(filename) || strings.ContainsAny(filename, `/\`) {
		return os.ErrInvalid
	}
	path := filepath.Join(sm.storage, filename+".jsonl")

	return writeFileAtomic(sm.storage, path, buf.Bytes())
}

func writeFileAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func sanitizeFilename(key string) string {
	return strings.ReplaceAll(key, ":", "_")
}

// loadSessions reads every .jsonl file in storage: the first line is
// metadata, each subsequent line a message. Lines over maxMessageLineBytes
// or that fail to parse are dropped (logged by the caller layer) rather
// than aborting the whole file's load.
func (sm *Manager) loadSessions() error {
	entries, err := os.ReadDir(sm.storage)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		path := filepath.Join(sm.storage, entry.Name())
		f, err := os.Open(path)
		if err != nil {
			continue
		}

		s, err := parseSessionFile(f)
		_ = f.Close()
		if err != nil || s.Key == "" {
			continue
		}
		sm.sessions[s.Key] = s
	}
	return nil
}

func parseSessionFile(f *os.File) (*Session, error) {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageLineBytes+1024)

	if !scanner.Scan() {
		return nil, errors.New("empty session file")
	}
	var meta Metadata
	if err := json.Unmarshal(scanner.Bytes(), &meta); err != nil {
		return nil, fmt.Errorf("parse session metadata: %w", err)
	}
	s := &Session{Metadata: meta}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if len(line) > maxMessageLineBytes {
			continue
		}
		var m message.Message
		if err := json.Unmarshal(line, &m); err != nil {
			continue
		}
		s.Messages = append(s.Messages, m)
	}
	return s, scanner.Err()
}

func (sm *Manager) loadIndex() error {
	data, err := os.ReadFile(sm.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var loaded sessionIndex
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}
	if loaded.Scopes == nil {
		loaded.Scopes = make(map[string]*scopeIndex)
	}
	sm.index = loaded
	return nil
}

func (sm *Manager) saveIndexLocked() error {
	if sm.storage == "" {
		return nil
	}
	data, err := json.MarshalIndent(sm.index, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(sm.storage, sm.indexPath, data)
}

func (sm *Manager) ensureScopeLocked(scopeKey string, now time.Time) *scopeIndex {
	if sm.index.Scopes == nil {
		sm.index.Scopes = make(map[string]*scopeIndex)
	}
	scope, ok := sm.index.Scopes[scopeKey]
	if !ok || scope == nil {
		scope = &scopeIndex{ActiveSessionKey: scopeKey, OrderedSessions: []string{scopeKey}, UpdatedAt: now}
		sm.index.Scopes[scopeKey] = scope
	}
	return scope
}

func (sm *Manager) ResolveActive(scopeKey string) (string, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	scope := sm.ensureScopeLocked(scopeKey, time.Now())
	return scope.ActiveSessionKey, sm.saveIndexLocked()
}

func (sm *Manager) StartNew(scopeKey string) (string, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	scope := sm.ensureScopeLocked(scopeKey, now)

	newOrdinal := 2
	for _, existing := range scope.OrderedSessions {
		if ord, ok := sessionOrdinal(scopeKey, existing); ok && ord >= newOrdinal {
			newOrdinal = ord + 1
		}
	}
	newKey := scopeKey + "#" + strconv.Itoa(newOrdinal)

	sm.sessions[newKey] = &Session{Metadata: Metadata{ID: uuid.NewString(), Key: newKey, Created: now, Updated: now}}
	scope.ActiveSessionKey = newKey
	scope.OrderedSessions = append([]string{newKey}, scope.OrderedSessions...)
	scope.UpdatedAt = now

	if err := sm.saveIndexLocked(); err != nil {
		return "", err
	}
	return newKey, nil
}

func (sm *Manager) List(scopeKey string) []SessionMeta {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	scope, ok := sm.index.Scopes[scopeKey]
	if !ok || scope == nil {
		return nil
	}
	out := make([]SessionMeta, 0, len(scope.OrderedSessions))
	for i, key := range scope.OrderedSessions {
		meta := SessionMeta{Ordinal: i + 1, SessionKey: key, Active: key == scope.ActiveSessionKey}
		if s, ok := sm.sessions[key]; ok {
			meta.UpdatedAt = s.Updated
			meta.MessageCnt = len(s.Messages)
			meta.Description = s.Description
		}
		out = append(out, meta)
	}
	return out
}

func sessionOrdinal(scopeKey, sessionKey string) (int, bool) {
	if sessionKey == scopeKey {
		return 1, true
	}
	prefix := scopeKey + "#"
	if !strings.HasPrefix(sessionKey, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(sessionKey, prefix))
	if err != nil || n < 2 {
		return 0, false
	}
	return n, true
}
