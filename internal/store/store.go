// Package store persists extension and web-app state as one JSON document per
// key under a base URL. Any scheme afs understands works (local paths, mem://,
// s3:// with the right storager registered).
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/viant/afs"
	"github.com/viant/afs/option"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Options struct {
	URL    string
	FS     afs.Service
	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger
}

type Store struct {
	fs      afs.Service
	baseURL string
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger

	// mu serializes read-modify-write of documents.
	mu sync.Mutex
}

// Open prepares the base location. Settings are seeded with install defaults
// when absent.
func Open(ctx context.Context, opts Options) (*Store, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.URL), "/")
	if base == "" {
		return nil, errors.New("store url is empty")
	}

	fs := opts.FS
	if fs == nil {
		fs = afs.New()
	}

	s := &Store{
		fs:      fs,
		baseURL: base,
		now:     opts.Now,
		newID:   opts.NewID,
		logger:  opts.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	exists, err := fs.Exists(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("check store %s: %w", base, err)
	}
	if !exists {
		if err := fs.Create(ctx, base, os.ModePerm, true); err != nil {
			return nil, fmt.Errorf("create store %s: %w", base, err)
		}
	}

	if err := s.ensureSettings(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

func (s *Store) docURL(key string) string {
	return s.baseURL + "/" + key + ".json"
}

// Get decodes the document under key into v. It reports false when absent.
func (s *Store) Get(ctx context.Context, key string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(ctx, key, v)
}

func (s *Store) Put(ctx context.Context, key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(ctx, key, v)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	url := s.docURL(key)
	exists, err := s.fs.Exists(ctx, url)
	if err != nil || !exists {
		return err
	}
	return s.fs.Delete(ctx, url)
}

func (s *Store) get(ctx context.Context, key string, v any) (found bool, err error) {
	url := s.docURL(key)
	exists, err := s.fs.Exists(ctx, url)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", key, err)
	}
	if !exists {
		return false, nil
	}

	reader, err := s.fs.OpenURL(ctx, url)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", key, err)
	}
	defer func() {
		err = errors.Join(err, reader.Close())
	}()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) put(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	url := s.docURL(key)
	exists, err := s.fs.Exists(ctx, url)
	if err != nil {
		return fmt.Errorf("check %s: %w", key, err)
	}
	if exists {
		if err := s.fs.Delete(ctx, url); err != nil {
			return fmt.Errorf("replace %s: %w", key, err)
		}
	}

	writer, err := s.fs.NewWriter(ctx, url, 0o644, option.NewSkipChecksum(true))
	if err != nil {
		return fmt.Errorf("open writer %s: %w", key, err)
	}
	if _, err := writer.Write(raw); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}

	s.logger.Debug("state saved", "key", key, "bytes", len(raw))
	return nil
}

func (s *Store) SetReference(ctx context.Context, ref ReferenceImage) (ReferenceImage, error) {
	if ref.Timestamp == 0 {
		ref.Timestamp = s.nowMillis()
	}
	if err := s.Put(ctx, KeyReferenceImage, ref); err != nil {
		return ReferenceImage{}, err
	}
	return ref, nil
}

func (s *Store) Reference(ctx context.Context) (ReferenceImage, bool, error) {
	var ref ReferenceImage
	ok, err := s.Get(ctx, KeyReferenceImage, &ref)
	return ref, ok, err
}

func (s *Store) APIKeys(ctx context.Context) (APIKeys, error) {
	var keys APIKeys
	_, err := s.Get(ctx, KeyAPIKeys, &keys)
	return keys, err
}

// SaveAPIKeys merges the update into the stored keys. Empty or masked values
// keep the key already stored.
func (s *Store) SaveAPIKeys(ctx context.Context, update APIKeys) (APIKeys, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys APIKeys
	if _, err := s.get(ctx, KeyAPIKeys, &keys); err != nil {
		return APIKeys{}, err
	}
	if v := strings.TrimSpace(update.GeminiAPIKey); v != "" && v != MaskedKey {
		keys.GeminiAPIKey = v
	}
	if v := strings.TrimSpace(update.FalAPIKey); v != "" && v != MaskedKey {
		keys.FalAPIKey = v
	}
	if err := s.put(ctx, KeyAPIKeys, keys); err != nil {
		return APIKeys{}, err
	}
	return keys, nil
}

func (s *Store) ensureSettings(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var settings Settings
	ok, err := s.get(ctx, KeySettings, &settings)
	if err != nil || ok {
		return err
	}
	return s.put(ctx, KeySettings, DefaultSettings())
}

func (s *Store) Settings(ctx context.Context) (Settings, error) {
	settings := DefaultSettings()
	if _, err := s.Get(ctx, KeySettings, &settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings Settings) error {
	if strings.TrimSpace(settings.ButtonPosition) == "" {
		settings.ButtonPosition = DefaultSettings().ButtonPosition
	}
	if strings.TrimSpace(settings.Theme) == "" {
		settings.Theme = DefaultSettings().Theme
	}
	return s.Put(ctx, KeySettings, settings)
}

// AppendHistory puts the entry first and keeps at most MaxHistory entries.
func (s *Store) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Timestamp == 0 {
		entry.Timestamp = s.nowMillis()
	}

	var history []HistoryEntry
	if _, err := s.get(ctx, KeyTransformationHistory, &history); err != nil {
		return err
	}
	history = append([]HistoryEntry{entry}, history...)
	if len(history) > MaxHistory {
		history = history[:MaxHistory]
	}
	return s.put(ctx, KeyTransformationHistory, history)
}

func (s *Store) History(ctx context.Context) ([]HistoryEntry, error) {
	var history []HistoryEntry
	_, err := s.Get(ctx, KeyTransformationHistory, &history)
	return history, err
}

// AddRecentFace records an uploaded face. Re-adding an image moves it to the
// front instead of duplicating it.
func (s *Store) AddRecentFace(ctx context.Context, imageURL, thumbnail string) (RecentFace, error) {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return RecentFace{}, errors.New("face image url is empty")
	}
	if thumbnail == "" {
		thumbnail = imageURL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var faces []RecentFace
	if _, err := s.get(ctx, KeyRecentFaces, &faces); err != nil {
		return RecentFace{}, err
	}

	face := RecentFace{
		ID:         s.newID(),
		ImageURL:   imageURL,
		Thumbnail:  thumbnail,
		UploadedAt: s.nowMillis(),
	}

	out := make([]RecentFace, 0, MaxRecentFaces)
	out = append(out, face)
	for _, f := range faces {
		if f.ImageURL == imageURL {
			continue
		}
		if len(out) == MaxRecentFaces {
			break
		}
		out = append(out, f)
	}

	if err := s.put(ctx, KeyRecentFaces, out); err != nil {
		return RecentFace{}, err
	}
	return face, nil
}

func (s *Store) RecentFaces(ctx context.Context) ([]RecentFace, error) {
	var faces []RecentFace
	_, err := s.Get(ctx, KeyRecentFaces, &faces)
	return faces, err
}

func (s *Store) RemoveRecentFace(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var faces []RecentFace
	if _, err := s.get(ctx, KeyRecentFaces, &faces); err != nil {
		return err
	}
	out := faces[:0]
	for _, f := range faces {
		if f.ID != id {
			out = append(out, f)
		}
	}
	return s.put(ctx, KeyRecentFaces, out)
}

func (s *Store) SetPending(ctx context.Context, pending PendingGeneration) (PendingGeneration, error) {
	if pending.Timestamp == 0 {
		pending.Timestamp = s.nowMillis()
	}
	if err := s.Put(ctx, KeyPendingGeneration, pending); err != nil {
		return PendingGeneration{}, err
	}
	return pending, nil
}

func (s *Store) Pending(ctx context.Context) (PendingGeneration, bool, error) {
	var pending PendingGeneration
	ok, err := s.Get(ctx, KeyPendingGeneration, &pending)
	return pending, ok, err
}

func (s *Store) ClearPending(ctx context.Context) error {
	return s.Delete(ctx, KeyPendingGeneration)
}
