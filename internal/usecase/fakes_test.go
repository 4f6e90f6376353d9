package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"PageHarvester/internal/domain"
)

type memStore struct {
	mu        sync.Mutex
	rows      map[string]domain.PageRecord
	existsErr error
	saveErr   error
	blind     bool // Exists always answers false
	saveCalls int
	batches   [][]domain.PageRecord
	lookups   []string
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]domain.PageRecord{}}
}

func (s *memStore) Exists(_ context.Context, pageURL string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = append(s.lookups, pageURL)
	if s.existsErr != nil {
		return false, s.existsErr
	}
	if s.blind {
		return false, nil
	}
	_, ok := s.rows[pageURL]
	return ok, nil
}

func (s *memStore) SaveBatch(_ context.Context, records []domain.PageRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	s.batches = append(s.batches, append([]domain.PageRecord(nil), records...))
	if s.saveErr != nil {
		return 0, s.saveErr
	}
	inserted := 0
	for _, rec := range records {
		if _, ok := s.rows[rec.PageURL]; ok {
			continue
		}
		s.rows[rec.PageURL] = rec
		inserted++
	}
	return inserted, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type fakeAdapter struct {
	mu          sync.Mutex
	candidates  []domain.Candidate
	listErr     error
	detailErr   map[string]error
	extractErr  map[string]error
	attachments []domain.AttachmentRef
	screenshot  []byte
	onDetail    func(url string)
	listCalls   int
	fetched     []string
}

func (a *fakeAdapter) ListCandidates(context.Context) ([]domain.Candidate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listCalls++
	return a.candidates, a.listErr
}

func (a *fakeAdapter) FetchDetail(_ context.Context, url string) (domain.RawPage, error) {
	a.mu.Lock()
	a.fetched = append(a.fetched, url)
	hook := a.onDetail
	err := a.detailErr[url]
	a.mu.Unlock()

	if hook != nil {
		hook(url)
	}
	if err != nil {
		return domain.RawPage{}, err
	}
	return domain.RawPage{
		URL:        url,
		Body:       []byte("<html><body>" + url + "</body></html>"),
		Screenshot: a.screenshot,
		FetchedAt:  time.Now(),
	}, nil
}

func (a *fakeAdapter) Extract(_ context.Context, page domain.RawPage) (domain.Extraction, error) {
	if err := a.extractErr[page.URL]; err != nil {
		return domain.Extraction{}, err
	}
	return domain.Extraction{
		Title:           "Title of " + page.URL,
		Source:          "北京发布",
		Content:         "  first line \n\n second line ",
		ReleaseDateText: "发布时间：2024-03-07 09:30",
		Attachments:     a.attachments,
	}, nil
}

func (a *fakeAdapter) fetchedURLs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.fetched...)
}

type fakeFetcher struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url, _ string, destPath string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	fail := f.fail[url]
	f.mu.Unlock()

	if fail {
		return "", errors.New("download attempts exhausted after 3 attempts")
	}
	if err := os.WriteFile(destPath, []byte(url), 0o644); err != nil {
		return "", err
	}
	return filepath.Base(destPath), nil
}

type fakeCache struct {
	mu         sync.Mutex
	seen       map[string]bool
	err        error
	remembered []string
}

func (c *fakeCache) Seen(_ context.Context, pageURL string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	return c.seen[pageURL], nil
}

func (c *fakeCache) Remember(_ context.Context, pageURLs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remembered = append(c.remembered, pageURLs...)
	return c.err
}

type fakeMirror struct {
	mu       sync.Mutex
	prefixes []string
}

func (m *fakeMirror) MirrorDir(_ context.Context, _ string, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefixes = append(m.prefixes, prefix)
	return nil
}
