package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"sync"
	"time"

	"cloudplay/models"
	"cloudplay/services/dropbox"
)

// ErrListingFailed means a catalog refresh could not complete. Recoverable:
// the previously published catalog stays in place and a manual retry is fine.
var ErrListingFailed = errors.New("remote listing failed")

// ErrNotInCatalog means the requested ID matches no current catalog entry.
var ErrNotInCatalog = errors.New("id not present in catalog")

const (
	thumbnailFileName   = "thumbnail.jpg"
	descriptionFileName = "description.txt"
)

type remoteLister interface {
	ListFolder(ctx context.Context, root string) (dropbox.ListFolderPage, error)
	ListFolderContinue(ctx context.Context, cursor string) (dropbox.ListFolderPage, error)
}

type notifier interface {
	Publish(kind, message string)
}

// Service owns the FileIndex and the derived movie/series catalog. Both are
// rebuilt wholesale by Refresh and swapped in only after a fully completed
// enumeration; a failed or partial run never replaces the prior catalog.
type Service struct {
	remote    remoteLister
	notifier  notifier
	root      string
	roots     Roots
	videoExts map[string]struct{}

	mu      sync.RWMutex
	catalog models.Catalog
	index   models.FileIndex
	byPath  map[string]models.RemoteFile // path_lower -> file
	entries map[string]models.CatalogEntry
	builtAt time.Time

	refreshMu  sync.Mutex
	inflight   chan struct{}
	refreshErr error
}

// NewService constructs the catalog service. root is the enumeration root
// ("" is the app folder root); roots carries the movies/series prefixes;
// videoExtensions is the supported extension list, dots optional.
func NewService(remote remoteLister, root string, roots Roots, videoExtensions []string, n notifier) *Service {
	exts := make(map[string]struct{}, len(videoExtensions))
	for _, ext := range videoExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}

	return &Service{
		remote:    remote,
		notifier:  n,
		root:      root,
		roots:     roots,
		videoExts: exts,
		index:     make(models.FileIndex),
		byPath:    make(map[string]models.RemoteFile),
		entries:   make(map[string]models.CatalogEntry),
	}
}

// Refresh enumerates the remote tree and rebuilds the catalog. Concurrent
// callers coalesce onto the in-flight run and share its outcome, so the
// published catalog is never assembled from interleaved listing runs.
func (s *Service) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	if s.inflight != nil {
		done := s.inflight
		s.refreshMu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}

		s.refreshMu.Lock()
		err := s.refreshErr
		s.refreshMu.Unlock()
		return err
	}

	done := make(chan struct{})
	s.inflight = done
	s.refreshMu.Unlock()

	err := s.refresh(ctx)

	s.refreshMu.Lock()
	s.refreshErr = err
	s.inflight = nil
	s.refreshMu.Unlock()
	close(done)

	return err
}

func (s *Service) refresh(ctx context.Context) error {
	start := time.Now()
	log.Printf("[catalog] refresh start root=%q", s.root)

	index, err := s.enumerateAll(ctx)
	if err != nil {
		if s.notifier != nil {
			s.notifier.Publish("catalog", "catalog refresh failed; keeping previous catalog")
		}
		log.Printf("[catalog] refresh failed after %v: %v", time.Since(start), err)
		if errors.Is(err, dropbox.ErrAuthFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrListingFailed, err)
	}

	built := BuildCatalog(index, s.roots, s.videoExts)

	byPath := make(map[string]models.RemoteFile, len(index))
	for _, file := range index {
		byPath[file.PathLower] = file
	}
	entries := entryLookup(built)

	s.mu.Lock()
	s.index = index
	s.byPath = byPath
	s.catalog = built
	s.entries = entries
	s.builtAt = time.Now()
	s.mu.Unlock()

	log.Printf("[catalog] refresh complete files=%d movies=%d series=%d in %v",
		len(index), len(built.Movies), len(built.Series), time.Since(start))
	return nil
}

// enumerateAll walks the cursor chain until the end-of-listing signal. A
// failure mid-pagination aborts the whole pass; partial indexes are never
// returned.
func (s *Service) enumerateAll(ctx context.Context) (models.FileIndex, error) {
	index := make(models.FileIndex)

	page, err := s.remote.ListFolder(ctx, s.root)
	if err != nil {
		return nil, fmt.Errorf("list folder %q: %w", s.root, err)
	}

	for {
		for _, file := range page.Entries {
			index[file.ID] = file
		}
		if !page.HasMore {
			return index, nil
		}
		page, err = s.remote.ListFolderContinue(ctx, page.Cursor)
		if err != nil {
			return nil, fmt.Errorf("continue listing: %w", err)
		}
	}
}

// entryLookup flattens the catalog into an id -> playable entry map.
func entryLookup(c models.Catalog) map[string]models.CatalogEntry {
	entries := make(map[string]models.CatalogEntry)
	for _, movie := range c.Movies {
		entries[movie.ID] = models.CatalogEntry{
			ID:   movie.ID,
			Kind: models.MediaKindMovie,
			Name: movie.DisplayName,
			Path: movie.Path,
		}
	}
	for _, series := range c.Series {
		for _, episodes := range series.Seasons {
			for _, ep := range episodes {
				entries[ep.ID] = models.CatalogEntry{
					ID:   ep.ID,
					Kind: models.MediaKindEpisode,
					Name: series.Name + " - " + ep.Name,
					Path: ep.Path,
				}
			}
		}
	}
	return entries
}

// Catalog returns the current catalog with sibling thumbnail/description
// paths resolved against the FileIndex. Resolution happens here, on read,
// with plain map lookups - never with extra remote round trips.
func (s *Service) Catalog() models.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := models.Catalog{
		Movies: make([]models.Movie, len(s.catalog.Movies)),
		Series: make([]models.Series, len(s.catalog.Series)),
	}
	copy(out.Movies, s.catalog.Movies)
	copy(out.Series, s.catalog.Series)

	for i := range out.Movies {
		dir := strings.ToLower(path.Dir(out.Movies[i].Path))
		out.Movies[i].ThumbnailPath = s.siblingLocked(dir, thumbnailFileName)
		out.Movies[i].DescriptionPath = s.siblingLocked(dir, descriptionFileName)
	}
	for i := range out.Series {
		dir := strings.ToLower(out.Series[i].FolderPath)
		out.Series[i].ThumbnailPath = s.siblingLocked(dir, thumbnailFileName)
		out.Series[i].DescriptionPath = s.siblingLocked(dir, descriptionFileName)
	}
	return out
}

func (s *Service) siblingLocked(dirLower, name string) string {
	if file, ok := s.byPath[dirLower+"/"+name]; ok {
		return file.PathDisplay
	}
	return ""
}

// Entry resolves a catalog ID to its playable entry.
func (s *Service) Entry(id string) (models.CatalogEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	return entry, ok
}

// FileAt reports whether a lowercase path is part of the current FileIndex
// and returns its file record. Handlers use this to serve only indexed
// content.
func (s *Service) FileAt(pathLower string) (models.RemoteFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	file, ok := s.byPath[strings.ToLower(pathLower)]
	return file, ok
}

// NextEpisode returns the episode that follows id within its series: the next
// episode in the same season, else the first episode of the next season, else
// nothing. IDs that are not episodes never have a next episode.
func (s *Service) NextEpisode(id string) (models.Episode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok || entry.Kind != models.MediaKindEpisode {
		return models.Episode{}, false
	}

	for _, series := range s.catalog.Series {
		labels := SortedSeasonLabels(series)
		for li, label := range labels {
			episodes := series.Seasons[label]
			for ei, ep := range episodes {
				if ep.ID != id {
					continue
				}
				if ei+1 < len(episodes) {
					return episodes[ei+1], true
				}
				for _, nextLabel := range labels[li+1:] {
					if next := series.Seasons[nextLabel]; len(next) > 0 {
						return next[0], true
					}
				}
				return models.Episode{}, false
			}
		}
	}
	return models.Episode{}, false
}

// BuiltAt reports when the current catalog was swapped in; zero before the
// first successful refresh.
func (s *Service) BuiltAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.builtAt
}
