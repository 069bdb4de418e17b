package playback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"cloudplay/models"
)

var (
	// ErrUnknownCatalogID means the requested ID is not in the current catalog.
	ErrUnknownCatalogID = errors.New("unknown catalog id")

	// ErrLocatorFailed means the streaming URL could not be resolved. The
	// session returns to idle; the catalog entry itself is untouched.
	ErrLocatorFailed = errors.New("stream locator failed")

	// ErrNoActiveSession means a transition was requested with nothing playing.
	ErrNoActiveSession = errors.New("no active playback session")
)

// State names one phase of the playback lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateResolving State = "resolving"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateEnded     State = "ended"
	StateClosed    State = "closed"
)

const (
	// nearEndEpsilon is how close to the end a saved position may be before a
	// new playback starts over instead of resuming.
	nearEndEpsilon = 10.0

	defaultCommitInterval = 3 * time.Second
)

type catalogService interface {
	Entry(id string) (models.CatalogEntry, bool)
	NextEpisode(id string) (models.Episode, bool)
}

type historyService interface {
	Get(id string) (models.ProgressRecord, bool)
	Set(id string, position, duration float64) error
	MarkComplete(id string) error
}

type linkResolver interface {
	TemporaryLink(ctx context.Context, path string) (string, error)
}

type notifier interface {
	Publish(kind, message string)
}

// Session is the externally visible playback state.
type Session struct {
	ID        string           `json:"id"`
	CatalogID string           `json:"catalogId"`
	Kind      models.MediaKind `json:"kind"`
	Name      string           `json:"name"`
	StreamURL string           `json:"streamUrl"`
	Position  float64          `json:"position"`
	Duration  float64          `json:"duration"`
	State     State            `json:"state"`
}

// session is the internal record. Position is derived, not stored: it is
// basePosition plus wall-clock time elapsed since base was taken, frozen
// while paused.
type session struct {
	id        string
	catalogID string
	kind      models.MediaKind
	name      string
	streamURL string
	duration  float64

	state        State
	basePosition float64
	baseTime     time.Time

	stop chan struct{}
}

// Service coordinates playback sessions: one active session at a time, with
// progress committed to the watch history on every transition and on a
// periodic tick while playing.
type Service struct {
	catalog  catalogService
	history  historyService
	links    linkResolver
	notifier notifier

	commitInterval time.Duration
	now            func() time.Time

	mu      sync.Mutex
	current *session
}

// NewService wires the playback coordinator. commitInterval <= 0 falls back
// to the 3-second default.
func NewService(catalog catalogService, history historyService, links linkResolver, n notifier, commitInterval time.Duration) *Service {
	if commitInterval <= 0 {
		commitInterval = defaultCommitInterval
	}
	return &Service{
		catalog:        catalog,
		history:        history,
		links:          links,
		notifier:       n,
		commitInterval: commitInterval,
		now:            time.Now,
	}
}

// Play starts playback for a catalog ID, replacing any active session. The
// saved position is restored unless it sits within nearEndEpsilon of the
// known duration, in which case playback starts over.
func (s *Service) Play(ctx context.Context, id string, duration float64) (Session, error) {
	entry, ok := s.catalog.Entry(id)
	if !ok {
		return Session{}, fmt.Errorf("%w: %q", ErrUnknownCatalogID, id)
	}

	s.mu.Lock()
	s.releaseLocked(true)
	s.mu.Unlock()

	return s.startSession(ctx, entry, duration)
}

// startSession resolves the stream URL and installs the new session. Shared
// by Play and the episode auto-advance path.
func (s *Service) startSession(ctx context.Context, entry models.CatalogEntry, duration float64) (Session, error) {
	log.Printf("[playback] resolving stream for %q (%s)", entry.Name, entry.ID)

	streamURL, err := s.links.TemporaryLink(ctx, entry.Path)
	if err != nil {
		if s.notifier != nil {
			s.notifier.Publish("playback", "could not resolve a streaming link for "+entry.Name)
		}
		return Session{}, fmt.Errorf("%w: %v", ErrLocatorFailed, err)
	}

	if rec, ok := s.history.Get(entry.ID); ok {
		if duration <= 0 {
			duration = rec.Duration
		}
	}

	position := 0.0
	if rec, ok := s.history.Get(entry.ID); ok {
		position = rec.Position
		if duration > 0 && rec.Position >= duration-nearEndEpsilon {
			position = 0
		}
		if rec.Duration > 0 && rec.Position >= rec.Duration-nearEndEpsilon {
			position = 0
		}
	}

	sess := &session{
		id:           uuid.NewString(),
		catalogID:    entry.ID,
		kind:         entry.Kind,
		name:         entry.Name,
		streamURL:    streamURL,
		duration:     duration,
		state:        StatePlaying,
		basePosition: position,
		baseTime:     s.now(),
		stop:         make(chan struct{}),
	}

	s.mu.Lock()
	s.current = sess
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.commit(sess.catalogID, position, duration)
	go s.commitLoop(sess)

	log.Printf("[playback] session %s playing %q from %.1fs", sess.id, entry.Name, position)
	return snapshot, nil
}

// Pause freezes the derived position and commits it.
func (s *Service) Pause() (Session, error) {
	s.mu.Lock()
	sess := s.current
	if sess == nil || (sess.state != StatePlaying && sess.state != StatePaused) {
		s.mu.Unlock()
		return Session{}, ErrNoActiveSession
	}
	if sess.state == StatePlaying {
		sess.basePosition = s.positionLocked(sess)
		sess.baseTime = s.now()
		sess.state = StatePaused
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.commit(sess.catalogID, snapshot.Position, snapshot.Duration)
	return snapshot, nil
}

// Resume restarts the clock from the paused position.
func (s *Service) Resume() (Session, error) {
	s.mu.Lock()
	sess := s.current
	if sess == nil || (sess.state != StatePlaying && sess.state != StatePaused) {
		s.mu.Unlock()
		return Session{}, ErrNoActiveSession
	}
	if sess.state == StatePaused {
		sess.baseTime = s.now()
		sess.state = StatePlaying
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.commit(sess.catalogID, snapshot.Position, snapshot.Duration)
	return snapshot, nil
}

// Seek moves the position and commits it, without changing the play/pause
// state.
func (s *Service) Seek(position float64) (Session, error) {
	if position < 0 {
		position = 0
	}

	s.mu.Lock()
	sess := s.current
	if sess == nil || (sess.state != StatePlaying && sess.state != StatePaused) {
		s.mu.Unlock()
		return Session{}, ErrNoActiveSession
	}
	if sess.duration > 0 && position > sess.duration {
		position = sess.duration
	}
	sess.basePosition = position
	sess.baseTime = s.now()
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.commit(sess.catalogID, snapshot.Position, snapshot.Duration)
	return snapshot, nil
}

// Close ends the active session, committing the final position. Closing with
// no session is a no-op.
func (s *Service) Close() Session {
	s.mu.Lock()
	snapshot := s.snapshotLocked()
	s.releaseLocked(true)
	s.mu.Unlock()

	snapshot.State = StateClosed
	return snapshot
}

// Status reports the current session; an idle coordinator reports StateIdle.
func (s *Service) Status() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// releaseLocked commits the final position of the current session (when asked)
// and tears it down. Callers hold s.mu.
func (s *Service) releaseLocked(commitFinal bool) {
	sess := s.current
	if sess == nil {
		return
	}

	if commitFinal && (sess.state == StatePlaying || sess.state == StatePaused) {
		s.commit(sess.catalogID, s.positionLocked(sess), sess.duration)
	}

	close(sess.stop)
	s.current = nil
}

// positionLocked derives the live position for a session.
func (s *Service) positionLocked(sess *session) float64 {
	pos := sess.basePosition
	if sess.state == StatePlaying {
		pos += s.now().Sub(sess.baseTime).Seconds()
	}
	if sess.duration > 0 && pos > sess.duration {
		pos = sess.duration
	}
	return pos
}

func (s *Service) snapshotLocked() Session {
	sess := s.current
	if sess == nil {
		return Session{State: StateIdle}
	}
	return Session{
		ID:        sess.id,
		CatalogID: sess.catalogID,
		Kind:      sess.kind,
		Name:      sess.name,
		StreamURL: sess.streamURL,
		Position:  s.positionLocked(sess),
		Duration:  sess.duration,
		State:     sess.state,
	}
}

func (s *Service) commit(catalogID string, position, duration float64) {
	if err := s.history.Set(catalogID, position, duration); err != nil {
		log.Printf("[playback] progress commit failed for %s: %v", catalogID, err)
	}
}

// commitLoop periodically commits progress for one session and watches for
// its natural end. It exits when the session is replaced or closed.
func (s *Service) commitLoop(sess *session) {
	ticker := time.NewTicker(s.commitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.stop:
			return
		case <-ticker.C:
		}
		if s.tick(sess) {
			return
		}
	}
}

// tick commits the session's current position and handles the end of the
// media. Returns true when the loop should stop.
func (s *Service) tick(sess *session) bool {
	s.mu.Lock()
	if s.current != sess {
		s.mu.Unlock()
		return true
	}
	if sess.state != StatePlaying {
		s.mu.Unlock()
		return false
	}

	pos := s.positionLocked(sess)
	ended := sess.duration > 0 && pos >= sess.duration
	if ended {
		sess.state = StateEnded
		sess.basePosition = sess.duration
	}
	s.mu.Unlock()

	if !ended {
		s.commit(sess.catalogID, pos, sess.duration)
		return false
	}

	s.finish(sess)
	return true
}

// finish marks the media complete and, for episodes, advances to the next
// one in the series.
func (s *Service) finish(sess *session) {
	log.Printf("[playback] session %s reached the end of %q", sess.id, sess.name)
	if err := s.history.MarkComplete(sess.catalogID); err != nil {
		log.Printf("[playback] mark complete failed for %s: %v", sess.catalogID, err)
	}

	if sess.kind == models.MediaKindEpisode {
		if next, ok := s.catalog.NextEpisode(sess.catalogID); ok {
			s.advance(sess, next)
		}
	}
}

// advance swaps the ended session for the next episode. A locator failure
// here is reported as a notice, not an error; the session simply ends.
func (s *Service) advance(prev *session, next models.Episode) {
	entry, ok := s.catalog.Entry(next.ID)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.current != prev {
		s.mu.Unlock()
		return
	}
	s.current = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.startSession(ctx, entry, 0); err != nil {
		log.Printf("[playback] auto-advance to %q failed: %v", entry.Name, err)
	}
}
