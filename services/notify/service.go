package notify

import (
	"log"
	"sync"
	"time"
)

// maxBuffered bounds the notice buffer; older notices fall off the front.
const maxBuffered = 50

// Notice is a user-facing message about a background failure or recovery.
type Notice struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service buffers notices until a client drains them. Background services
// publish here instead of surfacing recoverable failures as request errors.
type Service struct {
	mu      sync.Mutex
	notices []Notice
}

func NewService() *Service {
	return &Service{}
}

// Publish appends a notice, evicting the oldest when the buffer is full.
func (s *Service) Publish(kind, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notices = append(s.notices, Notice{
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now(),
	})
	if len(s.notices) > maxBuffered {
		s.notices = s.notices[len(s.notices)-maxBuffered:]
	}
	log.Printf("[notify] %s: %s", kind, message)
}

// Drain returns all buffered notices and clears the buffer.
func (s *Service) Drain() []Notice {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.notices
	s.notices = nil
	if out == nil {
		out = []Notice{}
	}
	return out
}
