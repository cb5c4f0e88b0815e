// Package stream implements the top-level namespace of topics (spec §3
// "Stream"): a stable numeric id, a unique name, and ownership of every
// topic created within it.
package stream

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/adred-codev/streambroker/internal/ierror"
	"github.com/adred-codev/streambroker/internal/persistence"
	"github.com/adred-codev/streambroker/internal/storage/segment"
	"github.com/adred-codev/streambroker/internal/storage/topic"
)

// Stream owns a set of topics, keyed by both id and name.
type Stream struct {
	dir       string
	id        int
	name      string
	createdAt time.Time
	persister persistence.Persister

	mu     sync.RWMutex
	topics map[int]*topic.Topic
	byName map[string]int
	nextID int
}

// New constructs an empty, in-memory Stream record; startup recovery adds
// its existing topics from disk with RegisterTopic.
func New(dir string, id int, name string, createdAt time.Time, persister persistence.Persister) *Stream {
	return &Stream{
		dir:       dir,
		id:        id,
		name:      name,
		createdAt: createdAt,
		persister: persister,
		topics:    make(map[int]*topic.Topic),
		byName:    make(map[string]int),
		nextID:    1,
	}
}

func (s *Stream) ID() int              { return s.id }
func (s *Stream) Name() string         { return s.name }
func (s *Stream) CreatedAt() time.Time { return s.createdAt }
func (s *Stream) Dir() string          { return s.dir }

// CreateTopic opens a brand-new topic directory and registers it.
func (s *Stream) CreateTopic(name string, cfg topic.Config, segCfg segment.Config) (*topic.Topic, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[name]; exists {
		return nil, 0, ierror.New(ierror.ResourceAlreadyExists, fmt.Sprintf("topic %q already exists in stream %q", name, s.name))
	}

	id := s.nextID
	s.nextID++

	dir := filepath.Join(s.dir, "topics", fmt.Sprint(id))
	t, err := topic.Open(dir, id, cfg, segCfg)
	if err != nil {
		return nil, 0, err
	}
	if s.persister != nil {
		if err := s.persister.Overwrite(filepath.Join(dir, "topic.name"), []byte(name)); err != nil {
			return nil, 0, err
		}
		data, err := json.Marshal(cfg)
		if err != nil {
			return nil, 0, err
		}
		if err := s.persister.Overwrite(filepath.Join(dir, "topic.config.json"), data); err != nil {
			return nil, 0, err
		}
	}
	s.topics[id] = t
	s.byName[name] = id
	return t, id, nil
}

// RegisterTopic wires an already-opened topic (used during startup
// recovery, spec §4.7) under the given id/name.
func (s *Stream) RegisterTopic(id int, name string, t *topic.Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[id] = t
	s.byName[name] = id
	if id >= s.nextID {
		s.nextID = id + 1
	}
}

// Topic returns the topic with the given id.
func (s *Stream) Topic(id int) (*topic.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.topics[id]
	if !ok {
		return nil, ierror.New(ierror.ResourceNotFound, fmt.Sprintf("topic %d not found in stream %q", id, s.name))
	}
	return t, nil
}

// TopicByName resolves a topic by its unique-within-stream name.
func (s *Stream) TopicByName(name string) (*topic.Topic, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return nil, 0, ierror.New(ierror.ResourceNotFound, fmt.Sprintf("topic %q not found in stream %q", name, s.name))
	}
	return s.topics[id], id, nil
}

// Topics returns every topic id currently owned by the stream.
func (s *Stream) Topics() map[int]*topic.Topic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]*topic.Topic, len(s.topics))
	for id, t := range s.topics {
		out[id] = t
	}
	return out
}

// DeleteTopic deletes every partition of the topic (via
// topic.DeletePartitions) and then removes its bookkeeping, matching the
// cascade described in spec §3 "Ownership".
func (s *Stream) DeleteTopic(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[id]
	if !ok {
		return ierror.New(ierror.ResourceNotFound, fmt.Sprintf("topic %d not found", id))
	}
	if err := t.DeletePartitions(t.PartitionCount()); err != nil {
		return err
	}
	delete(s.topics, id)
	for name, tid := range s.byName {
		if tid == id {
			delete(s.byName, name)
			break
		}
	}
	return nil
}

// Purge drops every message in every topic/partition while keeping the
// stream, topic, and partition structure intact (spec §4.7 supplemental
// "purge" operation, grounded on original_source's purge_stream).
func (s *Stream) Purge() error {
	s.mu.RLock()
	topics := make([]*topic.Topic, 0, len(s.topics))
	for _, t := range s.topics {
		topics = append(topics, t)
	}
	s.mu.RUnlock()

	for _, t := range topics {
		n := t.PartitionCount()
		if err := t.DeletePartitions(n); err != nil {
			return err
		}
		if err := t.AddPartitions(n); err != nil {
			return err
		}
	}
	return nil
}
