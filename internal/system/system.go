// Package system wires every storage, user, session, and group component
// together behind one root object, and owns the startup recovery ordering
// (spec §4.7). The only package-level globals in the whole tree are the
// logger and metrics registry (spec §9 "Global mutable state"); everything
// else is owned by System and passed explicitly.
package system

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/streambroker/internal/config"
	"github.com/adred-codev/streambroker/internal/group"
	"github.com/adred-codev/streambroker/internal/ierror"
	"github.com/adred-codev/streambroker/internal/persistence"
	"github.com/adred-codev/streambroker/internal/retention"
	"github.com/adred-codev/streambroker/internal/session"
	"github.com/adred-codev/streambroker/internal/storage/segment"
	"github.com/adred-codev/streambroker/internal/storage/stream"
	"github.com/adred-codev/streambroker/internal/storage/topic"
	"github.com/adred-codev/streambroker/internal/users"
	"github.com/adred-codev/streambroker/internal/workerpool"
)

// System is the root object.
type System struct {
	Config     *config.Config
	Log        zerolog.Logger
	Users      *users.Directory
	PATs       *users.PATStore
	Sessions   *session.Manager
	Permission *users.Permissioner

	persister persistence.Persister

	mu      sync.RWMutex
	streams map[int]*stream.Stream
	byName  map[string]int
	nextID  int
	groups  map[int]map[int]*group.Directory // streamID -> topicID -> its consumer-group directory

	retention *retention.Task
	ioPool    *workerpool.Pool
}

// Open recovers (or bootstraps) the whole broker rooted at cfg.DataDir,
// loading users, then streams/topics/partitions/segments numerically
// ascending. No system-info record (version or migrations) is read.
func Open(cfg *config.Config, log zerolog.Logger) (*System, error) {
	s := &System{
		Config:     cfg,
		Log:        log,
		Users:      users.NewDirectory(),
		PATs:       users.NewPATStore(),
		Sessions:   session.NewManager(),
		persister:  persistence.NewFilePersister(),
		streams:    make(map[int]*stream.Stream),
		byName:     make(map[string]int),
		nextID:     1,
		groups:     make(map[int]map[int]*group.Directory),
	}
	s.Permission = users.NewPermissioner(s.Users)

	if err := s.loadUsers(); err != nil {
		return nil, err
	}
	if err := s.loadStreams(); err != nil {
		return nil, err
	}

	s.ioPool = workerpool.New(8, 256, log)
	s.retention = retention.New(cfg.RetentionTick, s.sweepTargets, s.ioPool, log)
	s.retention.Start()

	return s, nil
}

// loadUsers recovers the persisted users/PAT databases, or bootstraps the
// root account from IGGY_ROOT_USERNAME/PASSWORD on a brand-new data
// directory (spec §6 "CLI & env for bootstrap": subsequent starts ignore
// those variables because a users database is already on disk).
func (s *System) loadUsers() error {
	usersDir := filepath.Join(s.Config.DataDir, "users")
	s.Users.SetPersistence(filepath.Join(usersDir, "users.json"), s.persister)
	s.PATs.SetPersistence(filepath.Join(usersDir, "personal_access_tokens.json"), s.persister)

	found, err := s.Users.Load()
	if err != nil {
		return err
	}
	if !found {
		root, err := users.NewRoot(s.Config.RootUsername, s.Config.RootPassword)
		if err != nil {
			return err
		}
		if err := s.Users.Register(root); err != nil {
			return err
		}
	}
	return s.PATs.Load()
}

// loadStreams iterates stream directories numerically, recovering every
// topic/partition/segment beneath them (spec §4.7).
func (s *System) loadStreams() error {
	streamsDir := filepath.Join(s.Config.DataDir, "streams")
	ids, err := numericSubdirs(streamsDir)
	if err != nil {
		return err
	}
	for _, id := range ids {
		dir := filepath.Join(streamsDir, fmt.Sprint(id))
		name, err := readNameFile(filepath.Join(dir, "stream.name"))
		if err != nil {
			name = fmt.Sprintf("stream-%d", id)
		}
		st := stream.New(dir, id, name, time.Now(), s.persister)
		if err := s.loadTopics(st, dir); err != nil {
			return err
		}
		s.streams[id] = st
		s.byName[name] = id
		if id >= s.nextID {
			s.nextID = id + 1
		}
	}
	return nil
}

func (s *System) loadTopics(st *stream.Stream, streamDir string) error {
	topicsDir := filepath.Join(streamDir, "topics")
	ids, err := numericSubdirs(topicsDir)
	if err != nil {
		return err
	}
	for _, id := range ids {
		dir := filepath.Join(topicsDir, fmt.Sprint(id))
		name, err := readNameFile(filepath.Join(dir, "topic.name"))
		if err != nil {
			name = fmt.Sprintf("topic-%d", id)
		}
		partitionIDs, err := numericSubdirs(filepath.Join(dir, "partitions"))
		if err != nil {
			return err
		}
		partitionCount := len(partitionIDs)
		if partitionCount == 0 {
			partitionCount = 1
		}
		cfg := topic.Config{
			PartitionCount: partitionCount,
			MessageExpiry:  s.Config.MessageExpiry,
		}
		if data, err := os.ReadFile(filepath.Join(dir, "topic.config.json")); err == nil {
			if err := json.Unmarshal(data, &cfg); err != nil {
				return err
			}
			cfg.PartitionCount = partitionCount
		}
		t, err := topic.Open(dir, id, cfg, s.segmentConfig())
		if err != nil {
			return err
		}
		st.RegisterTopic(id, name, t)
	}
	return nil
}

func (s *System) segmentConfig() segment.Config {
	return segment.Config{
		ThresholdBytes:    s.Config.SegmentSizeBytes,
		Fsync:             s.Config.Fsync,
		Persister:         s.persister,
		IndexCacheEntries: s.Config.SegmentIndexCacheSz,
	}
}

// CreateStream registers a brand-new, empty stream.
func (s *System) CreateStream(name string) (*stream.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[name]; exists {
		return nil, ierror.New(ierror.ResourceAlreadyExists, fmt.Sprintf("stream %q already exists", name))
	}
	id := s.nextID
	s.nextID++
	dir := filepath.Join(s.Config.DataDir, "streams", fmt.Sprint(id))
	st := stream.New(dir, id, name, time.Now(), s.persister)
	if err := s.persister.Overwrite(filepath.Join(dir, "stream.name"), []byte(name)); err != nil {
		return nil, err
	}
	s.streams[id] = st
	s.byName[name] = id
	return st, nil
}

// Stream returns the stream with the given id.
func (s *System) Stream(id int) (*stream.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.streams[id]
	if !ok {
		return nil, ierror.New(ierror.ResourceNotFound, fmt.Sprintf("stream %d not found", id))
	}
	return st, nil
}

// StreamByName resolves a stream by its unique name.
func (s *System) StreamByName(name string) (*stream.Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return nil, ierror.New(ierror.ResourceNotFound, fmt.Sprintf("stream %q not found", name))
	}
	return s.streams[id], nil
}

// Streams returns every stream.
func (s *System) Streams() []*stream.Stream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*stream.Stream, 0, len(s.streams))
	for _, st := range s.streams {
		out = append(out, st)
	}
	return out
}

// DeleteStream cascades: removes every topic's partitions, then the
// stream's own bookkeeping (spec §3 "Ownership": "Deleting a stream
// cascades").
func (s *System) DeleteStream(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[id]
	if !ok {
		return ierror.New(ierror.ResourceNotFound, fmt.Sprintf("stream %d not found", id))
	}
	for topicID := range st.Topics() {
		if err := st.DeleteTopic(topicID); err != nil {
			return err
		}
	}
	delete(s.streams, id)
	delete(s.byName, st.Name())
	delete(s.groups, id)
	return nil
}

// CreateTopic opens a brand-new topic within streamID using the broker's
// configured segment parameters.
func (s *System) CreateTopic(streamID int, name string, cfg topic.Config) (*topic.Topic, int, error) {
	st, err := s.Stream(streamID)
	if err != nil {
		return nil, 0, err
	}
	return st.CreateTopic(name, cfg, s.segmentConfig())
}

// GroupDirectory returns (creating if necessary) the consumer-group
// directory for one topic.
func (s *System) GroupDirectory(streamID, topicID int) *group.Directory {
	s.mu.Lock()
	defer s.mu.Unlock()
	topics, ok := s.groups[streamID]
	if !ok {
		topics = make(map[int]*group.Directory)
		s.groups[streamID] = topics
	}
	dir, ok := topics[topicID]
	if !ok {
		dir = group.NewDirectory()
		topics[topicID] = dir
	}
	return dir
}

// sweepTargets adapts every topic across every stream into the
// retention.Sweeper interface for the periodic retention task.
func (s *System) sweepTargets() []retention.Sweeper {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []retention.Sweeper
	for _, st := range s.streams {
		for _, t := range st.Topics() {
			out = append(out, t)
		}
	}
	return out
}

// Close stops background tasks. Segment files are closed individually by
// their owning partitions; System itself holds no raw file handles.
func (s *System) Close() {
	if s.retention != nil {
		s.retention.Stop()
	}
	if s.ioPool != nil {
		s.ioPool.Stop()
	}
}

// AddClient registers a newly accepted connection in the session registry,
// satisfying transport.Sessions.
func (s *System) AddClient(address, transportName string) *session.Client {
	return s.Sessions.AddClient(address, transportName)
}

// DeleteClient removes a disconnected connection from the session
// registry, satisfying transport.Sessions.
func (s *System) DeleteClient(address string) (*session.Client, bool) {
	return s.Sessions.DeleteClient(address)
}

// SweepStale returns every client whose heartbeat has lapsed, satisfying
// heartbeat.Sessions.
func (s *System) SweepStale(timeout time.Duration) []*session.Client {
	return s.Sessions.SweepStale(timeout)
}

// LeaveAllGroups cascades a client's disconnect through every consumer
// group it had joined, across every topic (spec §3 "Ownership": "detaching
// a client removes it from every group it joined").
func (s *System) LeaveAllGroups(client *session.Client) {
	for _, m := range client.Groups() {
		if dir := s.existingGroupDirectory(m.StreamID, m.TopicID); dir != nil {
			dir.LeaveAll(client.ID)
		}
		client.LeaveGroup(m)
	}
}

func (s *System) existingGroupDirectory(streamID, topicID int) *group.Directory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	topics, ok := s.groups[streamID]
	if !ok {
		return nil
	}
	return topics[topicID]
}

