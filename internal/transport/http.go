package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/adred-codev/streambroker/internal/authjwt"
	"github.com/adred-codev/streambroker/internal/ierror"
	"github.com/adred-codev/streambroker/internal/metrics"
	"github.com/adred-codev/streambroker/internal/storage/codec"
	"github.com/adred-codev/streambroker/internal/storage/partition"
	"github.com/adred-codev/streambroker/internal/storage/stream"
	"github.com/adred-codev/streambroker/internal/storage/topic"
	"github.com/adred-codev/streambroker/internal/system"
	"github.com/adred-codev/streambroker/internal/users"
)

// HTTPServer is the JSON mirror of the binary protocol: resource-oriented
// paths, Bearer JWT authentication, and the same underlying core calls
// (spec §6 "HTTP interface"). It talks directly to system.System rather
// than going through the binary dispatcher's wire codec.
type HTTPServer struct {
	Sys *system.System
	JWT *authjwt.Issuer
	Log zerolog.Logger

	srv *http.Server
}

// Handler builds the routed mux, exported separately from Listen so tests
// can exercise it with httptest without binding a socket.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/users/login", s.handleLogin)
	mux.HandleFunc("/users/refresh", s.handleRefresh)
	mux.HandleFunc("/streams", s.withAuth(s.handleStreams))
	mux.HandleFunc("/streams/", s.withAuth(s.handleStreamSubpaths))
	return mux
}

// Listen starts the HTTP server on addr, blocking until Shutdown.
func (s *HTTPServer) Listen(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.Handler()}
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, ierror.New(ierror.InvalidCommand, "method not allowed"))
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ierror.New(ierror.InvalidCommand, "malformed login body"))
		return
	}
	u, err := s.Sys.Users.GetByUsername(req.Username)
	if err != nil || !users.VerifyPassword(req.Password, u.PasswordHash) || u.Status != users.Active {
		writeError(w, ierror.New(ierror.Unauthenticated, "invalid username or password"))
		return
	}
	pair, err := s.JWT.IssuePair(u.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, ierror.New(ierror.InvalidCommand, "method not allowed"))
		return
	}
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ierror.New(ierror.InvalidCommand, "malformed refresh body"))
		return
	}
	pair, err := s.JWT.Refresh(req.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *HTTPServer) withAuth(next func(w http.ResponseWriter, r *http.Request, userID int)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, ierror.New(ierror.Unauthenticated, "missing bearer token"))
			return
		}
		userID, err := s.JWT.VerifyAccess(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, userID)
	}
}

type streamJSON struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Topics    int       `json:"topics"`
}

func encodeStreamJSON(st *stream.Stream) streamJSON {
	return streamJSON{ID: st.ID(), Name: st.Name(), CreatedAt: st.CreatedAt(), Topics: len(st.Topics())}
}

func (s *HTTPServer) handleStreams(w http.ResponseWriter, r *http.Request, userID int) {
	switch r.Method {
	case http.MethodGet:
		if !s.Sys.Permission.Can(userID, users.ActionReadStreams, 0, 0) {
			writeError(w, ierror.New(ierror.Unauthorized, "missing read_streams permission"))
			return
		}
		streams := s.Sys.Streams()
		out := make([]streamJSON, 0, len(streams))
		for _, st := range streams {
			out = append(out, encodeStreamJSON(st))
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		if !s.Sys.Permission.Can(userID, users.ActionManageStreams, 0, 0) {
			writeError(w, ierror.New(ierror.Unauthorized, "missing manage_streams permission"))
			return
		}
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, ierror.New(ierror.InvalidCommand, "malformed body"))
			return
		}
		st, err := s.Sys.CreateStream(body.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, encodeStreamJSON(st))
	default:
		writeError(w, ierror.New(ierror.InvalidCommand, "method not allowed"))
	}
}

// handleStreamSubpaths dispatches every /streams/{id}[/topics/{id}[/messages]]
// path by splitting on "/", since the Go 1.23 stdlib mux used here is
// registered with a prefix pattern rather than per-segment wildcards.
func (s *HTTPServer) handleStreamSubpaths(w http.ResponseWriter, r *http.Request, userID int) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/streams/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, ierror.New(ierror.ResourceNotFound, "stream id required"))
		return
	}
	streamID, err := strconv.Atoi(parts[0])
	if err != nil {
		writeError(w, ierror.New(ierror.InvalidCommand, "stream id must be numeric"))
		return
	}
	st, err := s.Sys.Stream(streamID)
	if err != nil {
		writeError(w, err)
		return
	}

	if len(parts) == 1 {
		s.handleStream(w, r, userID, st)
		return
	}
	if parts[1] != "topics" {
		writeError(w, ierror.New(ierror.ResourceNotFound, "unknown subresource"))
		return
	}
	if len(parts) == 2 {
		s.handleTopics(w, r, userID, st)
		return
	}
	topicID, err := strconv.Atoi(parts[2])
	if err != nil {
		writeError(w, ierror.New(ierror.InvalidCommand, "topic id must be numeric"))
		return
	}
	t, err := st.Topic(topicID)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(parts) == 3 {
		s.handleTopic(w, r, userID, st, topicID, t)
		return
	}
	if len(parts) == 4 && parts[3] == "messages" {
		s.handleMessages(w, r, userID, st, topicID, t)
		return
	}
	writeError(w, ierror.New(ierror.ResourceNotFound, "unknown subresource"))
}

func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request, userID int, st *stream.Stream) {
	switch r.Method {
	case http.MethodGet:
		if !s.Sys.Permission.Can(userID, users.ActionReadStream, st.ID(), 0) {
			writeError(w, ierror.New(ierror.Unauthorized, "missing read_stream permission"))
			return
		}
		writeJSON(w, http.StatusOK, encodeStreamJSON(st))
	case http.MethodDelete:
		if !s.Sys.Permission.Can(userID, users.ActionManageStream, st.ID(), 0) {
			writeError(w, ierror.New(ierror.Unauthorized, "missing manage_stream permission"))
			return
		}
		if err := s.Sys.DeleteStream(st.ID()); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, ierror.New(ierror.InvalidCommand, "method not allowed"))
	}
}

type topicJSON struct {
	ID         int `json:"id"`
	Partitions int `json:"partitions"`
}

type createTopicRequest struct {
	Name              string `json:"name"`
	PartitionCount    int    `json:"partitions_count"`
	MessageExpirySecs int64  `json:"message_expiry_seconds"`
	MaxSizeBytes      int64  `json:"max_topic_size_bytes"`
}

func (s *HTTPServer) handleTopics(w http.ResponseWriter, r *http.Request, userID int, st *stream.Stream) {
	switch r.Method {
	case http.MethodGet:
		if !s.Sys.Permission.Can(userID, users.ActionReadTopics, st.ID(), 0) {
			writeError(w, ierror.New(ierror.Unauthorized, "missing read_topics permission"))
			return
		}
		topics := st.Topics()
		out := make([]topicJSON, 0, len(topics))
		for id, t := range topics {
			out = append(out, topicJSON{ID: id, Partitions: t.PartitionCount()})
		}
		writeJSON(w, http.StatusOK, out)
	case http.MethodPost:
		if !s.Sys.Permission.Can(userID, users.ActionManageTopics, st.ID(), 0) {
			writeError(w, ierror.New(ierror.Unauthorized, "missing manage_topics permission"))
			return
		}
		var body createTopicRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, ierror.New(ierror.InvalidCommand, "malformed body"))
			return
		}
		if body.PartitionCount == 0 {
			body.PartitionCount = 1
		}
		t, id, err := s.Sys.CreateTopic(st.ID(), body.Name, topic.Config{
			PartitionCount:    body.PartitionCount,
			MessageExpiry:     time.Duration(body.MessageExpirySecs) * time.Second,
			MaxTopicSizeBytes: body.MaxSizeBytes,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, topicJSON{ID: id, Partitions: t.PartitionCount()})
	default:
		writeError(w, ierror.New(ierror.InvalidCommand, "method not allowed"))
	}
}

func (s *HTTPServer) handleTopic(w http.ResponseWriter, r *http.Request, userID int, st *stream.Stream, topicID int, t *topic.Topic) {
	switch r.Method {
	case http.MethodGet:
		if !s.Sys.Permission.Can(userID, users.ActionReadTopics, st.ID(), topicID) {
			writeError(w, ierror.New(ierror.Unauthorized, "missing read_topics permission"))
			return
		}
		writeJSON(w, http.StatusOK, topicJSON{ID: topicID, Partitions: t.PartitionCount()})
	case http.MethodDelete:
		if !s.Sys.Permission.Can(userID, users.ActionManageTopics, st.ID(), topicID) {
			writeError(w, ierror.New(ierror.Unauthorized, "missing manage_topics permission"))
			return
		}
		if err := st.DeleteTopic(topicID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, ierror.New(ierror.InvalidCommand, "method not allowed"))
	}
}

type sendMessageJSON struct {
	Headers string `json:"headers,omitempty"` // base64
	Payload string `json:"payload"`            // base64
}

type sendMessagesRequest struct {
	PartitionID int               `json:"partition_id,omitempty"`
	Key         string            `json:"key,omitempty"`
	Messages    []sendMessageJSON `json:"messages"`
}

type polledMessageJSON struct {
	Offset    uint64 `json:"offset"`
	Timestamp uint64 `json:"timestamp"`
	Headers   string `json:"headers,omitempty"`
	Payload   string `json:"payload"`
}

func (s *HTTPServer) handleMessages(w http.ResponseWriter, r *http.Request, userID int, st *stream.Stream, topicID int, t *topic.Topic) {
	switch r.Method {
	case http.MethodPost:
		if !s.Sys.Permission.Can(userID, users.ActionSendMessages, st.ID(), topicID) {
			writeError(w, ierror.New(ierror.Unauthorized, "missing send_messages permission"))
			return
		}
		var body sendMessagesRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, ierror.New(ierror.InvalidCommand, "malformed body"))
			return
		}
		if len(body.Messages) == 0 {
			writeError(w, ierror.New(ierror.InvalidCommand, "messages must not be empty"))
			return
		}
		routing := topic.Partitioning{Kind: topic.Balanced}
		if body.PartitionID != 0 {
			routing = topic.Partitioning{Kind: topic.PartitionID, ID: body.PartitionID}
		} else if body.Key != "" {
			routing = topic.Partitioning{Kind: topic.MessagesKey, Key: []byte(body.Key)}
		}
		pending := make([]codec.PendingMessage, 0, len(body.Messages))
		for _, m := range body.Messages {
			payload, err := base64.StdEncoding.DecodeString(m.Payload)
			if err != nil {
				writeError(w, ierror.New(ierror.InvalidCommand, "payload must be base64"))
				return
			}
			var headers []byte
			if m.Headers != "" {
				headers, err = base64.StdEncoding.DecodeString(m.Headers)
				if err != nil {
					writeError(w, ierror.New(ierror.InvalidCommand, "headers must be base64"))
					return
				}
			}
			pending = append(pending, codec.PendingMessage{Headers: headers, Payload: payload})
		}
		partitionID, err := t.Route(routing)
		if err != nil {
			writeError(w, err)
			return
		}
		p, err := t.Partition(partitionID)
		if err != nil {
			writeError(w, err)
			return
		}
		baseOffset, err := p.Append(pending, uint64(time.Now().UnixMilli()))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"partition_id": partitionID, "base_offset": baseOffset})

	case http.MethodGet:
		if !s.Sys.Permission.Can(userID, users.ActionPollMessages, st.ID(), topicID) {
			writeError(w, ierror.New(ierror.Unauthorized, "missing poll_messages permission"))
			return
		}
		q := r.URL.Query()
		partitionID, _ := strconv.Atoi(q.Get("partition_id"))
		count, _ := strconv.Atoi(q.Get("count"))
		if count == 0 {
			count = 10
		}
		strategy := partition.Strategy{Kind: partition.StrategyFirst, Count: uint32(count)}
		switch q.Get("strategy") {
		case "offset":
			offset, _ := strconv.ParseUint(q.Get("value"), 10, 64)
			strategy = partition.Strategy{Kind: partition.StrategyOffset, Offset: offset, Count: uint32(count)}
		case "last":
			strategy = partition.Strategy{Kind: partition.StrategyLast, Count: uint32(count)}
		}
		p, err := t.Partition(partitionID)
		if err != nil {
			writeError(w, err)
			return
		}
		batches, err := p.Poll(strategy, false)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]polledMessageJSON, 0)
		for _, b := range batches {
			for _, m := range b.Messages {
				out = append(out, polledMessageJSON{
					Offset:    m.Offset,
					Timestamp: m.Timestamp,
					Headers:   base64.StdEncoding.EncodeToString(m.Headers),
					Payload:   base64.StdEncoding.EncodeToString(m.Payload),
				})
			}
		}
		writeJSON(w, http.StatusOK, out)
	default:
		writeError(w, ierror.New(ierror.InvalidCommand, "method not allowed"))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := ierror.KindOf(err)
	writeJSON(w, kind.HTTPStatus(), map[string]string{"error": kind.String()})
}
