package users

// Permissioner implements the shortcut permission check from spec §4.8:
// if global grants, accept; else consult per-stream; else per-topic; else
// deny. Root (id = 1) bypasses all checks. Grounded on original_source's
// permissioner.rs; each check reads the user's Permissions directly, with
// no precomputed fast-path sets.
type Permissioner struct {
	directory *Directory
}

// NewPermissioner wraps a user directory with permission evaluation.
func NewPermissioner(directory *Directory) *Permissioner {
	return &Permissioner{directory: directory}
}

// Action identifies the operation being authorized.
type Action int

const (
	ActionManageStreams Action = iota
	ActionReadStreams
	ActionManageStream
	ActionReadStream
	ActionManageTopics
	ActionReadTopics
	ActionPollMessages
	ActionSendMessages
	ActionManageUsers
	ActionManageServers
)

// Can reports whether userID may perform action against the given
// stream/topic (topicID may be 0 when the action is stream-scoped or
// global).
func (p *Permissioner) Can(userID int, action Action, streamID, topicID int) bool {
	if userID == RootUserID {
		return true
	}
	u, err := p.directory.Get(userID)
	if err != nil {
		return false
	}
	g := u.Permissions.Global

	switch action {
	case ActionManageServers:
		return g.ManageServers
	case ActionManageUsers:
		return g.ManageUsers
	case ActionManageStreams:
		return g.ManageStreams
	case ActionReadStreams:
		return g.ReadStreams || g.ManageStreams
	}

	// Global "all streams" shortcuts (spec §4.8 checks are shortcut).
	if (action == ActionPollMessages && g.PollMessagesAll) ||
		(action == ActionSendMessages && g.SendMessagesAll) ||
		(action == ActionManageStream && g.ManageStreams) ||
		(action == ActionReadStream && (g.ReadStreams || g.ManageStreams)) ||
		(action == ActionManageTopics && (g.ManageTopics || g.ManageStreams)) ||
		(action == ActionReadTopics && (g.ReadTopics || g.ManageTopics || g.ReadStreams || g.ManageStreams)) {
		return true
	}

	stream, hasStream := u.Permissions.Streams[streamID]
	if !hasStream {
		return false
	}

	switch action {
	case ActionManageStream:
		return stream.ManageStream
	case ActionReadStream:
		return stream.ReadStream || stream.ManageStream
	case ActionManageTopics:
		return stream.ManageTopics || stream.ManageStream
	case ActionReadTopics:
		return stream.ReadTopics || stream.ReadStream || stream.ManageStream
	case ActionPollMessages:
		if stream.PollMessages {
			return true
		}
	case ActionSendMessages:
		if stream.SendMessages {
			return true
		}
	}

	if topicID == 0 {
		return false
	}
	topic, hasTopic := stream.Topics[topicID]
	if !hasTopic {
		return false
	}
	switch action {
	case ActionManageTopics:
		return topic.ManageTopic
	case ActionReadTopics:
		return topic.ReadTopic || topic.ManageTopic
	case ActionPollMessages:
		return topic.PollMessages
	case ActionSendMessages:
		return topic.SendMessages
	default:
		return false
	}
}
