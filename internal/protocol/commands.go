package protocol

// Command is a stable u32 code, partitioned by category (spec §6). The
// spec's Open Question about an older v1 surface is resolved in favor of
// the latest surface (identifier-based addressing, heartbeats present,
// group id optional on create) — see DESIGN.md.
type Command uint32

const (
	// System, 1-9.
	CmdPing Command = iota + 1
	CmdGetStats
	CmdGetMe
	CmdGetClient
	CmdGetClients
)

const (
	// Stream, 10-19.
	CmdCreateStream Command = iota + 10
	CmdGetStream
	CmdGetStreams
	CmdDeleteStream
	CmdPurgeStream
	CmdUpdateStream
)

const (
	// Topic, 20-29.
	CmdCreateTopic Command = iota + 20
	CmdGetTopic
	CmdGetTopics
	CmdDeleteTopic
	CmdPurgeTopic
	CmdUpdateTopic
)

const (
	// Partition, 30-39.
	CmdCreatePartitions Command = iota + 30
	CmdDeletePartitions
)

const (
	// Message, 40-49.
	CmdSendMessages Command = iota + 40
	CmdPollMessages
)

const (
	// Consumer offset, 50-59.
	CmdStoreConsumerOffset Command = iota + 50
	CmdGetConsumerOffset
)

const (
	// Consumer group, 60-69.
	CmdCreateConsumerGroup Command = iota + 60
	CmdDeleteConsumerGroup
	CmdGetConsumerGroup
	CmdGetConsumerGroups
	CmdJoinConsumerGroup
	CmdLeaveConsumerGroup
)

const (
	// User, 70-79.
	CmdCreateUser Command = iota + 70
	CmdGetUser
	CmdGetUsers
	CmdUpdateUser
	CmdDeleteUser
	CmdLoginUser
	CmdLogoutUser
)

const (
	// Personal access token, 80-89.
	CmdCreatePersonalAccessToken Command = iota + 80
	CmdGetPersonalAccessTokens
	CmdDeletePersonalAccessToken
	CmdLoginWithPersonalAccessToken
)

const CmdHeartbeat Command = 90

func (c Command) String() string {
	switch c {
	case CmdPing:
		return "ping"
	case CmdGetStats:
		return "get_stats"
	case CmdGetMe:
		return "get_me"
	case CmdGetClient:
		return "get_client"
	case CmdGetClients:
		return "get_clients"
	case CmdCreateStream:
		return "create_stream"
	case CmdGetStream:
		return "get_stream"
	case CmdGetStreams:
		return "get_streams"
	case CmdDeleteStream:
		return "delete_stream"
	case CmdPurgeStream:
		return "purge_stream"
	case CmdUpdateStream:
		return "update_stream"
	case CmdCreateTopic:
		return "create_topic"
	case CmdGetTopic:
		return "get_topic"
	case CmdGetTopics:
		return "get_topics"
	case CmdDeleteTopic:
		return "delete_topic"
	case CmdPurgeTopic:
		return "purge_topic"
	case CmdUpdateTopic:
		return "update_topic"
	case CmdCreatePartitions:
		return "create_partitions"
	case CmdDeletePartitions:
		return "delete_partitions"
	case CmdSendMessages:
		return "send_messages"
	case CmdPollMessages:
		return "poll_messages"
	case CmdStoreConsumerOffset:
		return "store_consumer_offset"
	case CmdGetConsumerOffset:
		return "get_consumer_offset"
	case CmdCreateConsumerGroup:
		return "create_consumer_group"
	case CmdDeleteConsumerGroup:
		return "delete_consumer_group"
	case CmdGetConsumerGroup:
		return "get_consumer_group"
	case CmdGetConsumerGroups:
		return "get_consumer_groups"
	case CmdJoinConsumerGroup:
		return "join_consumer_group"
	case CmdLeaveConsumerGroup:
		return "leave_consumer_group"
	case CmdCreateUser:
		return "create_user"
	case CmdGetUser:
		return "get_user"
	case CmdGetUsers:
		return "get_users"
	case CmdUpdateUser:
		return "update_user"
	case CmdDeleteUser:
		return "delete_user"
	case CmdLoginUser:
		return "login_user"
	case CmdLogoutUser:
		return "logout_user"
	case CmdCreatePersonalAccessToken:
		return "create_personal_access_token"
	case CmdGetPersonalAccessTokens:
		return "get_personal_access_tokens"
	case CmdDeletePersonalAccessToken:
		return "delete_personal_access_token"
	case CmdLoginWithPersonalAccessToken:
		return "login_with_personal_access_token"
	case CmdHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}
