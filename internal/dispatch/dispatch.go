package dispatch

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/adred-codev/streambroker/internal/ierror"
	"github.com/adred-codev/streambroker/internal/protocol"
	"github.com/adred-codev/streambroker/internal/session"
	"github.com/adred-codev/streambroker/internal/storage/stream"
	"github.com/adred-codev/streambroker/internal/storage/topic"
	"github.com/adred-codev/streambroker/internal/system"
	"github.com/adred-codev/streambroker/internal/users"
)

// Dispatcher binds wire command codes to system operations, shared by every
// transport (spec §7 "External interfaces": TCP/TLS/QUIC/HTTP all call the
// same dispatch entry points).
type Dispatcher struct {
	sys *system.System
	log zerolog.Logger
}

// New builds a dispatcher over sys.
func New(sys *system.System, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{sys: sys, log: log}
}

// Dispatch decodes and executes one request on behalf of client, returning
// the response frame to write back. It never returns a Go error for
// application-level failures — those are folded into an error Response via
// ierror.Kind.Status(). Dispatch has no error return; failures of the
// connection itself surface to the transport through protocol.ReadRequest
// and protocol.WriteResponse.
func (d *Dispatcher) Dispatch(client *session.Client, req protocol.Request) protocol.Response {
	client.Touch()

	cmd := protocol.Command(req.CommandCode)
	if cmd == protocol.CmdHeartbeat {
		return protocol.Response{}
	}

	payload, err := d.route(client, cmd, req.Payload)
	if err != nil {
		kind := ierror.KindOf(err)
		d.log.Debug().Err(err).Str("command", cmd.String()).Int("client", client.ID).Msg("command failed")
		return protocol.ErrorResponse(kind)
	}
	return protocol.Response{Status: 0, Payload: payload}
}

func (d *Dispatcher) route(client *session.Client, cmd protocol.Command, payload []byte) ([]byte, error) {
	switch cmd {
	case protocol.CmdPing:
		return d.ping()
	case protocol.CmdGetStats:
		return d.getStats()
	case protocol.CmdGetMe:
		return d.getMe(client)
	case protocol.CmdGetClient:
		return d.getClient(client, payload)
	case protocol.CmdGetClients:
		return d.getClients(client)

	case protocol.CmdCreateStream:
		return d.createStream(client, payload)
	case protocol.CmdGetStream:
		return d.getStream(client, payload)
	case protocol.CmdGetStreams:
		return d.getStreams(client)
	case protocol.CmdDeleteStream:
		return d.deleteStream(client, payload)
	case protocol.CmdPurgeStream:
		return d.purgeStream(client, payload)

	case protocol.CmdCreateTopic:
		return d.createTopic(client, payload)
	case protocol.CmdGetTopic:
		return d.getTopic(client, payload)
	case protocol.CmdGetTopics:
		return d.getTopics(client, payload)
	case protocol.CmdDeleteTopic:
		return d.deleteTopic(client, payload)
	case protocol.CmdPurgeTopic:
		return d.purgeTopic(client, payload)

	case protocol.CmdCreatePartitions:
		return d.createPartitions(client, payload)
	case protocol.CmdDeletePartitions:
		return d.deletePartitions(client, payload)

	case protocol.CmdSendMessages:
		return d.sendMessages(client, payload)
	case protocol.CmdPollMessages:
		return d.pollMessages(client, payload)

	case protocol.CmdStoreConsumerOffset:
		return d.storeConsumerOffset(client, payload)
	case protocol.CmdGetConsumerOffset:
		return d.getConsumerOffset(client, payload)

	case protocol.CmdCreateConsumerGroup:
		return d.createConsumerGroup(client, payload)
	case protocol.CmdDeleteConsumerGroup:
		return d.deleteConsumerGroup(client, payload)
	case protocol.CmdGetConsumerGroup:
		return d.getConsumerGroup(client, payload)
	case protocol.CmdGetConsumerGroups:
		return d.getConsumerGroups(client, payload)
	case protocol.CmdJoinConsumerGroup:
		return d.joinConsumerGroup(client, payload)
	case protocol.CmdLeaveConsumerGroup:
		return d.leaveConsumerGroup(client, payload)

	case protocol.CmdCreateUser:
		return d.createUser(client, payload)
	case protocol.CmdGetUser:
		return d.getUser(client, payload)
	case protocol.CmdGetUsers:
		return d.getUsers(client)
	case protocol.CmdUpdateUser:
		return d.updateUser(client, payload)
	case protocol.CmdDeleteUser:
		return d.deleteUser(client, payload)
	case protocol.CmdLoginUser:
		return d.loginUser(client, payload)
	case protocol.CmdLogoutUser:
		return d.logoutUser(client)

	case protocol.CmdCreatePersonalAccessToken:
		return d.createPAT(client, payload)
	case protocol.CmdGetPersonalAccessTokens:
		return d.getPATs(client)
	case protocol.CmdDeletePersonalAccessToken:
		return d.deletePAT(client, payload)
	case protocol.CmdLoginWithPersonalAccessToken:
		return d.loginWithPAT(client, payload)

	default:
		return nil, ierror.New(ierror.InvalidCommand, fmt.Sprintf("unknown command code %d", cmd))
	}
}

// requireAuth fails fast unless client has completed LoginUser or
// LoginWithPersonalAccessToken. Every command handler calls it except Ping,
// GetStats, Heartbeat and the two login commands.
func requireAuth(client *session.Client) error {
	if client.AuthState != session.Authenticated {
		return ierror.New(ierror.Unauthenticated, "command requires an authenticated session")
	}
	return nil
}

func requirePermission(sys *system.System, client *session.Client, action users.Action, streamID, topicID int) error {
	if !sys.Permission.Can(client.UserID, action, streamID, topicID) {
		return ierror.New(ierror.Unauthorized, fmt.Sprintf("user %d lacks permission for this operation", client.UserID))
	}
	return nil
}

// resolveStream resolves an Identifier to a stream, by numeric id or name.
func resolveStream(sys *system.System, r *reader) (*stream.Stream, error) {
	id, err := r.identifier()
	if err != nil {
		return nil, err
	}
	if id.Kind == 1 {
		return sys.Stream(int(id.Number))
	}
	return sys.StreamByName(id.Name)
}

// resolveTopic resolves an Identifier within an already-resolved stream.
func resolveTopic(st *stream.Stream, r *reader) (*topic.Topic, int, error) {
	id, err := r.identifier()
	if err != nil {
		return nil, 0, err
	}
	if id.Kind == 1 {
		t, err := st.Topic(int(id.Number))
		return t, int(id.Number), err
	}
	return st.TopicByName(id.Name)
}

// groupKey returns the cursor key a consumer group's shared offset is
// stored under ("group:<id>"), distinct from consumerKey's standalone
// consumer key space (spec §4.2).
func groupKey(groupID int) string {
	return fmt.Sprintf("group:%d", groupID)
}

func consumerKey(clientID int) string {
	return fmt.Sprintf("consumer:%d", clientID)
}
