package dispatch

import (
	"time"

	"github.com/adred-codev/streambroker/internal/ierror"
	"github.com/adred-codev/streambroker/internal/session"
	"github.com/adred-codev/streambroker/internal/storage/codec"
	"github.com/adred-codev/streambroker/internal/storage/partition"
	"github.com/adred-codev/streambroker/internal/storage/topic"
	"github.com/adred-codev/streambroker/internal/users"
)

// decodePartitioning reads the Partitioning tagged union a SendMessages
// payload carries: kind(1) followed by kind-specific bytes (spec §4.3).
func decodePartitioning(r *reader) (topic.Partitioning, error) {
	kind, err := r.u8()
	if err != nil {
		return topic.Partitioning{}, err
	}
	switch kind {
	case 0:
		return topic.Partitioning{Kind: topic.Balanced}, nil
	case 1:
		id, err := r.u32()
		if err != nil {
			return topic.Partitioning{}, err
		}
		return topic.Partitioning{Kind: topic.PartitionID, ID: int(id)}, nil
	case 2:
		key, err := r.bytesU32()
		if err != nil {
			return topic.Partitioning{}, err
		}
		return topic.Partitioning{Kind: topic.MessagesKey, Key: key}, nil
	default:
		return topic.Partitioning{}, ierror.New(ierror.InvalidCommand, "unknown partitioning kind")
	}
}

// decodeMessages reads the message array a SendMessages payload carries:
// count(4) followed by, per message, id(16) | headers(u32-prefixed) |
// payload(u32-prefixed) (spec §3 "Log record (on disk)").
func decodeMessages(r *reader) ([]codec.PendingMessage, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]codec.PendingMessage, 0, count)
	for i := uint32(0); i < count; i++ {
		if err := r.need(16); err != nil {
			return nil, err
		}
		var id codec.MessageID
		copy(id[:], r.buf[r.pos:r.pos+16])
		r.pos += 16

		headers, err := r.bytesU32()
		if err != nil {
			return nil, err
		}
		payload, err := r.bytesU32()
		if err != nil {
			return nil, err
		}
		out = append(out, codec.PendingMessage{ID: id, Headers: headers, Payload: payload})
	}
	return out, nil
}

// sendMessages decodes a SendMessages command, routes it to one partition
// via the topic's Partitioning rule, and appends the batch (spec §4.2
// "Append algorithm").
func (d *Dispatcher) sendMessages(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	st, err := resolveStream(d.sys, r)
	if err != nil {
		return nil, err
	}
	t, topicID, err := resolveTopic(st, r)
	if err != nil {
		return nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionSendMessages, st.ID(), topicID); err != nil {
		return nil, err
	}
	routing, err := decodePartitioning(r)
	if err != nil {
		return nil, err
	}
	messages, err := decodeMessages(r)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, ierror.New(ierror.InvalidCommand, "send_messages requires at least one message")
	}
	for _, m := range messages {
		if d.sys.Config.MaxMessageSize > 0 && len(m.Payload) > d.sys.Config.MaxMessageSize {
			return nil, ierror.New(ierror.MessageTooLarge, "message payload exceeds the configured maximum")
		}
	}

	partitionID, err := t.Route(routing)
	if err != nil {
		return nil, err
	}
	p, err := t.Partition(partitionID)
	if err != nil {
		return nil, err
	}

	now := uint64(time.Now().UnixMilli())
	baseOffset, err := p.Append(messages, now)
	if err != nil {
		return nil, err
	}

	w := &writer{}
	w.u32(uint32(partitionID))
	w.u64(baseOffset)
	w.u32(uint32(len(messages)))
	return w.bytes(), nil
}

// decodeStrategy reads a PollingStrategy tagged union (spec §4.2 "Polling
// strategies"): kind(1) followed by kind-specific fields, then count(4)
// and auto_commit(1).
func decodeStrategy(r *reader) (partition.Strategy, bool, error) {
	kind, err := r.u8()
	if err != nil {
		return partition.Strategy{}, false, err
	}
	s := partition.Strategy{}
	switch kind {
	case 0:
		s.Kind = partition.StrategyOffset
		off, err := r.u64()
		if err != nil {
			return s, false, err
		}
		s.Offset = off
	case 1:
		s.Kind = partition.StrategyTimestamp
		ts, err := r.u64()
		if err != nil {
			return s, false, err
		}
		s.Timestamp = ts
	case 2:
		s.Kind = partition.StrategyFirst
	case 3:
		s.Kind = partition.StrategyLast
	case 4:
		s.Kind = partition.StrategyNext
		key, err := r.stringU8()
		if err != nil {
			return s, false, err
		}
		s.ConsumerOrGroup = key
	default:
		return s, false, ierror.New(ierror.InvalidCommand, "unknown polling strategy")
	}

	count, err := r.u32()
	if err != nil {
		return s, false, err
	}
	s.Count = count

	autoCommit, err := r.u8()
	if err != nil {
		return s, false, err
	}
	return s, autoCommit != 0, nil
}

// encodeBatches writes the poll response into one buffer: the total
// message count across all batches (u32), then per message its id,
// offset, timestamp, u32-prefixed headers and u32-prefixed payload. Batch
// boundaries are not encoded.
func encodeBatches(batches []partition.Batch) []byte {
	w := &writer{}
	var total uint32
	for _, b := range batches {
		total += uint32(len(b.Messages))
	}
	w.u32(total)
	for _, b := range batches {
		for _, m := range b.Messages {
			w.buf = append(w.buf, m.ID[:]...)
			w.u64(m.Offset)
			w.u64(m.Timestamp)
			w.bytesU32(m.Headers)
			w.bytesU32(m.Payload)
		}
	}
	return w.bytes()
}

// pollMessages decodes a PollMessages command and returns the matching
// batches for either a standalone consumer or a consumer-group cursor
// (spec §4.2 "Polling strategies", §4.4 "Poll via group").
func (d *Dispatcher) pollMessages(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	st, err := resolveStream(d.sys, r)
	if err != nil {
		return nil, err
	}
	t, topicID, err := resolveTopic(st, r)
	if err != nil {
		return nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionPollMessages, st.ID(), topicID); err != nil {
		return nil, err
	}

	consumerKindTag, err := r.u8()
	if err != nil {
		return nil, err
	}
	consumerOrGroupID, err := r.u32()
	if err != nil {
		return nil, err
	}
	partitionID, err := r.u32()
	if err != nil {
		return nil, err
	}

	strategy, autoCommit, err := decodeStrategy(r)
	if err != nil {
		return nil, err
	}

	isGroup := consumerKindTag == 1
	if isGroup {
		groupDir := d.sys.GroupDirectory(st.ID(), topicID)
		g, err := groupDir.Get(int(consumerOrGroupID))
		if err != nil {
			return nil, err
		}
		if err := g.CheckAssignment(client.ID, int(partitionID)); err != nil {
			return nil, err
		}
		if strategy.Kind == partition.StrategyNext {
			strategy.ConsumerOrGroup = groupKey(int(consumerOrGroupID))
		}
	} else if strategy.Kind == partition.StrategyNext {
		strategy.ConsumerOrGroup = consumerKey(client.ID)
	}

	p, err := t.Partition(int(partitionID))
	if err != nil {
		return nil, err
	}
	batches, err := p.Poll(strategy, autoCommit)
	if err != nil {
		return nil, err
	}
	return encodeBatches(batches), nil
}
