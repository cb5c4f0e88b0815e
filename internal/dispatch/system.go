package dispatch

import (
	"github.com/adred-codev/streambroker/internal/session"
)

// ping answers CmdPing with an empty payload; no auth required (spec §4.6).
func (d *Dispatcher) ping() ([]byte, error) {
	return nil, nil
}

// getStats reports a handful of broker-wide counters (spec §4.7
// supplemental "stats" surface, grounded on original_source's
// GetStats handler).
func (d *Dispatcher) getStats() ([]byte, error) {
	w := &writer{}
	streams := d.sys.Streams()
	w.u32(uint32(len(streams)))
	var topics, partitions uint32
	for _, st := range streams {
		ts := st.Topics()
		topics += uint32(len(ts))
		for _, t := range ts {
			partitions += uint32(t.PartitionCount())
		}
	}
	w.u32(topics)
	w.u32(partitions)
	w.u32(uint32(d.sys.Sessions.Count()))
	return w.bytes(), nil
}

// getMe returns the calling client's own session record.
func (d *Dispatcher) getMe(client *session.Client) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	return encodeClient(client), nil
}

func (d *Dispatcher) getClient(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	id, err := r.u32()
	if err != nil {
		return nil, err
	}
	c, err := d.sys.Sessions.GetClient(int(id))
	if err != nil {
		return nil, err
	}
	return encodeClient(c), nil
}

func (d *Dispatcher) getClients(client *session.Client) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	clients := d.sys.Sessions.Clients()
	w := &writer{}
	w.u32(uint32(len(clients)))
	for _, c := range clients {
		w.buf = append(w.buf, encodeClient(c)...)
	}
	return w.bytes(), nil
}

func encodeClient(c *session.Client) []byte {
	w := &writer{}
	w.u32(uint32(c.ID))
	w.stringU8(c.Address)
	w.stringU8(c.Transport)
	w.u32(uint32(c.UserID))
	groups := c.Groups()
	w.u32(uint32(len(groups)))
	for _, g := range groups {
		w.u32(uint32(g.StreamID))
		w.u32(uint32(g.TopicID))
		w.u32(uint32(g.GroupID))
	}
	return w.bytes()
}
