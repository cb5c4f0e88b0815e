package dispatch

import (
	"github.com/adred-codev/streambroker/internal/session"
	"github.com/adred-codev/streambroker/internal/storage/stream"
	"github.com/adred-codev/streambroker/internal/users"
)

func encodeStream(st *stream.Stream) []byte {
	w := &writer{}
	w.u32(uint32(st.ID()))
	w.stringU8(st.Name())
	w.u64(uint64(st.CreatedAt().UnixMilli()))
	topics := st.Topics()
	w.u32(uint32(len(topics)))
	return w.bytes()
}

func (d *Dispatcher) createStream(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionManageStreams, 0, 0); err != nil {
		return nil, err
	}
	r := newReader(payload)
	name, err := r.stringU8()
	if err != nil {
		return nil, err
	}
	st, err := d.sys.CreateStream(name)
	if err != nil {
		return nil, err
	}
	return encodeStream(st), nil
}

func (d *Dispatcher) getStream(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	st, err := resolveStream(d.sys, r)
	if err != nil {
		return nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionReadStream, st.ID(), 0); err != nil {
		return nil, err
	}
	return encodeStream(st), nil
}

func (d *Dispatcher) getStreams(client *session.Client) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionReadStreams, 0, 0); err != nil {
		return nil, err
	}
	streams := d.sys.Streams()
	w := &writer{}
	w.u32(uint32(len(streams)))
	for _, st := range streams {
		w.buf = append(w.buf, encodeStream(st)...)
	}
	return w.bytes(), nil
}

func (d *Dispatcher) deleteStream(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	st, err := resolveStream(d.sys, r)
	if err != nil {
		return nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionManageStream, st.ID(), 0); err != nil {
		return nil, err
	}
	return nil, d.sys.DeleteStream(st.ID())
}

func (d *Dispatcher) purgeStream(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	st, err := resolveStream(d.sys, r)
	if err != nil {
		return nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionManageStream, st.ID(), 0); err != nil {
		return nil, err
	}
	return nil, st.Purge()
}
