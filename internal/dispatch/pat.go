package dispatch

import (
	"time"

	"github.com/adred-codev/streambroker/internal/ierror"
	"github.com/adred-codev/streambroker/internal/session"
	"github.com/adred-codev/streambroker/internal/users"
)

func encodePAT(p *users.PersonalAccessToken) []byte {
	w := &writer{}
	w.stringU8(p.Name)
	var expiresAt uint64
	if p.ExpiresAt != nil {
		expiresAt = uint64(p.ExpiresAt.UnixMilli())
	}
	w.u64(expiresAt)
	return w.bytes()
}

// createPAT mints a new personal access token for the calling client's
// user, returning the plaintext once (spec §4.8, §3 "Personal access
// token").
func (d *Dispatcher) createPAT(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	name, err := r.stringU8()
	if err != nil {
		return nil, err
	}
	ttlSeconds, err := r.u64()
	if err != nil {
		return nil, err
	}
	_, plaintext, err := d.sys.PATs.Create(client.UserID, name, time.Duration(ttlSeconds)*time.Second)
	if err != nil {
		return nil, err
	}
	w := &writer{}
	w.stringU8(plaintext)
	return w.bytes(), nil
}

func (d *Dispatcher) getPATs(client *session.Client) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	pats := d.sys.PATs.List(client.UserID)
	w := &writer{}
	w.u32(uint32(len(pats)))
	for _, p := range pats {
		w.buf = append(w.buf, encodePAT(p)...)
	}
	return w.bytes(), nil
}

func (d *Dispatcher) deletePAT(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	name, err := r.stringU8()
	if err != nil {
		return nil, err
	}
	return nil, d.sys.PATs.Delete(client.UserID, name)
}

// loginWithPAT hashes the presented token, looks it up, and (if valid and
// unexpired) transitions the session to Authenticated (spec §4.8).
func (d *Dispatcher) loginWithPAT(client *session.Client, payload []byte) ([]byte, error) {
	r := newReader(payload)
	token, err := r.stringU8()
	if err != nil {
		return nil, err
	}
	userID, err := d.sys.PATs.Lookup(token)
	if err != nil {
		return nil, err
	}
	u, err := d.sys.Users.Get(userID)
	if err != nil {
		return nil, ierror.New(ierror.Unauthenticated, "personal access token owner no longer exists")
	}
	if u.Status != users.Active {
		return nil, ierror.New(ierror.Unauthenticated, "user account is inactive")
	}
	client.AuthState = session.Authenticated
	client.UserID = u.ID
	client.AuthenticatedAt = time.Now()

	w := &writer{}
	w.u32(uint32(u.ID))
	return w.bytes(), nil
}
