package dispatch

import (
	"time"

	"github.com/adred-codev/streambroker/internal/ierror"
	"github.com/adred-codev/streambroker/internal/session"
	"github.com/adred-codev/streambroker/internal/users"
)

func encodeUser(u *users.User) []byte {
	w := &writer{}
	w.u32(uint32(u.ID))
	w.stringU8(u.Username)
	w.u8(byte(u.Status))
	w.u64(uint64(u.CreatedAt.UnixMilli()))
	return w.bytes()
}

// decodeGlobalPermissions reads the GlobalPermissions bitset a
// CreateUser/UpdateUser payload carries, one byte per flag for
// readability over the wire (spec §4.8).
func decodeGlobalPermissions(r *reader) (users.GlobalPermissions, error) {
	flags := make([]bool, 8)
	for i := range flags {
		b, err := r.u8()
		if err != nil {
			return users.GlobalPermissions{}, err
		}
		flags[i] = b != 0
	}
	return users.GlobalPermissions{
		ManageServers:   flags[0],
		ManageUsers:     flags[1],
		ManageStreams:   flags[2],
		ReadStreams:     flags[3],
		ManageTopics:    flags[4],
		ReadTopics:      flags[5],
		PollMessagesAll: flags[6],
		SendMessagesAll: flags[7],
	}, nil
}

func (d *Dispatcher) createUser(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionManageUsers, 0, 0); err != nil {
		return nil, err
	}
	r := newReader(payload)
	username, err := r.stringU8()
	if err != nil {
		return nil, err
	}
	password, err := r.stringU8()
	if err != nil {
		return nil, err
	}
	statusByte, err := r.u8()
	if err != nil {
		return nil, err
	}
	global, err := decodeGlobalPermissions(r)
	if err != nil {
		return nil, err
	}
	u, err := d.sys.Users.Create(username, password, users.Status(statusByte), users.Permissions{Global: global, Streams: map[int]users.StreamPermissions{}})
	if err != nil {
		return nil, err
	}
	return encodeUser(u), nil
}

func (d *Dispatcher) getUser(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	id, err := r.u32()
	if err != nil {
		return nil, err
	}
	if int(id) != client.UserID {
		if err := requirePermission(d.sys, client, users.ActionManageUsers, 0, 0); err != nil {
			return nil, err
		}
	}
	u, err := d.sys.Users.Get(int(id))
	if err != nil {
		return nil, err
	}
	return encodeUser(u), nil
}

func (d *Dispatcher) getUsers(client *session.Client) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionManageUsers, 0, 0); err != nil {
		return nil, err
	}
	all := d.sys.Users.All()
	w := &writer{}
	w.u32(uint32(len(all)))
	for _, u := range all {
		w.buf = append(w.buf, encodeUser(u)...)
	}
	return w.bytes(), nil
}

// updateUser applies a status change. Its payload carries no password or
// permission fields, so neither can be changed through this command.
func (d *Dispatcher) updateUser(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionManageUsers, 0, 0); err != nil {
		return nil, err
	}
	r := newReader(payload)
	id, err := r.u32()
	if err != nil {
		return nil, err
	}
	statusByte, err := r.u8()
	if err != nil {
		return nil, err
	}
	u, err := d.sys.Users.Get(int(id))
	if err != nil {
		return nil, err
	}
	u.Status = users.Status(statusByte)
	return nil, d.sys.Users.Save()
}

func (d *Dispatcher) deleteUser(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionManageUsers, 0, 0); err != nil {
		return nil, err
	}
	r := newReader(payload)
	id, err := r.u32()
	if err != nil {
		return nil, err
	}
	return nil, d.sys.Users.Delete(int(id))
}

// loginUser verifies a password and transitions the session to
// Authenticated (spec §4.8).
func (d *Dispatcher) loginUser(client *session.Client, payload []byte) ([]byte, error) {
	r := newReader(payload)
	username, err := r.stringU8()
	if err != nil {
		return nil, err
	}
	password, err := r.stringU8()
	if err != nil {
		return nil, err
	}
	u, err := d.sys.Users.GetByUsername(username)
	if err != nil {
		return nil, ierror.New(ierror.Unauthenticated, "invalid username or password")
	}
	if u.Status != users.Active {
		return nil, ierror.New(ierror.Unauthenticated, "user account is inactive")
	}
	if !users.VerifyPassword(password, u.PasswordHash) {
		return nil, ierror.New(ierror.Unauthenticated, "invalid username or password")
	}
	client.AuthState = session.Authenticated
	client.UserID = u.ID
	client.AuthenticatedAt = time.Now()

	w := &writer{}
	w.u32(uint32(u.ID))
	return w.bytes(), nil
}

func (d *Dispatcher) logoutUser(client *session.Client) ([]byte, error) {
	client.AuthState = session.Anonymous
	client.UserID = 0
	return nil, nil
}
