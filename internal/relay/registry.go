package relay

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tbourn/go-chat-relay/internal/domain"
)

// Conn is a transport connection the relay can write frames to. Send must not
// block; implementations queue the frame or fail.
type Conn interface {
	ID() string
	Send(frame []byte) error
	Close() error
}

// ConnInfo describes a registered connection.
type ConnInfo struct {
	ConnectionID    string    `json:"connectionId"`
	UserID          string    `json:"userId,omitempty"`
	Username        string    `json:"username,omitempty"`
	ConnectedAt     time.Time `json:"connectedAt"`
	AuthenticatedAt time.Time `json:"authenticatedAt,omitempty"`
	LastHeartbeat   time.Time `json:"lastHeartbeat,omitempty"`
}

// Authenticated reports whether an identity is attached.
func (c ConnInfo) Authenticated() bool { return c.UserID != "" }

// AttachResult reports the presence effect of Attach.
type AttachResult struct {
	Info ConnInfo
	// FirstConnection is true when the user had no open connection before.
	FirstConnection bool
	// Previous is set when the connection was attached to a different user.
	// PreviousRemaining is that user's remaining connection count.
	Previous          *ConnInfo
	PreviousRemaining int
}

// DetachResult reports the presence effect of Detach.
type DetachResult struct {
	Info ConnInfo
	// Remaining is the number of connections the user still has open.
	Remaining int
	// Status is the user's status before the last connection closed.
	Status domain.Status
}

// OnlineUser is one entry of the online-users snapshot.
type OnlineUser struct {
	ConnectionID string        `json:"connectionId"`
	Username     string        `json:"username"`
	Status       domain.Status `json:"status"`
	Activity     string        `json:"activityDetails,omitempty"`
	Connections  int           `json:"connections"`
}

type connEntry struct {
	conn Conn
	info ConnInfo
}

type presenceEntry struct {
	conns    map[string]struct{}
	latest   string
	username string
	status   domain.Status
	activity string
}

func (p *presenceEntry) snapshot() OnlineUser {
	return OnlineUser{
		ConnectionID: p.latest,
		Username:     p.username,
		Status:       p.status,
		Activity:     p.activity,
		Connections:  len(p.conns),
	}
}

// Registry maps connections to identities and users to their open
// connections. All methods are safe for concurrent use; none of them send.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*connEntry
	users map[string]*presenceEntry
	now   func() time.Time
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*connEntry),
		users: make(map[string]*presenceEntry),
		now:   time.Now,
	}
}

// Register records a transport connection. It is unauthenticated until Attach.
func (r *Registry) Register(c Conn) ConnInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[c.ID()]; ok {
		return e.info
	}
	info := ConnInfo{ConnectionID: c.ID(), ConnectedAt: r.now().UTC()}
	r.conns[c.ID()] = &connEntry{conn: c, info: info}
	connectionsOpen.Inc()
	return info
}

// Attach binds an identity to a registered connection. Missing fields yield
// ErrMissingIdentity and leave state untouched.
func (r *Registry) Attach(connID, userID, username string) (AttachResult, error) {
	userID = strings.TrimSpace(userID)
	username = strings.TrimSpace(username)
	if userID == "" || username == "" {
		return AttachResult{}, ErrMissingIdentity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return AttachResult{}, ErrUnknownConnection
	}

	var res AttachResult
	if prev := e.info; prev.UserID != "" && prev.UserID != userID {
		res.Previous = &prev
		res.PreviousRemaining = r.unlinkLocked(prev.UserID, connID)
	}

	now := r.now().UTC()
	e.info.UserID = userID
	e.info.Username = username
	e.info.AuthenticatedAt = now
	e.info.LastHeartbeat = now

	p, exists := r.users[userID]
	if !exists {
		p = &presenceEntry{conns: make(map[string]struct{}), status: domain.StatusOnline}
		r.users[userID] = p
		usersOnline.Inc()
	}
	res.FirstConnection = len(p.conns) == 0
	p.conns[connID] = struct{}{}
	p.latest = connID
	p.username = username

	res.Info = e.info
	return res, nil
}

// Lookup returns the info of a registered connection.
func (r *Registry) Lookup(connID string) (ConnInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	if !ok {
		return ConnInfo{}, false
	}
	return e.info, true
}

// Conn returns the transport handle for connID.
func (r *Registry) Conn(connID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Detach removes a connection. The second detach of the same id returns false.
func (r *Registry) Detach(connID string) (DetachResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return DetachResult{}, false
	}
	delete(r.conns, connID)
	connectionsOpen.Dec()

	res := DetachResult{Info: e.info}
	if e.info.UserID != "" {
		if p, ok := r.users[e.info.UserID]; ok {
			res.Status = p.status
		}
		res.Remaining = r.unlinkLocked(e.info.UserID, connID)
	}
	return res, true
}

// unlinkLocked drops connID from userID's set and removes the presence entry
// when it empties. It returns the remaining connection count.
func (r *Registry) unlinkLocked(userID, connID string) int {
	p, ok := r.users[userID]
	if !ok {
		return 0
	}
	delete(p.conns, connID)
	if len(p.conns) == 0 {
		delete(r.users, userID)
		usersOnline.Dec()
		return 0
	}
	if p.latest == connID {
		for id := range p.conns {
			p.latest = id
			break
		}
	}
	return len(p.conns)
}

// IsOnline reports whether userID has at least one open connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.users[userID]
	return ok && len(p.conns) > 0
}

// OnlineUsers returns a snapshot keyed by user id.
func (r *Registry) OnlineUsers() map[string]OnlineUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]OnlineUser, len(r.users))
	for uid, p := range r.users {
		out[uid] = p.snapshot()
	}
	return out
}

// Presence returns the presence entry of one online user.
func (r *Registry) Presence(userID string) (OnlineUser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.users[userID]
	if !ok {
		return OnlineUser{}, false
	}
	return p.snapshot(), true
}

// Connections returns the sorted connection ids of userID.
func (r *Registry) Connections(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.users[userID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(p.conns))
	for id := range p.conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AllConnections returns the ids of every registered connection.
func (r *Registry) AllConnections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	return out
}

// AddUserSocket re-affirms that connID belongs to userID's socket set. It is
// a no-op unless the connection is attached to that user.
func (r *Registry) AddUserSocket(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok || userID == "" || e.info.UserID != userID {
		return false
	}
	p, ok := r.users[userID]
	if !ok {
		return false
	}
	p.conns[connID] = struct{}{}
	return true
}

// Touch records a heartbeat for connID.
func (r *Registry) Touch(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	e.info.LastHeartbeat = r.now().UTC()
	return true
}

// SetStatus updates an online user's status and activity detail.
func (r *Registry) SetStatus(userID string, status domain.Status, activity string) (OnlineUser, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.users[userID]
	if !ok {
		return OnlineUser{}, false
	}
	p.status = status
	p.activity = activity
	return p.snapshot(), true
}

// Count returns the number of registered connections and online users.
func (r *Registry) Count() (connections, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns), len(r.users)
}
