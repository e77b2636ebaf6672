package realtime

import "sort"

// UserConnections is one row of a registry snapshot.
type UserConnections struct {
	UserID      int64 `json:"userId"`
	SocketCount int   `json:"socketCount"`
}

// Registry maps users to their open connection IDs. A user is present only
// while at least one of its connections is open. Registry is not safe for
// concurrent use; the Gateway serializes access.
type Registry struct {
	users map[int64]map[string]struct{}
	total int
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[int64]map[string]struct{})}
}

// Register adds connID to the user's set. It reports false if the pair was
// already registered.
func (r *Registry) Register(userID int64, connID string) bool {
	conns, ok := r.users[userID]
	if !ok {
		conns = make(map[string]struct{})
		r.users[userID] = conns
	}
	if _, dup := conns[connID]; dup {
		return false
	}
	conns[connID] = struct{}{}
	r.total++
	return true
}

// Unregister removes connID and drops the user entry once it is empty.
func (r *Registry) Unregister(userID int64, connID string) bool {
	conns, ok := r.users[userID]
	if !ok {
		return false
	}
	if _, present := conns[connID]; !present {
		return false
	}
	delete(conns, connID)
	r.total--
	if len(conns) == 0 {
		delete(r.users, userID)
	}
	return true
}

func (r *Registry) ActiveConnectionCount(userID int64) int {
	return len(r.users[userID])
}

// Users is the number of users with at least one connection.
func (r *Registry) Users() int {
	return len(r.users)
}

// Connections is the number of registered connections across all users.
func (r *Registry) Connections() int {
	return r.total
}

// Snapshot lists every user with its connection count, ordered by user ID.
func (r *Registry) Snapshot() []UserConnections {
	out := make([]UserConnections, 0, len(r.users))
	for userID, conns := range r.users {
		out = append(out, UserConnections{UserID: userID, SocketCount: len(conns)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
