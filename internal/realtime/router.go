package realtime

import (
	"sort"
	"strconv"
	"strings"
)

const (
	userRoomPrefix    = "user:"
	projectRoomPrefix = "project:"
)

// UserRoom names the personal room of a user.
func UserRoom(userID int64) string {
	return userRoomPrefix + strconv.FormatInt(userID, 10)
}

// ProjectRoom names the opt-in room of a project.
func ProjectRoom(projectID int64) string {
	return projectRoomPrefix + strconv.FormatInt(projectID, 10)
}

func isPersonalRoom(room string) bool {
	return strings.HasPrefix(room, userRoomPrefix)
}

// Router tracks which connections are in which room. Personal rooms vanish
// with their last member; project rooms stay around empty so clients can
// resubscribe. Router is not safe for concurrent use; the Gateway serializes
// access.
type Router struct {
	rooms map[string]map[string]struct{}
}

func NewRouter() *Router {
	return &Router{rooms: make(map[string]map[string]struct{})}
}

// Join adds connID to room and reports whether it was newly added.
func (r *Router) Join(room, connID string) bool {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	if _, dup := members[connID]; dup {
		return false
	}
	members[connID] = struct{}{}
	return true
}

// Leave removes connID from room and reports whether it was a member.
func (r *Router) Leave(room, connID string) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, present := members[connID]; !present {
		return false
	}
	delete(members, connID)
	if len(members) == 0 && isPersonalRoom(room) {
		delete(r.rooms, room)
	}
	return true
}

// IsMember reports whether connID is currently in room.
func (r *Router) IsMember(room, connID string) bool {
	_, ok := r.rooms[room][connID]
	return ok
}

// MembersOf returns a sorted copy of the room's members.
func (r *Router) MembersOf(room string) []string {
	members := r.rooms[room]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Exists reports whether the router knows the room, even if it is empty.
func (r *Router) Exists(room string) bool {
	_, ok := r.rooms[room]
	return ok
}

// Rooms is the number of rooms currently known.
func (r *Router) Rooms() int {
	return len(r.rooms)
}
