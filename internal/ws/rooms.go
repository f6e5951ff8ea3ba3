package ws

import (
	"errors"
	"sync"
)

// RoomCapacity is the number of peers a signaling room can hold.
const RoomCapacity = 2

// ErrRoomFull is returned when joining a room that already has
// RoomCapacity members.
var ErrRoomFull = errors.New("room full")

// Rooms pairs connections for WebRTC signaling. Its keyspace is independent
// of chat channels.
type Rooms struct {
	mu     sync.Mutex
	rooms  map[string][]ConnID
	byConn map[ConnID]string
}

// Departure describes a connection leaving a room.
type Departure struct {
	Room      string
	Remaining []ConnID
}

// JoinResult lists the peers already in the room. Left is set when the
// connection had to leave another room first.
type JoinResult struct {
	Peers []ConnID
	Left  *Departure
}

func NewRooms() *Rooms {
	return &Rooms{
		rooms:  make(map[string][]ConnID),
		byConn: make(map[ConnID]string),
	}
}

// Join adds id to room. A full room is left unchanged and ErrRoomFull is
// returned. Joining the room the connection is already in returns the other
// members.
func (r *Rooms) Join(id ConnID, room string) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.byConn[id]; ok && cur == room {
		return JoinResult{Peers: r.othersLocked(room, id)}, nil
	}
	if len(r.rooms[room]) >= RoomCapacity {
		return JoinResult{}, ErrRoomFull
	}

	var res JoinResult
	if _, ok := r.byConn[id]; ok {
		dep, _ := r.leaveLocked(id)
		res.Left = &dep
	}

	res.Peers = append([]ConnID{}, r.rooms[room]...)
	r.rooms[room] = append(r.rooms[room], id)
	r.byConn[id] = room
	return res, nil
}

// Leave removes id from its room and destroys the room once empty.
func (r *Rooms) Leave(id ConnID) (Departure, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(id)
}

func (r *Rooms) leaveLocked(id ConnID) (Departure, bool) {
	room, ok := r.byConn[id]
	if !ok {
		return Departure{}, false
	}
	delete(r.byConn, id)

	remaining := make([]ConnID, 0, RoomCapacity)
	for _, m := range r.rooms[room] {
		if m != id {
			remaining = append(remaining, m)
		}
	}
	if len(remaining) == 0 {
		delete(r.rooms, room)
	} else {
		r.rooms[room] = remaining
	}
	return Departure{Room: room, Remaining: append([]ConnID(nil), remaining...)}, true
}

// PeersOf returns the other members of id's room.
func (r *Rooms) PeersOf(id ConnID) []ConnID {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.byConn[id]
	if !ok {
		return nil
	}
	return r.othersLocked(room, id)
}

func (r *Rooms) othersLocked(room string, id ConnID) []ConnID {
	others := []ConnID{}
	for _, m := range r.rooms[room] {
		if m != id {
			others = append(others, m)
		}
	}
	return others
}

// members returns the members of room in join order.
func (r *Rooms) members(room string) []ConnID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnID(nil), r.rooms[room]...)
}

// RoomOf returns the room id is in.
func (r *Rooms) RoomOf(id ConnID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.byConn[id]
	return room, ok
}

func (r *Rooms) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
