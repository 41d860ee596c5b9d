package internal

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

type ConnectionState uint8

const (
	ConnectionState_Connecting ConnectionState = iota
	ConnectionState_Authenticating
	ConnectionState_Authenticated
	ConnectionState_Rejected
	ConnectionState_Disconnected
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionState_Connecting:
		return "Connecting"
	case ConnectionState_Authenticating:
		return "Authenticating"
	case ConnectionState_Authenticated:
		return "Authenticated"
	case ConnectionState_Rejected:
		return "Rejected"
	case ConnectionState_Disconnected:
		return "Disconnected"
	}
	return fmt.Sprintf("ConnectionState(%d)", uint8(s))
}

// CanTransition reports whether a connection may move from one state to another.
// Every connection passes through Authenticating, and Disconnected is terminal.
func CanTransition(from, to ConnectionState) bool {
	switch from {
	case ConnectionState_Connecting:
		return to == ConnectionState_Authenticating || to == ConnectionState_Disconnected
	case ConnectionState_Authenticating:
		return to == ConnectionState_Authenticated || to == ConnectionState_Rejected || to == ConnectionState_Disconnected
	case ConnectionState_Authenticated, ConnectionState_Rejected:
		return to == ConnectionState_Disconnected
	}
	return false
}

type DuplicateConnectionIdError struct {
	Id uint32
}

func (e *DuplicateConnectionIdError) Error() string {
	return fmt.Sprintf("Attempted to create connection with duplicate ID %d", e.Id)
}

type MissingConnectionIdError struct {
	Id uint32
}

func (e *MissingConnectionIdError) Error() string {
	return fmt.Sprintf("Missing connection with id=%d", e.Id)
}

type TooManyConnectionsError struct{}

func (e *TooManyConnectionsError) Error() string {
	return "Too many connections are open - cannot create new connection"
}

type InvalidStateTransitionError struct {
	Id   uint32
	From ConnectionState
	To   ConnectionState
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("Connection id=%d cannot move from %s to %s", e.Id, e.From, e.To)
}

type ConnectionMetadata struct {
	Mut               sync.RWMutex
	State             ConnectionState
	TransportName     string
	CreatedTime       int64
	AuthStartTime     int64
	LastClientMsgTime int64
	CustomData        any
}

type ConnectionStore struct {
	MaxConnections int

	nextConnectionId atomic.Uint32

	mut_connections sync.RWMutex
	connections     map[uint32]*ConnectionMetadata
}

func CreateConnectionStore(maxConnections int) *ConnectionStore {
	return &ConnectionStore{
		MaxConnections:   maxConnections,
		nextConnectionId: atomic.Uint32{},
		mut_connections:  sync.RWMutex{},
		connections:      make(map[uint32]*ConnectionMetadata),
	}
}

// GetNewConnectionId hands out ids starting at 1. Ids are never reused, so a stale id can
// never address a newer connection.
func (store *ConnectionStore) GetNewConnectionId() uint32 {
	return store.nextConnectionId.Add(1)
}

func (store *ConnectionStore) HasConnection(connectionId uint32) bool {
	store.mut_connections.RLock()
	defer store.mut_connections.RUnlock()

	_, has := store.connections[connectionId]
	return has
}

func (store *ConnectionStore) Count() int {
	store.mut_connections.RLock()
	defer store.mut_connections.RUnlock()

	return len(store.connections)
}

func (store *ConnectionStore) CreateConnection(connectionId uint32, transportName string, timestamp int64) error {
	store.mut_connections.Lock()
	defer store.mut_connections.Unlock()

	if _, has := store.connections[connectionId]; has {
		return &DuplicateConnectionIdError{Id: connectionId}
	}

	if store.MaxConnections > 0 && len(store.connections) >= store.MaxConnections {
		return &TooManyConnectionsError{}
	}

	store.connections[connectionId] = &ConnectionMetadata{
		Mut:               sync.RWMutex{},
		State:             ConnectionState_Connecting,
		TransportName:     transportName,
		CreatedTime:       timestamp,
		LastClientMsgTime: timestamp,
	}

	return nil
}

func (store *ConnectionStore) RemoveConnection(connectionId uint32) {
	store.mut_connections.Lock()
	defer store.mut_connections.Unlock()
	delete(store.connections, connectionId)
}

func (store *ConnectionStore) get(connectionId uint32) (*ConnectionMetadata, error) {
	store.mut_connections.RLock()
	defer store.mut_connections.RUnlock()

	connection, has := store.connections[connectionId]
	if !has {
		return nil, &MissingConnectionIdError{Id: connectionId}
	}
	return connection, nil
}

// GetState returns Disconnected for connections that are no longer in the store.
func (store *ConnectionStore) GetState(connectionId uint32) ConnectionState {
	connection, err := store.get(connectionId)
	if err != nil {
		return ConnectionState_Disconnected
	}

	connection.Mut.RLock()
	defer connection.Mut.RUnlock()

	return connection.State
}

// Transition moves a connection to a new state, returning the previous one.
func (store *ConnectionStore) Transition(connectionId uint32, to ConnectionState, timestamp int64) (ConnectionState, error) {
	connection, err := store.get(connectionId)
	if err != nil {
		return ConnectionState_Disconnected, err
	}

	connection.Mut.Lock()
	defer connection.Mut.Unlock()

	from := connection.State
	if !CanTransition(from, to) {
		return from, &InvalidStateTransitionError{
			Id:   connectionId,
			From: from,
			To:   to,
		}
	}

	connection.State = to
	if to == ConnectionState_Authenticating {
		connection.AuthStartTime = timestamp
	}
	return from, nil
}

func (store *ConnectionStore) SetClientRecvTimestamp(connectionId uint32, timestamp int64) error {
	connection, err := store.get(connectionId)
	if err != nil {
		return err
	}

	connection.Mut.Lock()
	defer connection.Mut.Unlock()

	connection.LastClientMsgTime = timestamp
	return nil
}

func (store *ConnectionStore) SetCustomData(connectionId uint32, data any) error {
	connection, err := store.get(connectionId)
	if err != nil {
		return err
	}

	connection.Mut.Lock()
	defer connection.Mut.Unlock()

	connection.CustomData = data
	return nil
}

func (store *ConnectionStore) GetCustomData(connectionId uint32) (any, error) {
	connection, err := store.get(connectionId)
	if err != nil {
		return nil, err
	}

	connection.Mut.RLock()
	defer connection.Mut.RUnlock()

	return connection.CustomData, nil
}

// GetConnectionIdsInState returns matching ids in ascending order, so fan-out order is
// stable from one tick to the next.
func (store *ConnectionStore) GetConnectionIdsInState(state ConnectionState) []uint32 {
	store.mut_connections.RLock()
	defer store.mut_connections.RUnlock()

	ids := []uint32{}
	for connectionId, connection := range store.connections {
		connection.Mut.RLock()
		matches := connection.State == state
		connection.Mut.RUnlock()

		if matches {
			ids = append(ids, connectionId)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (store *ConnectionStore) GetTimeoutConnectionList(clientMsgDeadline int64) []uint32 {
	store.mut_connections.RLock()
	defer store.mut_connections.RUnlock()

	connectionsToKick := []uint32{}

	for connectionId, connection := range store.connections {
		connection.Mut.RLock()
		shouldKick := connection.State == ConnectionState_Authenticated && connection.LastClientMsgTime < clientMsgDeadline
		connection.Mut.RUnlock()

		if shouldKick {
			connectionsToKick = append(connectionsToKick, connectionId)
		}
	}

	sort.Slice(connectionsToKick, func(i, j int) bool { return connectionsToKick[i] < connectionsToKick[j] })
	return connectionsToKick
}

func (store *ConnectionStore) GetAuthTimeoutConnectionList(authDeadline int64) []uint32 {
	store.mut_connections.RLock()
	defer store.mut_connections.RUnlock()

	connectionsToKick := []uint32{}

	for connectionId, connection := range store.connections {
		connection.Mut.RLock()
		shouldKick := connection.State == ConnectionState_Authenticating && connection.AuthStartTime < authDeadline
		connection.Mut.RUnlock()

		if shouldKick {
			connectionsToKick = append(connectionsToKick, connectionId)
		}
	}

	sort.Slice(connectionsToKick, func(i, j int) bool { return connectionsToKick[i] < connectionsToKick[j] })
	return connectionsToKick
}
