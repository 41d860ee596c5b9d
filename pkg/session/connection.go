package session

import (
	"github.com/sessamekesh/scenelink/internal"
)

type ConnectionState = internal.ConnectionState

const (
	ConnectionState_Connecting     = internal.ConnectionState_Connecting
	ConnectionState_Authenticating = internal.ConnectionState_Authenticating
	ConnectionState_Authenticated  = internal.ConnectionState_Authenticated
	ConnectionState_Rejected       = internal.ConnectionState_Rejected
	ConnectionState_Disconnected   = internal.ConnectionState_Disconnected
)

// Connection is the manager's handle on one remote peer. The same pointer is handed to
// every callback for the lifetime of the peer; it stays valid after the peer leaves and
// then reports Disconnected.
type Connection struct {
	Id            uint32
	TransportName string

	store *internal.ConnectionStore
}

func (c *Connection) State() ConnectionState {
	return c.store.GetState(c.Id)
}

func (c *Connection) IsAuthenticated() bool {
	return c.State() == ConnectionState_Authenticated
}

func (c *Connection) IsActive() bool {
	s := c.State()
	return s != ConnectionState_Rejected && s != ConnectionState_Disconnected
}

// SetCustomData attaches application state, such as the objects a connection owns.
func (c *Connection) SetCustomData(data any) error {
	return c.store.SetCustomData(c.Id, data)
}

func (c *Connection) CustomData() any {
	data, _ := c.store.GetCustomData(c.Id)
	return data
}

type ConnectionStateFunc func(conn *Connection, state ConnectionState)
