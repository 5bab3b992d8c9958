package server

import (
	"time"

	"erri120/goannounce/protocol"
)

type ConnectedClient struct {
	ConnectionId protocol.ConnectionId
	TimeIdIssued time.Time
}

func (connection ConnectedClient) IsValid(lifetime time.Duration) bool {
	return time.Since(connection.TimeIdIssued) < lifetime
}
