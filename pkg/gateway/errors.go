package gateway

import "fmt"

// ConnectionNotFound is returned by SendToAgent when no live session
// is registered for the given agent id.
type ConnectionNotFound struct {
	AgentID string
}

func (e *ConnectionNotFound) Error() string {
	return fmt.Sprintf("connection not found for agent %s", e.AgentID)
}
