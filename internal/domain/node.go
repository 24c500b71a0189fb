package domain

import "time"

// Node is a cluster member as last seen through its heartbeat.
type Node struct {
	ID       string
	Address  string
	LastSeen time.Time
}
