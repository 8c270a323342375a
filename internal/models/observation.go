package models

// Observation represents one unread-count reading of the watched mailbox
type Observation struct {
	Unread uint32
	Total  uint32
}
