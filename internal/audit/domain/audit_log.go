package domain

import "time"

// AuditLog records an operator action against a resource, such as a command
// pushed to a loom or a login.
type AuditLog struct {
	ID         string
	SubjectID  string
	Action     string
	Resource   string
	ResourceID string
	IP         string
	Metadata   string
	CreatedAt  time.Time
}
