package models

// AuditEntry is the payload handed to the audit log writer. The writer
// itself lives outside this core; services treat it as fire-and-forget.
type AuditEntry struct {
	ActorID    string            `json:"actor_id"`
	Action     string            `json:"action"`
	TargetType string            `json:"target_type"`
	TargetID   string            `json:"target_id"`
	Changes    map[string]string `json:"changes,omitempty"`
	Context    map[string]string `json:"context,omitempty"`
}
