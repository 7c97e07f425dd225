package convo

import "time"

// Role tags a turn as either side of the conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single role-tagged message in a session's history.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session is a read-only view of one conversation's AI-mode state.
type Session struct {
	Key          string    `json:"key"`
	Backend      string    `json:"backend"`
	History      []Turn    `json:"history"`
	LastActivity time.Time `json:"lastActivity"`
}
