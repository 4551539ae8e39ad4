package chat

// Role attributes a turn to one side of the conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Turn is one attributed message. Notice turns are produced locally by the client
// (blocked or failed sends) and are never forwarded to the gateway.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Notice  bool   `json:"-"`
}

// SystemTurn builds the hidden persona instruction turn.
func SystemTurn(prompt string) Turn {
	return Turn{Role: RoleSystem, Content: prompt}
}

// UserTurn builds a user-authored turn.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn builds a reply turn.
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}
