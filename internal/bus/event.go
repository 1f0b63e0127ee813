package bus

// Scoped is an event that belongs to one conversation. An empty
// conversation reaches only subscribers of all conversations.
type Scoped interface {
	Conversation() string
}
