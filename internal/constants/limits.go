package constants

// Validation limits shared by handlers and their tests.
const (
	MessageMaxLength = 4000

	MessageHistoryDefaultLimit = 50
	MessageHistoryMaxLimit     = 100
)
