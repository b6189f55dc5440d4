package transform

import "github.com/google/uuid"

// Synthesized identifiers for envelopes the upstream dialect does not carry.

func newMessageID() string {
	return "msg_" + uuid.Must(uuid.NewV7()).String()
}

func newToolID() string {
	return "toolu_" + uuid.Must(uuid.NewV7()).String()
}

func newResponseID() string {
	return "resp_" + uuid.Must(uuid.NewV7()).String()
}

func newItemID() string {
	return "item_" + uuid.Must(uuid.NewV7()).String()
}

func newCallID() string {
	return "call_" + uuid.Must(uuid.NewV7()).String()
}

func newChatID() string {
	return "chatcmpl-" + uuid.Must(uuid.NewV7()).String()
}
