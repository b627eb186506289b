package services

import "context"

// TranscriptStore is the append-only per-identity turn log. Appends return the new turn id;
// History returns turns in ascending id order.
type TranscriptStore interface {
	AppendText(ctx context.Context, identityID int64, role Role, content string) (int64, error)
	AppendImage(ctx context.Context, identityID int64, role Role, image []byte) (int64, error)
	History(ctx context.Context, identityID int64) ([]Turn, error)
	HasTurns(ctx context.Context, identityID int64) (bool, error)
}

// InitMessage greets an identity whose transcript is empty.
const InitMessage = "How can I assist you today?"

func initTranscript() []Turn {
	return []Turn{TextTurn(RoleInit, InitMessage)}
}
