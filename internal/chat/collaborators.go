package chat

import "context"

//go:generate mockgen -source=collaborators.go -destination=mocks/collaborators_mock.go -package=mocks

// Identity is what we need from the user service. Participant ids are opaque
// to this package.
type Identity interface {
	ValidateParticipant(ctx context.Context, userID string) (bool, error)
	ParticipantSummary(ctx context.Context, userID string) (ParticipantSummary, error)
}

// Moderation answers whether a user may delete other people's messages.
type Moderation interface {
	CanModerate(ctx context.Context, userID string) (bool, error)
}

// MediaResolver turns a stored media reference into a URL clients can load.
type MediaResolver interface {
	ResolveMediaRef(ref string) (string, error)
}

// Publisher receives every committed event. *Hub implements it.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}
