package models

import "context"

// SubmitRequest carries one unit's generation parameters to the
// provider.
type SubmitRequest struct {
	Prompt           string
	AspectRatio      string
	SceneContext     string
	CharacterContext string
}

// PollResult is one observation of an in-flight provider operation.
// RawStatus is the provider's own status string; normalization into
// the unit state machine happens in the poller, never here.
type PollResult struct {
	RawStatus    string
	ArtifactURL  string
	ErrorMessage string
}

// VideoProvider is the interface for video generation backends. Secret
// is the credential bound to the unit for the current attempt; every
// call is made with that credential so rotation accounting stays
// accurate.
type VideoProvider interface {
	Name() string

	// Submit sends a generation request and returns the provider's
	// opaque operation handle.
	Submit(ctx context.Context, secret string, req SubmitRequest) (string, error)

	// Poll checks the status of a previously submitted operation.
	Poll(ctx context.Context, secret string, operationHandle string) (PollResult, error)
}
