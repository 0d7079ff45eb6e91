package apikey

import (
	"context"
)

// AuthAdapter narrows a Manager down to collab.AuthValidator, resolving a
// bearer token to the API key record's ID so the rest of the request
// pipeline can treat it as the caller's userID. Conversations, memories, and
// video artifacts are all scoped by this ID.
type AuthAdapter struct {
	Mgr *Manager
}

func (a *AuthAdapter) Verify(ctx context.Context, token string) (string, error) {
	rec, err := a.Mgr.Validate(ctx, token)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}
