package bot

import (
	"context"
	"fmt"
	"log"
)

// RestartCandidates lists identities whose stored session is logged in.
// The sessions are only read here; RestartNotice re-checks each one.
func (m *Machine) RestartCandidates(ctx context.Context) ([]string, error) {
	entries, err := m.sessions.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var identities []string
	for _, entry := range entries {
		if entry.Session.Authenticated() {
			identities = append(identities, entry.Identity)
		}
	}
	return identities, nil
}

// RestartNotice reloads the session for identity and returns the restart
// notice if it is still logged in. A blacklisted session is cleared by the
// gate and gets no notice. Callers must serialize it with the identity's
// other events.
func (m *Machine) RestartNotice(ctx context.Context, identity string) []Reply {
	current, err := m.sessions.Get(ctx, identity)
	if err != nil {
		log.Printf("bot: restart notice for %s skipped: %v", identity, err)
		return nil
	}
	if !current.Authenticated() {
		return nil
	}
	access, err := m.gate.Check(ctx, identity, &current)
	if err != nil {
		log.Printf("bot: restart notice for %s skipped: %v", identity, err)
		return nil
	}
	if access != AccessAuthenticated {
		return nil
	}
	return say(identity, msgRestarted)
}
