package bot

import (
	"context"
	"fmt"

	"doubtdesk/bot/internal/session"
)

type Access int

const (
	AccessAnonymous Access = iota
	AccessBlacklisted
	AccessAuthenticated
)

func (a Access) String() string {
	switch a {
	case AccessBlacklisted:
		return "blacklisted"
	case AccessAuthenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// Gate runs before any authenticated action.
type Gate struct {
	sessions  session.Store
	blacklist Blacklist
}

func NewGate(sessions session.Store, blacklist Blacklist) *Gate {
	return &Gate{sessions: sessions, blacklist: blacklist}
}

// Check classifies the session. A blacklisted session is reset in place and
// persisted before returning. A lookup error leaves the session untouched.
func (g *Gate) Check(ctx context.Context, identity string, s *session.Session) (Access, error) {
	if !s.Authenticated() {
		return AccessAnonymous, nil
	}
	revoked, err := g.blacklist.IsBlacklisted(ctx, s.Phone)
	if err != nil {
		return AccessAnonymous, fmt.Errorf("check blacklist: %w", err)
	}
	if !revoked {
		return AccessAuthenticated, nil
	}

	cleared := session.New()
	if err := g.sessions.Put(ctx, identity, cleared); err != nil {
		return AccessAnonymous, fmt.Errorf("clear blacklisted session: %w", err)
	}
	*s = cleared
	return AccessBlacklisted, nil
}
