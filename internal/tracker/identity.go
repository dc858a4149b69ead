package tracker

import (
	"context"
	"fmt"
	"sync"
)

// SessionCreator issues session ids.
type SessionCreator interface {
	CreateSession(ctx context.Context, pageName, sectionName string) (string, error)
}

// Provisioner lazily obtains one session id per browser session and caches
// it in memory. Uniqueness is the server's job.
type Provisioner struct {
	creator SessionCreator

	mu        sync.Mutex
	sessionID string
}

func NewProvisioner(creator SessionCreator) *Provisioner {
	return &Provisioner{creator: creator}
}

// SessionID returns the cached id, creating the session on first use with
// the landing page and section as its first entry.
func (p *Provisioner) SessionID(ctx context.Context, pageName, sectionName string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sessionID != "" {
		return p.sessionID, nil
	}

	id, err := p.creator.CreateSession(ctx, pageName, sectionName)
	if err != nil {
		return "", fmt.Errorf("provision session: %w", err)
	}
	p.sessionID = id
	return id, nil
}
