package identity

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"strings"
	"sync"

	"github.com/korzewarrior/discord-countingbot/internal/domain"
)

var (
	ErrNoIdentities    = errors.New("no identities configured")
	ErrNeedTwo         = errors.New("need at least 2 identities to avoid posting twice in a row")
	ErrAwaitOtherUser  = errors.New("waiting for a different user to post")
	ErrDuplicateToken  = errors.New("identity with this token already exists")
	ErrIdentityMissing = errors.New("identity not found")
)

// Transport is one identity's session against the remote channel.
type Transport interface {
	FetchSelf(ctx context.Context) (domain.Profile, error)
	FetchRecentEntries(ctx context.Context, channelID string, limit int) ([]domain.Entry, error)
	PostEntry(ctx context.Context, channelID, content string) (domain.Entry, error)
	TriggerTyping(ctx context.Context, channelID string) error
	Reconnect()
}

// Identity is one posting account: persisted metadata plus its live session.
type Identity struct {
	DisplayName string
	Token       string
	UserAgent   string
	ExternalID  string
	SendCount   int
	Transport   Transport
}

// Pool owns the set of posting identities. The dispatcher borrows one
// identity per cycle and never two concurrently; the mutex only guards
// against concurrent reads from the control API.
type Pool struct {
	mu         sync.Mutex
	identities []*Identity
	newClient  func(domain.IdentityRecord) Transport
	intn       func(n int) int
}

func NewPool(records []domain.IdentityRecord, newClient func(domain.IdentityRecord) Transport) *Pool {
	p := &Pool{
		newClient: newClient,
		intn:      rand.Intn,
	}
	for _, rec := range records {
		p.identities = append(p.identities, &Identity{
			DisplayName: rec.DisplayName,
			Token:       rec.Token,
			UserAgent:   rec.UserAgent,
			ExternalID:  rec.ExternalID,
			SendCount:   rec.SendCount,
			Transport:   newClient(rec),
		})
	}
	return p
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.identities)
}

func (p *Pool) Get(i int) (*Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.identities) {
		return nil, false
	}
	return p.identities[i], true
}

// Add registers a new identity. Identities sharing a token are rejected.
func (p *Pool) Add(rec domain.IdentityRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range p.identities {
		if id.Token == rec.Token {
			return ErrDuplicateToken
		}
	}
	p.identities = append(p.identities, &Identity{
		DisplayName: rec.DisplayName,
		Token:       rec.Token,
		UserAgent:   rec.UserAgent,
		ExternalID:  rec.ExternalID,
		SendCount:   rec.SendCount,
		Transport:   p.newClient(rec),
	})
	return nil
}

func (p *Pool) Remove(displayName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, id := range p.identities {
		if id.DisplayName == displayName {
			p.identities = append(p.identities[:i], p.identities[i+1:]...)
			return nil
		}
	}
	return ErrIdentityMissing
}

// ResolveAll performs the lazy self-lookup for identities whose external id
// is still unknown. Failures are logged and left for a later attempt.
func (p *Pool) ResolveAll(ctx context.Context) {
	p.mu.Lock()
	ids := make([]*Identity, len(p.identities))
	copy(ids, p.identities)
	p.mu.Unlock()

	for _, id := range ids {
		if id.ExternalID != "" {
			continue
		}
		profile, err := id.Transport.FetchSelf(ctx)
		if err != nil {
			log.Printf("identity %s: self lookup failed: %v", id.DisplayName, err)
			continue
		}
		p.mu.Lock()
		id.ExternalID = profile.ID
		p.mu.Unlock()
		log.Printf("identity %s resolved to id %s", id.DisplayName, profile.ID)
	}
}

// SelectNext picks the identity index for the next post.
//
// Solo mode: only the first identity ever posts, and only when the most
// recent poster of any kind was somebody else. Rotation mode: uniform random
// over all identities except the one at lastPosterIndex.
func (p *Pool) SelectNext(solo bool, lastPosterIndex int, lastPosterID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if solo {
		if len(p.identities) < 1 {
			return 0, ErrNoIdentities
		}
		self := p.identities[0]
		if self.ExternalID != "" && self.ExternalID == lastPosterID {
			return 0, ErrAwaitOtherUser
		}
		return 0, nil
	}

	if len(p.identities) < 2 {
		return 0, ErrNeedTwo
	}
	candidates := make([]int, 0, len(p.identities))
	for i := range p.identities {
		if i != lastPosterIndex {
			candidates = append(candidates, i)
		}
	}
	return candidates[p.intn(len(candidates))], nil
}

// IndexByName matches an entry author to a pool identity, case-insensitively.
// Returns -1 when the author is external.
func (p *Pool) IndexByName(authorName string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, id := range p.identities {
		if strings.EqualFold(id.DisplayName, authorName) {
			return i
		}
	}
	return -1
}

func (p *Pool) RecordSend(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= 0 && i < len(p.identities) {
		p.identities[i].SendCount++
	}
}

// ReconnectAll recreates every identity's session. Resolved external ids are
// kept so solo arbitration keeps working across reconnects.
func (p *Pool) ReconnectAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range p.identities {
		id.Transport.Reconnect()
		log.Printf("reconnected session for identity %s", id.DisplayName)
	}
}

// Records returns the persistable view of the pool.
func (p *Pool) Records() []domain.IdentityRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.IdentityRecord, 0, len(p.identities))
	for _, id := range p.identities {
		out = append(out, domain.IdentityRecord{
			DisplayName: id.DisplayName,
			Token:       id.Token,
			UserAgent:   id.UserAgent,
			ExternalID:  id.ExternalID,
			SendCount:   id.SendCount,
		})
	}
	return out
}
