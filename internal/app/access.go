/**
 * @description
 * Access gating for the administrative views. A caller's identity arrives as a stream
 * of snapshots: it starts out loading and later settles to either a principal or none.
 * The gate only decides once the stream has settled, so gated content is never exposed
 * before the identity is known.
 *
 * Role resolution is a routing convenience for the session entry point. It is not an
 * authorization boundary: invoice mutations never consult it.
 */
package app

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/transfa/payment-service/internal/domain"
	"github.com/transfa/payment-service/internal/store"
)

// IdentitySnapshot is one observation of a caller's identity.
type IdentitySnapshot struct {
	Principal *domain.Principal
	Loading   bool
}

// IdentityFeed is a per-session stream of identity snapshots. Subscribers always
// receive the latest snapshot; intermediate ones may be coalesced.
type IdentityFeed struct {
	mu     sync.Mutex
	latest IdentitySnapshot
	nextID int
	subs   map[int]chan IdentitySnapshot
}

// NewIdentityFeed returns a feed in the loading state.
func NewIdentityFeed() *IdentityFeed {
	return &IdentityFeed{
		latest: IdentitySnapshot{Loading: true},
		subs:   map[int]chan IdentitySnapshot{},
	}
}

// Current returns the latest snapshot.
func (f *IdentityFeed) Current() IdentitySnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

// Subscribe returns a channel primed with the current snapshot and a function that
// stops delivery and closes the channel. The unsubscribe function is safe to call twice.
func (f *IdentityFeed) Subscribe() (<-chan IdentitySnapshot, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan IdentitySnapshot, 1)
	ch <- f.latest
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if sub, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(sub)
			}
		})
	}
}

// Publish records snapshot as the latest state and delivers it to every subscriber,
// replacing any snapshot a slow subscriber has not read yet.
func (f *IdentityFeed) Publish(snapshot IdentitySnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.latest = snapshot
	for _, ch := range f.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}

// Settle publishes a non-loading snapshot for principal, which may be nil.
func (f *IdentityFeed) Settle(principal *domain.Principal) {
	f.Publish(IdentitySnapshot{Principal: principal})
}

// GateDecision is the outcome of evaluating an identity snapshot.
type GateDecision int

const (
	// GateSuspend withholds both the gated view and any redirect.
	GateSuspend GateDecision = iota
	// GateRedirect sends the caller to the unauthenticated entry point.
	GateRedirect
	// GateRender exposes the gated content.
	GateRender
)

func (d GateDecision) String() string {
	switch d {
	case GateSuspend:
		return "suspend"
	case GateRedirect:
		return "redirect"
	case GateRender:
		return "render"
	default:
		return "unknown"
	}
}

// AccessGate decides whether gated content may be shown for an identity.
type AccessGate struct {
	LoginPath string
}

// NewAccessGate returns a gate that redirects anonymous callers to loginPath.
func NewAccessGate(loginPath string) *AccessGate {
	if strings.TrimSpace(loginPath) == "" {
		loginPath = "/login"
	}
	return &AccessGate{LoginPath: loginPath}
}

// Decide maps a snapshot to a decision.
func (g *AccessGate) Decide(snapshot IdentitySnapshot) GateDecision {
	if snapshot.Loading {
		return GateSuspend
	}
	if snapshot.Principal == nil {
		return GateRedirect
	}
	return GateRender
}

// Await blocks until feed settles and returns the decision with the settled snapshot.
// If ctx ends first the gate stays suspended and ctx.Err() is returned.
func (g *AccessGate) Await(ctx context.Context, feed *IdentityFeed) (GateDecision, IdentitySnapshot, error) {
	updates, unsubscribe := feed.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return GateSuspend, IdentitySnapshot{Loading: true}, ctx.Err()
		case snapshot, ok := <-updates:
			if !ok {
				return GateSuspend, IdentitySnapshot{Loading: true}, context.Canceled
			}
			if decision := g.Decide(snapshot); decision != GateSuspend {
				return decision, snapshot, nil
			}
		}
	}
}

// RoleResolver classifies a user as Admin or Standard from the stored role attribute.
type RoleResolver struct {
	users store.UserRoleStore
}

func NewRoleResolver(users store.UserRoleStore) *RoleResolver {
	return &RoleResolver{users: users}
}

// ResolveRole returns RoleAdmin only when the stored value equals "admin" ignoring
// case. A missing record, a missing value, a lookup failure or any other value
// resolves to RoleStandard.
func (r *RoleResolver) ResolveRole(ctx context.Context, userID string) domain.Role {
	if r == nil || r.users == nil || strings.TrimSpace(userID) == "" {
		return domain.RoleStandard
	}

	value, err := r.users.GetUserRole(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrUserNotFound) {
			log.Printf("level=warn component=role_resolver msg=\"role lookup failed; defaulting to standard\" user_id=%s err=%v", userID, err)
		}
		return domain.RoleStandard
	}
	if value != nil && strings.EqualFold(*value, string(domain.RoleAdmin)) {
		return domain.RoleAdmin
	}
	return domain.RoleStandard
}
