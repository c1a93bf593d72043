package identity

import (
	"errors"
	"strings"
)

// Role is the party an actor acts as.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleVendor Role = "vendor"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// ErrUnauthenticated is returned when the gateway did not attach an actor.
var ErrUnauthenticated = errors.New("no authenticated actor")

// Actor is the caller as established by the gateway.
type Actor struct {
	ID   string
	Role Role
}

// Is reports whether the actor acts as r. An actor without a role may act
// as either party; ownership is still checked by the coordinator.
func (a Actor) Is(r Role) bool {
	return a.Role == "" || a.Role == r
}

// Resolver turns request headers into an Actor.
type Resolver interface {
	Resolve(header func(key string) string) (Actor, error)
}

// HeaderResolver trusts identity headers injected by the API gateway.
type HeaderResolver struct {
	IDHeader   string
	RoleHeader string
}

// NewHeaderResolver returns a resolver reading the default gateway headers.
func NewHeaderResolver() *HeaderResolver {
	return &HeaderResolver{IDHeader: HeaderActorID, RoleHeader: HeaderActorRole}
}

func (r *HeaderResolver) Resolve(header func(key string) string) (Actor, error) {
	id := strings.TrimSpace(header(r.IDHeader))
	if id == "" {
		return Actor{}, ErrUnauthenticated
	}
	a := Actor{ID: id}
	switch role := Role(strings.ToLower(strings.TrimSpace(header(r.RoleHeader)))); role {
	case RoleBuyer, RoleVendor, "":
		a.Role = role
	default:
		return Actor{}, errors.New("unknown actor role " + string(role))
	}
	return a, nil
}
