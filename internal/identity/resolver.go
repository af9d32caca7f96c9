// Package identity resolves sender phone numbers to registered dealers.
package identity

import (
	"context"
	"strings"

	"github.com/ashureev/lotline/internal/domain"
	"github.com/ashureev/lotline/internal/store"
)

// Resolver maps a sender id to its owning dealer, or nil when unregistered.
type Resolver interface {
	Resolve(ctx context.Context, senderID string) (*domain.Dealer, error)
}

// StoreResolver resolves dealers from the repository's dealer table.
type StoreResolver struct {
	repo store.Repository
}

// NewStoreResolver creates a repository-backed resolver.
func NewStoreResolver(repo store.Repository) *StoreResolver {
	return &StoreResolver{repo: repo}
}

// Resolve looks up the dealer registered for the sender's phone number.
func (r *StoreResolver) Resolve(ctx context.Context, senderID string) (*domain.Dealer, error) {
	return r.repo.GetDealerByPhone(ctx, NormalizePhone(senderID))
}

// NormalizePhone reduces a phone number to its digits so webhook sender ids
// and registered numbers compare equal regardless of formatting.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
