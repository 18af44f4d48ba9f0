// Package credential caches employee PIN verifications so staff can keep
// signing in while the backend is unreachable.
package credential

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/repairhub/intake/internal/services/offline/domain"
	"github.com/repairhub/intake/internal/services/offline/storage"
)

// DefaultTTL is how long a cached verification stays usable offline.
const DefaultTTL = 7 * 24 * time.Hour

// ErrNoMatch is returned by VerifyOffline when no non-expired cached
// credential matches the presented PIN.
var ErrNoMatch = fmt.Errorf("credential: no cached match for pin")

// Cache stores salted PIN digests for employees who verified online
// recently, and answers offline verification requests against them.
type Cache struct {
	store storage.CredentialStore
	ttl   time.Duration
	clock func() time.Time
	cost  int
}

// NewCache builds a cache over store. A nil clock defaults to time.Now
// and a non-positive ttl defaults to DefaultTTL.
func NewCache(store storage.CredentialStore, ttl time.Duration, clock func() time.Time) *Cache {
	if clock == nil {
		clock = time.Now
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store: store,
		ttl:   ttl,
		clock: clock,
		cost:  bcrypt.DefaultCost,
	}
}

// Cache records a successful online verification. The PIN is stored as a
// bcrypt digest with a per-entry salt; the plaintext never reaches disk.
// Re-caching an employee replaces their previous entry and extends expiry.
func (c *Cache) Cache(ctx context.Context, employee domain.Employee, pin string) error {
	if c == nil || c.store == nil {
		return fmt.Errorf("credential cache is not configured")
	}
	if strings.TrimSpace(employee.ID) == "" {
		return fmt.Errorf("employee id is required")
	}
	if pin == "" {
		return fmt.Errorf("pin is required")
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(pin), c.cost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}

	now := c.clock().UTC()
	return c.store.PutCredential(ctx, domain.CachedCredential{
		EmployeeID: employee.ID,
		Name:       employee.Name,
		Role:       employee.Role,
		PINHash:    digest,
		CachedAt:   now,
		ExpiresAt:  now.Add(c.ttl),
	})
}

// VerifyOffline checks pin against every non-expired cached credential and
// returns the matching employee. Digests are salted, so each candidate is
// compared individually rather than looked up by hash.
func (c *Cache) VerifyOffline(ctx context.Context, pin string) (domain.Employee, error) {
	if c == nil || c.store == nil {
		return domain.Employee{}, fmt.Errorf("credential cache is not configured")
	}
	if pin == "" {
		return domain.Employee{}, ErrNoMatch
	}

	creds, err := c.store.ListCredentials(ctx)
	if err != nil {
		return domain.Employee{}, fmt.Errorf("list credentials: %w", err)
	}

	now := c.clock().UTC()
	for _, cred := range creds {
		if cred.ExpiredAt(now) {
			continue
		}
		if bcrypt.CompareHashAndPassword(cred.PINHash, []byte(pin)) == nil {
			return cred.Employee(), nil
		}
	}
	return domain.Employee{}, ErrNoMatch
}

// HasCachedCredentials reports whether at least one non-expired entry
// exists, so the UI can tell "wrong PIN" apart from "nobody can sign in
// offline on this machine".
func (c *Cache) HasCachedCredentials(ctx context.Context) (bool, error) {
	if c == nil || c.store == nil {
		return false, fmt.Errorf("credential cache is not configured")
	}

	creds, err := c.store.ListCredentials(ctx)
	if err != nil {
		return false, fmt.Errorf("list credentials: %w", err)
	}

	now := c.clock().UTC()
	for _, cred := range creds {
		if !cred.ExpiredAt(now) {
			return true, nil
		}
	}
	return false, nil
}

// Remove drops a single employee's cached credential.
func (c *Cache) Remove(ctx context.Context, employeeID string) error {
	if c == nil || c.store == nil {
		return fmt.Errorf("credential cache is not configured")
	}
	return c.store.DeleteCredential(ctx, employeeID)
}

// CleanupExpired removes entries whose expiry has passed and returns how
// many were pruned. Run at startup and after the TTL rolls an entry over.
func (c *Cache) CleanupExpired(ctx context.Context) (int, error) {
	if c == nil || c.store == nil {
		return 0, fmt.Errorf("credential cache is not configured")
	}
	return c.store.DeleteExpiredCredentials(ctx, c.clock().UTC())
}
