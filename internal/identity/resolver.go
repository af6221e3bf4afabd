// ABOUTME: Maps inbound contact addresses to patient journeys and sender roles
// ABOUTME: Index is built from a store scan on start and updated incrementally

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/medforce/intake-gateway/internal/diary"
	"github.com/medforce/intake-gateway/internal/event"
	"github.com/medforce/intake-gateway/internal/store"
)

var (
	// ErrUnknownContact means no journey matched the address.
	ErrUnknownContact = errors.New("unknown contact")

	// ErrAmbiguousContact means the address matches several
	// journeys and no recent-activity tiebreak applies.
	ErrAmbiguousContact = errors.New("ambiguous contact")
)

// AffinityWindow is how recently a patient must have been active for
// a shared contact address to resolve to them over other matches.
const AffinityWindow = 24 * time.Hour

// Identity is a resolved sender.
type Identity struct {
	PatientID string
	SenderID  string
	Role      event.Role
}

type ref struct {
	patientID string
	senderID  string
	role      event.Role
}

// Resolver maintains a contact address index over all diaries.
type Resolver struct {
	mu         sync.RWMutex
	index      map[string][]ref
	lastActive map[string]time.Time
	logger     *slog.Logger
}

// NewResolver creates an empty resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		index:      map[string][]ref{},
		lastActive: map[string]time.Time{},
		logger:     logger.With("component", "identity"),
	}
}

// Rebuild scans every diary and rebuilds the contact index. Called on
// startup so restarts recover the full mapping.
func (r *Resolver) Rebuild(ctx context.Context, s store.Store) error {
	ids, err := s.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("scanning diaries for identity index: %w", err)
	}
	fresh := map[string][]ref{}
	for _, id := range ids {
		d, _, err := s.Load(ctx, id)
		if err != nil {
			return fmt.Errorf("loading diary %s for identity index: %w", id, err)
		}
		indexDiary(fresh, d)
	}
	r.mu.Lock()
	r.index = fresh
	r.mu.Unlock()
	r.logger.Info("identity index rebuilt", "diaries", len(ids), "contacts", len(fresh))
	return nil
}

// Update refreshes the index entries contributed by one diary, used
// after helper registration or contact changes.
func (r *Resolver) Update(d *diary.Diary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, refs := range r.index {
		kept := refs[:0]
		for _, f := range refs {
			if f.patientID != d.PatientID {
				kept = append(kept, f)
			}
		}
		if len(kept) == 0 {
			delete(r.index, key)
		} else {
			r.index[key] = kept
		}
	}
	indexDiary(r.index, d)
}

// Touch records patient activity for the ambiguity tiebreak.
func (r *Resolver) Touch(patientID string) {
	r.mu.Lock()
	r.lastActive[patientID] = time.Now()
	r.mu.Unlock()
}

// Resolve maps a contact address to a sender identity. When the
// address matches several journeys, the patient active most recently
// within AffinityWindow wins; otherwise the ambiguity is surfaced.
func (r *Resolver) Resolve(contact string) (Identity, error) {
	key := Normalize(contact)
	if key == "" {
		return Identity{}, fmt.Errorf("resolving %q: %w", contact, ErrUnknownContact)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	refs := r.index[key]
	if len(refs) == 0 {
		return Identity{}, fmt.Errorf("resolving %q: %w", contact, ErrUnknownContact)
	}
	// Patient registrations shadow helper ones, helpers shadow GPs.
	for _, role := range []event.Role{event.RolePatient, event.RoleHelper, event.RoleGP} {
		var matched []ref
		for _, f := range refs {
			if f.role == role {
				matched = append(matched, f)
			}
		}
		if len(matched) > 0 {
			refs = matched
			break
		}
	}
	if len(refs) == 1 {
		f := refs[0]
		return Identity{PatientID: f.patientID, SenderID: f.senderID, Role: f.role}, nil
	}

	// Multiple journeys share this address. Pick the one with the
	// freshest activity inside the affinity window.
	best := -1
	var bestAt time.Time
	for i, f := range refs {
		at, ok := r.lastActive[f.patientID]
		if !ok || time.Since(at) > AffinityWindow {
			continue
		}
		if at.After(bestAt) {
			best, bestAt = i, at
		}
	}
	if best < 0 {
		return Identity{}, fmt.Errorf("resolving %q across %d journeys: %w", contact, len(refs), ErrAmbiguousContact)
	}
	f := refs[best]
	return Identity{PatientID: f.patientID, SenderID: f.senderID, Role: f.role}, nil
}

// indexDiary adds one diary's contacts. Lookup precedence patient >
// helper > GP is encoded as insertion order per key.
func indexDiary(idx map[string][]ref, d *diary.Diary) {
	add := func(contact string, f ref) {
		key := Normalize(contact)
		if key == "" {
			return
		}
		idx[key] = append(idx[key], f)
	}
	add(d.Contact.Phone, ref{d.PatientID, "PATIENT", event.RolePatient})
	add(d.Contact.Email, ref{d.PatientID, "PATIENT", event.RolePatient})

	helperIDs := make([]string, 0, len(d.Helpers))
	for id := range d.Helpers {
		helperIDs = append(helperIDs, id)
	}
	sort.Strings(helperIDs)
	for _, id := range helperIDs {
		h := d.Helpers[id]
		add(h.Phone, ref{d.PatientID, h.ID, event.RoleHelper})
		add(h.Email, ref{d.PatientID, h.ID, event.RoleHelper})
	}
	add(d.GP.Email, ref{d.PatientID, d.GP.GPID, event.RoleGP})
}

// Normalize canonicalizes a contact address. Phone numbers lose
// spaces, dashes and parentheses; UK national 07x numbers become
// +447x. Emails are lowercased.
func Normalize(contact string) string {
	c := strings.ToLower(strings.TrimSpace(contact))
	if c == "" {
		return ""
	}
	if strings.Contains(c, "@") {
		return c
	}
	var b strings.Builder
	for _, r := range c {
		switch r {
		case ' ', '-', '(', ')', '.':
		default:
			b.WriteRune(r)
		}
	}
	c = b.String()
	if strings.HasPrefix(c, "07") {
		c = "+44" + c[1:]
	}
	return c
}
