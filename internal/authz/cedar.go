package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	cedar "github.com/cedar-policy/cedar-go"
	"github.com/google/uuid"

	"github.com/decksnap/decksnap-sync/internal/auth"
	"github.com/decksnap/decksnap-sync/internal/model"
	"github.com/decksnap/decksnap-sync/internal/store"
)

const cedarNamespace = "DeckSnap"

var (
	userType         = cedar.EntityType(cedarNamespace + "::User")
	presentationType = cedar.EntityType(cedarNamespace + "::Presentation")
	actionType       = cedar.EntityType(cedarNamespace + "::Action")
)

// PolicyAuthorizer evaluates Cedar policies against the presentation being opened
type PolicyAuthorizer struct {
	presentations PresentationGetter

	mu        sync.RWMutex // Protects policySet
	policySet *cedar.PolicySet
}

// NewPolicyAuthorizer creates a Cedar-based authorizer.
// If policyBytes is nil, the built-in owner-only policy is used.
func NewPolicyAuthorizer(presentations PresentationGetter, policyBytes []byte) (*PolicyAuthorizer, error) {
	if policyBytes == nil {
		policyBytes = []byte(defaultPolicies)
	}

	ps, err := parsePolicies(policyBytes)
	if err != nil {
		return nil, err
	}

	return &PolicyAuthorizer{presentations: presentations, policySet: ps}, nil
}

// SetPolicies replaces the policy set. On a parse error the current set stays active.
func (a *PolicyAuthorizer) SetPolicies(policyBytes []byte) error {
	ps, err := parsePolicies(policyBytes)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.policySet = ps
	a.mu.Unlock()
	return nil
}

func parsePolicies(policyBytes []byte) (*cedar.PolicySet, error) {
	ps, err := cedar.NewPolicySetFromBytes("policies.cedar", policyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Cedar policies: %w", err)
	}
	return ps, nil
}

// Authorize returns nil when the policies permit userID to open the presentation
// and auth.ErrForbidden otherwise. A missing presentation is also ErrForbidden so
// ids cannot be enumerated.
func (a *PolicyAuthorizer) Authorize(ctx context.Context, userID, presentationID uuid.UUID) error {
	p, err := a.presentations.GetPresentation(ctx, presentationID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: presentation %s", auth.ErrForbidden, presentationID)
	}
	if err != nil {
		return fmt.Errorf("failed to load presentation %s: %w", presentationID, err)
	}

	decision := a.Evaluate(ctx, userID, ActionOpen, p)
	if !decision.Allowed {
		return fmt.Errorf("%w: presentation %s", auth.ErrForbidden, presentationID)
	}
	return nil
}

// Evaluate runs the policy set for a single principal, action and presentation.
func (a *PolicyAuthorizer) Evaluate(ctx context.Context, userID uuid.UUID, action string, p *model.Presentation) Decision {
	principalUID := cedar.NewEntityUID(userType, cedar.String(userID.String()))
	ownerUID := cedar.NewEntityUID(userType, cedar.String(p.OwnerID.String()))
	resourceUID := cedar.NewEntityUID(presentationType, cedar.String(p.ID.String()))

	entities := cedar.EntityMap{
		principalUID: cedar.Entity{UID: principalUID},
		resourceUID: cedar.Entity{
			UID: resourceUID,
			Attributes: cedar.NewRecord(cedar.RecordMap{
				"owner":    ownerUID,
				"isPublic": cedar.Boolean(p.IsPublic),
			}),
		},
	}
	if ownerUID != principalUID {
		entities[ownerUID] = cedar.Entity{UID: ownerUID}
	}

	req := cedar.Request{
		Principal: principalUID,
		Action:    cedar.NewEntityUID(actionType, cedar.String(action)),
		Resource:  resourceUID,
		Context:   cedar.NewRecord(cedar.RecordMap{}),
	}

	a.mu.RLock()
	policySet := a.policySet
	a.mu.RUnlock()

	decision, diagnostic := cedar.Authorize(policySet, entities, req)

	var reasons []string
	for _, r := range diagnostic.Reasons {
		reasons = append(reasons, string(r.PolicyID))
	}
	for _, e := range diagnostic.Errors {
		slog.WarnContext(ctx, "Policy evaluation error", "policy", e.PolicyID, "error", e.Message)
	}

	slog.DebugContext(ctx, "Authorization decision",
		"action", action,
		"decision", decision,
		"user_id", userID,
		"presentation_id", p.ID,
		"reasons", reasons,
	)

	return Decision{
		Allowed: decision == cedar.Allow,
		Reasons: reasons,
	}
}
