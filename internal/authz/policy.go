package authz

import (
	"context"
	_ "embed"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/rego"

	"github.com/noah-isme/hostelsync-api/internal/models"
)

//go:embed policy.rego
var policySource string

const capabilitiesQuery = "data.hostelsync.transport.capabilities"

// Policy resolves the capabilities a role grants.
type Policy struct {
	query rego.PreparedEvalQuery
}

// NewPolicy compiles the embedded capability policy.
func NewPolicy(ctx context.Context) (*Policy, error) {
	query, err := rego.New(
		rego.Query(capabilitiesQuery),
		rego.Module("policy.rego", policySource),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile capability policy: %w", err)
	}
	return &Policy{query: query}, nil
}

// Capabilities evaluates the policy for role. Unknown roles get none.
func (p *Policy) Capabilities(ctx context.Context, role models.UserRole) ([]models.Capability, error) {
	results, err := p.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"role": string(role),
	}))
	if err != nil {
		return nil, fmt.Errorf("evaluate capability policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	raw, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected policy result %T", results[0].Expressions[0].Value)
	}
	caps := make([]models.Capability, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			caps = append(caps, models.Capability(s))
		}
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps, nil
}

// Principal builds the authenticated principal for verified claims.
func (p *Policy) Principal(ctx context.Context, claims *models.JWTClaims) (*models.Principal, error) {
	if claims == nil {
		return nil, fmt.Errorf("missing claims")
	}
	caps, err := p.Capabilities(ctx, claims.Role)
	if err != nil {
		return nil, err
	}
	return &models.Principal{
		UserID:       claims.UserID,
		Role:         claims.Role,
		Email:        claims.Email,
		Name:         claims.Name,
		Capabilities: caps,
	}, nil
}
