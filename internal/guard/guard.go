// Package guard composes the checks every public operation runs before
// touching state: the attestation gate (mutating calls only), then the
// permission evaluator. Denials and attestation failures are audited here so
// domain services only record their own outcomes.
package guard

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"custodia/internal/attestation"
	"custodia/internal/audit"
	"custodia/internal/identity"
	"custodia/internal/platform/metrics"
	"custodia/internal/rbac"
	dErrors "custodia/pkg/domain-errors"
)

var tracer = otel.Tracer("custodia/internal/guard")

// Guard gates operations for one ledger variant.
type Guard struct {
	gate    *attestation.Gate
	matrix  rbac.Matrix
	audit   *audit.Recorder
	metrics *metrics.Metrics
}

func New(gate *attestation.Gate, matrix rbac.Matrix, recorder *audit.Recorder, m *metrics.Metrics) *Guard {
	return &Guard{gate: gate, matrix: matrix, audit: recorder, metrics: m}
}

// Mutating runs the attestation gate and the permission evaluator for a
// state-changing operation. Attestation failures are audited as errors and
// returned before any permission work.
func (g *Guard) Mutating(ctx context.Context, actor identity.Context, action string, res rbac.Resource, verb rbac.Action, resourceID string) (context.Context, trace.Span, error) {
	ctx, span := g.startSpan(ctx, actor, action, resourceID)

	if err := g.gate.Check(ctx); err != nil {
		g.audit.Record(ctx, actor, action, res.String(), resourceID, audit.ResultError, dErrors.ReasonOf(err))
		g.metrics.RecordOperation(action, "error")
		span.SetStatus(codes.Error, dErrors.ReasonOf(err))
		span.End()
		return ctx, nil, dErrors.Wrap(err, dErrors.CodeOf(err), "attestation check failed")
	}

	if err := g.evaluate(ctx, actor, action, res, verb, resourceID); err != nil {
		span.SetStatus(codes.Error, dErrors.ReasonOf(err))
		span.End()
		return ctx, nil, err
	}
	return ctx, span, nil
}

// Reading runs only the permission evaluator; reads are not attestation
// gated.
func (g *Guard) Reading(ctx context.Context, actor identity.Context, action string, res rbac.Resource, verb rbac.Action, resourceID string) error {
	return g.evaluate(ctx, actor, action, res, verb, resourceID)
}

// Matrix exposes the variant's permission table for queries that apply
// ownership scopes themselves.
func (g *Guard) Matrix() rbac.Matrix { return g.matrix }

func (g *Guard) evaluate(ctx context.Context, actor identity.Context, action string, res rbac.Resource, verb rbac.Action, resourceID string) error {
	role := identity.ResolveRole(actor)
	if g.matrix.Allows(role, res, verb) {
		return nil
	}
	reason := "insufficient permissions for role: " + string(role)
	g.audit.Record(ctx, actor, action, res.String(), resourceID, audit.ResultDenied, reason)
	g.metrics.RecordDenial(string(role))
	g.metrics.RecordOperation(action, "denied")
	return dErrors.Newf(dErrors.CodePermissionDenied,
		"access denied: %s does not have permission to %s on %s", role, verb, res)
}

// Success records the successful outcome of a guarded mutation and ends its
// span.
func (g *Guard) Success(ctx context.Context, span trace.Span, actor identity.Context, action, resource, resourceID, reason string) {
	g.audit.Record(ctx, actor, action, resource, resourceID, audit.ResultSuccess, reason)
	g.metrics.RecordOperation(action, "success")
	if span != nil {
		span.End()
	}
}

// Failure records an error outcome of a guarded mutation and ends its span.
func (g *Guard) Failure(ctx context.Context, span trace.Span, actor identity.Context, action, resource, resourceID string, err error) {
	g.audit.Record(ctx, actor, action, resource, resourceID, audit.ResultError, dErrors.ReasonOf(err))
	g.metrics.RecordOperation(action, "error")
	if span != nil {
		span.SetStatus(codes.Error, dErrors.ReasonOf(err))
		span.End()
	}
}

func (g *Guard) startSpan(ctx context.Context, actor identity.Context, action, resourceID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, action, trace.WithAttributes(
		attribute.String("custodia.actor", string(actor.ActorID)),
		attribute.String("custodia.resource_id", resourceID),
	))
}
