package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"custodia/internal/audit"
	"custodia/internal/identity"
	"custodia/internal/ledger"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// Invalidator drops a cached trust configuration after a registration.
// Implemented by CachedReader; nil when no cache is configured.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// Service manages the trust configuration lifecycle: initial seeding and
// verifier registration. Both operations are restricted at deployment to the
// platform operator, so the service enforces no role check of its own and is
// not attestation gated; a gate here would deadlock the bootstrap.
type Service struct {
	store ledger.Store
	audit *audit.Recorder
	cache Invalidator
	ttl   time.Duration
}

func NewService(store ledger.Store, recorder *audit.Recorder, cache Invalidator, ttl time.Duration) *Service {
	return &Service{store: store, audit: recorder, cache: cache, ttl: ttl}
}

// InitParams seed the singleton trust configuration.
type InitParams struct {
	PublicKey string `json:"public_key"`
	MREnclave string `json:"mr_enclave"`
	MRSigner  string `json:"mr_signer"`
}

// Init seeds the trust configuration with no verifiers. The gate rejects all
// mutations until a quorum of organizations registers. Re-running Init on an
// existing configuration fails.
func (s *Service) Init(ctx context.Context, actor identity.Context, params InitParams) (*TrustConfig, error) {
	now := requestcontext.Now(ctx).Unix()
	config := TrustConfig{
		PublicKey:  params.PublicKey,
		MREnclave:  params.MREnclave,
		MRSigner:   params.MRSigner,
		UpdatedAt:  now,
		VerifiedBy: []string{},
		TCBLevel:   "1",
		ExpiresAt:  now + int64(s.ttl.Seconds()),
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to marshal trust config")
	}
	if err := s.store.Create(ctx, ConfigKey, raw); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeAlreadyExists, "trust config already initialized")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to write trust config")
	}
	s.audit.Record(ctx, actor, "InitAttestation", "attestation.config", ConfigKey, audit.ResultSuccess, "trust config initialized")
	s.invalidate(ctx)
	return &config, nil
}

// Register records an organization's verification of the current enclave
// measurements, refreshes the attestation document, and extends the validity
// window. Registering twice from the same organization refreshes the window
// without growing the verifier set.
func (s *Service) Register(ctx context.Context, actor identity.Context, attestationDoc string) (*TrustConfig, error) {
	var updated TrustConfig
	err := s.store.Update(ctx, ConfigKey, func(raw json.RawMessage) (json.RawMessage, error) {
		var config TrustConfig
		if err := json.Unmarshal(raw, &config); err != nil {
			return nil, err
		}
		if !config.HasVerifier(actor.Organization) {
			config.VerifiedBy = append(config.VerifiedBy, actor.Organization)
		}
		now := requestcontext.Now(ctx).Unix()
		config.AttestationDoc = attestationDoc
		config.UpdatedAt = now
		config.ExpiresAt = now + int64(s.ttl.Seconds())
		updated = config
		return json.Marshal(config)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "trust config not initialized")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update trust config")
	}
	s.audit.Record(ctx, actor, "RegisterAttestation", "attestation.config", ConfigKey, audit.ResultSuccess,
		"attestation registered by "+actor.Organization)
	s.invalidate(ctx)
	return &updated, nil
}

// Config returns the current trust configuration.
func (s *Service) Config(ctx context.Context) (*TrustConfig, error) {
	reader := NewStoreReader(s.store)
	config, err := reader.ReadConfig(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "trust config not found")
	}
	return config, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx)
}
