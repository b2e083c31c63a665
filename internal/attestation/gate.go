package attestation

import (
	"context"
	"encoding/json"
	"errors"

	"custodia/internal/ledger"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// ConfigReader supplies the current trust configuration. The ledger store
// satisfies it directly; a redis cache can wrap it for the mutation hot path.
type ConfigReader interface {
	ReadConfig(ctx context.Context) (*TrustConfig, error)
}

// Gate validates the shared trust configuration before any mutating call
// proceeds. It fails closed: missing config, expired config, and a verifier
// count below quorum all reject with a specific reason.
type Gate struct {
	reader ConfigReader
}

func NewGate(reader ConfigReader) *Gate {
	return &Gate{reader: reader}
}

// Check rejects unless the configuration exists, is inside its validity
// window, and carries at least MinVerifiers distinct verifier organizations.
func (g *Gate) Check(ctx context.Context) error {
	config, err := g.reader.ReadConfig(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeAttestationExpired, "attestation not initialized")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read trust config")
	}

	now := requestcontext.Now(ctx).Unix()
	if now > config.ExpiresAt {
		return dErrors.Newf(dErrors.CodeAttestationExpired,
			"attestation expired at %d, current time %d", config.ExpiresAt, now)
	}
	if len(distinct(config.VerifiedBy)) < MinVerifiers {
		return dErrors.Newf(dErrors.CodeInsufficientVerifiers,
			"insufficient verifiers: %d < %d", len(distinct(config.VerifiedBy)), MinVerifiers)
	}
	return nil
}

func distinct(orgs []string) []string {
	seen := make(map[string]struct{}, len(orgs))
	var out []string
	for _, org := range orgs {
		if _, ok := seen[org]; ok {
			continue
		}
		seen[org] = struct{}{}
		out = append(out, org)
	}
	return out
}

// StoreReader reads the trust configuration straight from the ledger.
type StoreReader struct {
	store ledger.Store
}

func NewStoreReader(store ledger.Store) *StoreReader {
	return &StoreReader{store: store}
}

func (r *StoreReader) ReadConfig(ctx context.Context) (*TrustConfig, error) {
	raw, err := r.store.Get(ctx, ConfigKey)
	if err != nil {
		return nil, err
	}
	var config TrustConfig
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, err
	}
	return &config, nil
}
