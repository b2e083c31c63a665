package attestation

// ConfigKey is the singleton record holding the shared trust configuration.
// One per ledger.
const ConfigKey = "PRV_CONFIG"

// TrustConfig asserts that the trusted execution environment's measurements
// have been verified by a quorum of organizations within a validity window.
// Every mutating operation is gated on this record.
type TrustConfig struct {
	PublicKey      string   `json:"public_key"`
	MREnclave      string   `json:"mr_enclave"`
	MRSigner       string   `json:"mr_signer"`
	UpdatedAt      int64    `json:"updated_at"`
	AttestationDoc string   `json:"attestation_doc"`
	VerifiedBy     []string `json:"verified_by"`
	TCBLevel       string   `json:"tcb_level"`
	ExpiresAt      int64    `json:"expires_at"`
}

// MinVerifiers is the verifier quorum required before mutations proceed.
const MinVerifiers = 2

// HasVerifier reports whether org already attested this configuration.
func (c TrustConfig) HasVerifier(org string) bool {
	for _, v := range c.VerifiedBy {
		if v == org {
			return true
		}
	}
	return false
}
