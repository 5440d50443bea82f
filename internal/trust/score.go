package trust

// ComponentScores holds the four weighted components, each in [0,1], that
// compose into the raw trust score (spec.md §4.6).
type ComponentScores struct {
	Behavioral float64
	Compliance float64
	Identity   float64
	Context    float64
}

const (
	weightBehavioral = 0.40
	weightCompliance = 0.25
	weightIdentity   = 0.20
	weightContext    = 0.15

	behavioralMinSamples = 10
	failureWeightRatio   = 3.0
)

// BehavioralInput summarises the raw events behind the behavioral component.
type BehavioralInput struct {
	Successes int
	Failures  int
	Quality   float64 // [0,1], e.g. mean output-quality signal
	Efficiency float64 // [0,1]
}

// Behavioral computes the behavioral component. Failures are weighted 3x
// successes; the component requires a minimum sample of 10 events before it
// is allowed to dominate (below that, it is pulled toward a neutral 0.5).
func Behavioral(in BehavioralInput) float64 {
	total := in.Successes + in.Failures
	var successRate float64
	if total == 0 {
		successRate = 0.5
	} else {
		weightedTotal := float64(in.Successes) + float64(in.Failures)*failureWeightRatio
		weightedSuccess := float64(in.Successes)
		successRate = weightedSuccess / (weightedSuccess + (weightedTotal - weightedSuccess))
	}
	composite := clamp01(0.6*successRate + 0.2*in.Quality + 0.2*in.Efficiency)
	if total < behavioralMinSamples {
		// Pull toward neutral proportionally to how far below the minimum
		// sample size we are, so a single data point cannot swing the score.
		confidence := float64(total) / float64(behavioralMinSamples)
		composite = 0.5 + confidence*(composite-0.5)
	}
	return clamp01(composite)
}

// ComplianceInput summarises policy-adherence events.
type ComplianceInput struct {
	AdherenceRate float64 // [0,1]
	AuditPassRate float64 // [0,1]
	LowViolations      int
	MediumViolations   int
	HighViolations     int
	CriticalViolations int
}

var violationDeduction = map[string]float64{
	"low": 1, "medium": 2, "high": 5, "critical": 10,
}

// Compliance computes the compliance component; violations deduct points
// per severity from an otherwise rate-based baseline, scaled into [0,1].
func Compliance(in ComplianceInput) float64 {
	baseline := clamp01(0.5*in.AdherenceRate + 0.5*in.AuditPassRate)
	deduction := float64(in.LowViolations)*violationDeduction["low"] +
		float64(in.MediumViolations)*violationDeduction["medium"] +
		float64(in.HighViolations)*violationDeduction["high"] +
		float64(in.CriticalViolations)*violationDeduction["critical"]
	// Deductions are expressed in "points out of 100" for readability in
	// config/signals; normalise into the same [0,1] scale as baseline.
	return clamp01(baseline - deduction/100.0)
}

// VerificationLevel is the identity-verification tier.
type VerificationLevel int

const (
	VerificationUnverified VerificationLevel = iota
	VerificationEmail
	VerificationDomain
	VerificationOrganization
	VerificationEnterprise
)

var verificationScore = [...]float64{
	VerificationUnverified:   0.2,
	VerificationEmail:        0.4,
	VerificationDomain:       0.6,
	VerificationOrganization: 0.8,
	VerificationEnterprise:   1.0,
}

// CertificateLevel is the optional bonus certificate tier stacked on top of
// verification level.
type CertificateLevel int

const (
	CertificateRegistered CertificateLevel = iota
	CertificateVerified
	CertificateCertified
	CertificateCertifiedPlus
)

var certificateBonus = [...]float64{
	CertificateRegistered:    0,
	CertificateVerified:      0.1,
	CertificateCertified:     0.2,
	CertificateCertifiedPlus: 0.3,
}

// IdentityInput summarises the identity component inputs.
type IdentityInput struct {
	Verification VerificationLevel
	Certificate  CertificateLevel
}

func IdentityComponent(in IdentityInput) float64 {
	return clamp01(verificationScore[in.Verification] + certificateBonus[in.Certificate])
}

// DeploymentEnvironment is the context component's environment axis.
type DeploymentEnvironment int

const (
	EnvSandbox DeploymentEnvironment = iota
	EnvDevelopment
	EnvStaging
	EnvProduction
	EnvPublic
)

var environmentScore = [...]float64{
	EnvSandbox:     1.0,
	EnvDevelopment: 0.8,
	EnvStaging:     0.6,
	EnvProduction:  0.4,
	EnvPublic:      0.2,
}

// ContextInput summarises the context component inputs.
type ContextInput struct {
	Environment        DeploymentEnvironment
	Isolated           bool
	TLS                bool
	SecretsManaged     bool
}

func ContextComponent(in ContextInput) float64 {
	score := environmentScore[in.Environment]
	bonus := 0.0
	if in.Isolated {
		bonus += 0.05
	}
	if in.TLS {
		bonus += 0.03
	}
	if in.SecretsManaged {
		bonus += 0.02
	}
	return clamp01(score + bonus)
}

// Composite computes the raw composite score in [0,1000] from the four
// weighted components (each already in [0,1]).
func Composite(c ComponentScores) int {
	raw := weightBehavioral*c.Behavioral +
		weightCompliance*c.Compliance +
		weightIdentity*c.Identity +
		weightContext*c.Context
	return int(clampFloat(raw*1000, 0, 1000) + 0.5)
}

func clamp01(v float64) float64 {
	return clampFloat(v, 0, 1)
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
