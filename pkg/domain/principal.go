package domain

// AuthMechanism says how a principal authenticated.
type AuthMechanism string

const (
	// MechanismInteractive is a browser session token.
	MechanismInteractive AuthMechanism = "interactive"
	// MechanismProgrammatic is a personal access token.
	MechanismProgrammatic AuthMechanism = "programmatic"
)

func (m AuthMechanism) IsValid() bool {
	return m == MechanismInteractive || m == MechanismProgrammatic
}

func (m AuthMechanism) String() string {
	return string(m)
}

// Principal is the authenticated actor a request acts for. It is derived per
// request from credentials and never persisted by the admission layer.
type Principal struct {
	Subject   SubjectID
	Mechanism AuthMechanism
}

func (p Principal) IsProgrammatic() bool {
	return p.Mechanism == MechanismProgrammatic
}
