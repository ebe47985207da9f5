package attendance

import "time"

// AccessLead is how early before StartTime a class opens.
const AccessLead = 2 * time.Minute

// WindowPolicy decides whether a class accepts interaction at an instant.
type WindowPolicy struct {
	Lead time.Duration
}

// DefaultWindow opens classes AccessLead before they start.
func DefaultWindow() WindowPolicy {
	return WindowPolicy{Lead: AccessLead}
}

// Opens returns the first instant at which session accepts interaction.
func (p WindowPolicy) Opens(session ClassSession) time.Time {
	return session.StartTime.Add(-p.Lead)
}

// Within reports whether now lies in [StartTime-Lead, EndTime].
func (p WindowPolicy) Within(session ClassSession, now time.Time) bool {
	return !now.Before(p.Opens(session)) && !now.After(session.EndTime)
}
