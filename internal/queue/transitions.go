package queue

type edge struct {
	From Status
	To   Status
}

// transitionRoles lists, per allowed edge, which roles may drive it.
// Staff roles additionally require the actor's clinic to match the
// token's clinic; patients may only act on their own token.
var transitionRoles = map[edge][]Role{
	{StatusWaiting, StatusInConsultation}:   {RoleDoctor, RoleAttender},
	{StatusWaiting, StatusCancelled}:        {RoleDoctor, RoleAttender, RolePatient},
	{StatusInConsultation, StatusCompleted}: {RoleDoctor},
	{StatusInConsultation, StatusCancelled}: {RoleDoctor, RoleAttender},
}

// ValidTransition reports whether from -> to is an edge of the token
// state machine at all, for any actor.
func ValidTransition(from, to Status) bool {
	_, ok := transitionRoles[edge{from, to}]
	return ok
}

// RoleMayTransition reports whether role may drive from -> to.
func RoleMayTransition(role Role, from, to Status) bool {
	for _, r := range transitionRoles[edge{from, to}] {
		if r == role {
			return true
		}
	}
	return false
}
