package controller

import "strconv"

// BuildPriority orders compute requests. A higher value is more urgent.
// The value is advisory and handed to the amphora driver unchanged.
type BuildPriority int

const (
	PrioritySpares        BuildPriority = 10
	PriorityNormal        BuildPriority = 20
	PriorityFailover      BuildPriority = 30
	PriorityAdminFailover BuildPriority = 40
)

func (p BuildPriority) String() string {
	switch p {
	case PrioritySpares:
		return "spares"
	case PriorityNormal:
		return "normal"
	case PriorityFailover:
		return "failover"
	case PriorityAdminFailover:
		return "admin-failover"
	default:
		return strconv.Itoa(int(p))
	}
}
