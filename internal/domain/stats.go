package domain

// KillSwitchReport — сводка по активным рубильникам для операторов.
type KillSwitchReport struct {
	GlobalActive     bool     `json:"global_active"`
	SuspendedDomains []string `json:"suspended_domains"`
	SuspendedAgents  []string `json:"suspended_agents"`
	TotalActive      int      `json:"total_active"`
}
