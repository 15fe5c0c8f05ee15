package entitlements

// Limits are the usage caps a plan buys. Other services mirror these through
// billing events, so keep the shape small and stable.
type Limits struct {
	Plan                   string `json:"plan"`
	MaxServices            int    `json:"max_services"`
	MaxMonthlyAppointments int    `json:"max_monthly_appointments"`
}

func LimitsForPlan(plan string) Limits {
	switch plan {
	case "premium":
		return Limits{
			Plan:                   "premium",
			MaxServices:            50,
			MaxMonthlyAppointments: 1000,
		}
	default:
		return Limits{
			Plan:                   "free",
			MaxServices:            3,
			MaxMonthlyAppointments: 20,
		}
	}
}
