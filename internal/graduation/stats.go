package graduation

import "github.com/fyrsmithlabs/patternd/internal/pattern"

// Stats aggregates the observations attributed to one pattern.
type Stats struct {
	TotalObservations int     `json:"total_observations"`
	UniqueUsers       int     `json:"unique_users"`
	UniqueProjects    int     `json:"unique_projects"`
	UniqueCompanies   int     `json:"unique_companies"`
	AcceptanceRate    float64 `json:"acceptance_rate"`
	ModificationRate  float64 `json:"modification_rate"`
	RejectionRate     float64 `json:"rejection_rate"`
	HelpfulRate       float64 `json:"helpful_rate"`
}

// ComputeStats aggregates observations. Users and projects are counted per
// company so identical names in different tenants stay distinct.
func ComputeStats(observations []pattern.Observation) Stats {
	s := Stats{TotalObservations: len(observations)}
	if len(observations) == 0 {
		return s
	}

	users := make(map[[2]string]struct{})
	projects := make(map[[2]string]struct{})
	companies := make(map[string]struct{})
	var accepted, modified, rejected int

	for _, o := range observations {
		if o.User != "" {
			users[[2]string{o.Company, o.User}] = struct{}{}
		}
		if o.Project != "" {
			projects[[2]string{o.Company, o.Project}] = struct{}{}
		}
		if o.Company != "" {
			companies[o.Company] = struct{}{}
		}
		switch o.Outcome {
		case pattern.OutcomeAccepted:
			accepted++
		case pattern.OutcomeModified:
			modified++
		case pattern.OutcomeRejected:
			rejected++
		}
	}

	total := float64(len(observations))
	s.UniqueUsers = len(users)
	s.UniqueProjects = len(projects)
	s.UniqueCompanies = len(companies)
	s.AcceptanceRate = float64(accepted) / total
	s.ModificationRate = float64(modified) / total
	s.RejectionRate = float64(rejected) / total
	s.HelpfulRate = float64(accepted+modified) / total
	return s
}
