package domain

// Team is one of the fixed buzzer teams.
type Team struct {
	ID    string
	Name  string
	Color string
}

var teams = []Team{
	{ID: "red", Name: "Red Team", Color: "#E53935"},
	{ID: "blue", Name: "Blue Team", Color: "#1E88E5"},
	{ID: "green", Name: "Green Team", Color: "#43A047"},
	{ID: "yellow", Name: "Yellow Team", Color: "#FDD835"},
}

// Teams returns a copy of the roster.
func Teams() []Team {
	out := make([]Team, len(teams))
	copy(out, teams)
	return out
}

// FindTeam looks a team up by id.
func FindTeam(id string) (Team, bool) {
	for _, t := range teams {
		if t.ID == id {
			return t, true
		}
	}
	return Team{}, false
}
