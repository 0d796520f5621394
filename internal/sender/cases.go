package sender

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Case is one crafted snapshot to transmit.
type Case struct {
	Name          string `yaml:"name" json:"name"`
	PeopleEntered int    `yaml:"peopleEntered" json:"peopleEntered"`
	PeopleExited  int    `yaml:"peopleExited" json:"peopleExited"`
}

// DefaultCases returns the built-in abnormal snapshots.
func DefaultCases() []Case {
	return []Case{
		{Name: "unrealistic-high", PeopleEntered: 200, PeopleExited: 0},
		{Name: "negative-entered", PeopleEntered: -5, PeopleExited: 2},
		{Name: "sudden-spike", PeopleEntered: 50, PeopleExited: 0},
		{Name: "exit-exceeds-enter", PeopleEntered: 1, PeopleExited: 99},
		{Name: "extreme-values", PeopleEntered: 300, PeopleExited: 200},
	}
}

// LoadCases reads a YAML list of cases. Unnamed cases are numbered.
func LoadCases(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var cases []Case
	if err := yaml.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("failed to parse scenario file %s: %w", path, err)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("scenario file %s has no cases", path)
	}

	for i := range cases {
		if cases[i].Name == "" {
			cases[i].Name = fmt.Sprintf("case-%d", i+1)
		}
	}
	return cases, nil
}
