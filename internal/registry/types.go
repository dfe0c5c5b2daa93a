package registry

// AgentConfig describes one external agent runtime: the executable to
// spawn, the argument shapes for headless plan and execute runs, and how
// the generated hook settings file is handed to it.
type AgentConfig struct {
	ID             string   `yaml:"id" json:"id"`
	Name           string   `yaml:"name" json:"name"`
	Command        string   `yaml:"command" json:"command"`
	PlanArgs       []string `yaml:"plan_args" json:"plan_args"`
	ExecuteArgs    []string `yaml:"execute_args" json:"execute_args"`
	ResumeFlag     string   `yaml:"resume_flag,omitempty" json:"resume_flag,omitempty"`
	SettingsEnv    string   `yaml:"settings_env" json:"settings_env"`
	SupportsResume bool     `yaml:"supports_resume" json:"supports_resume"`
	Notes          string   `yaml:"notes,omitempty" json:"notes,omitempty"`
}
