package configs

import "embed"

// AgentDefaults holds the agent runtime definitions shipped with the
// daemon. They seed an empty agents directory on first start.
//
//go:embed agents/*.yaml
var AgentDefaults embed.FS
