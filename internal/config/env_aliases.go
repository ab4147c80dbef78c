package config

// DefaultEnvAliases maps each canonical REPUBLIC_* variable to the legacy
// names still honoured by deployments.
func DefaultEnvAliases() map[string][]string {
	aliases := map[string][]string{
		"REPUBLIC_LLM_PROVIDER":                   {"LLM_PROVIDER"},
		"REPUBLIC_LLM_API_KEY":                    {"LLM_API_KEY"},
		"REPUBLIC_LLM_MODEL":                      {"LLM_MODEL"},
		"REPUBLIC_LLM_BASE_URL":                   {"LLM_BASE_URL"},
		"REPUBLIC_LLM_TEMPERATURE":                {"LLM_TEMPERATURE"},
		"REPUBLIC_TRACE_STORAGE_PATH":             {"TRACE_STORAGE_PATH"},
		"REPUBLIC_TRACE_REDIS_URL":                {"REDIS_URL"},
		"REPUBLIC_DEFAULTS_MAX_STEPS":             {"DEFAULT_MAX_STEPS"},
		"REPUBLIC_DEFAULTS_TOOL_TIMEOUT_MS":       {"DEFAULT_TOOL_TIMEOUT_MS"},
		"REPUBLIC_DEFAULTS_COST_BUDGET_USD":       {"DEFAULT_COST_BUDGET_USD"},
		"REPUBLIC_DEFAULTS_SCRATCHPAD_MAX_TOKENS": {"DEFAULT_SCRATCHPAD_MAX_TOKENS"},
		"REPUBLIC_STORE_DSN":                      {"DATABASE_DSN", "MYSQL_DSN"},
		"REPUBLIC_SERVER_ADDR":                    {"REPUBLIC_ADDR"},
		"REPUBLIC_SERVER_CORS_ORIGINS":            {"CORS_ALLOWED_ORIGINS"},
		"REPUBLIC_LOG_LEVEL":                      {"LOG_LEVEL"},
	}

	copy := make(map[string][]string, len(aliases))
	for key, list := range aliases {
		copy[key] = append([]string(nil), list...)
	}
	return copy
}
