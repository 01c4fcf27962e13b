package config

import "os"

// ExpandEnv expands ${VAR} and $VAR references in the YAML overlay before
// it is parsed, so an operator can write secrets like ${LLM_API_KEY} or
// endpoints like ${DB_HOST}:${DB_PORT} into langhookd.yaml without baking
// values into the file. Missing variables expand to the empty string;
// validation rejects required fields that end up empty.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
