package config

import (
	"os"
	"strings"
)

// LoadAPIKeysFromEnv scans env vars matching
// CONVERSATION_SERVICE_API_KEYS_<CLIENT_ID>=<key>[,<key>...] and returns a map
// from key value to clientId. Comma-separated values let one client rotate
// keys without downtime.
func LoadAPIKeysFromEnv() map[string]string {
	const prefix = "CONVERSATION_SERVICE_API_KEYS_"
	result := map[string]string{}
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		eqIdx := strings.IndexByte(env, '=')
		if eqIdx < 0 {
			continue
		}
		clientID := strings.ToLower(strings.TrimSpace(env[len(prefix):eqIdx]))
		if clientID == "" {
			continue
		}
		for _, key := range strings.Split(env[eqIdx+1:], ",") {
			keyValue := strings.TrimSpace(key)
			if keyValue == "" {
				continue
			}
			result[keyValue] = clientID
		}
	}
	return result
}
