package layout

import "strconv"

// maxKeyLen bounds sanitized tenant keys and manifest ids.
const maxKeyLen = 128

// SanitizeKey strips a string to [A-Za-z0-9_-] and truncates to 128 chars.
func SanitizeKey(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s) && len(out) < maxKeyLen; i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z',
			c >= 'A' && c <= 'Z',
			c >= '0' && c <= '9',
			c == '_', c == '-':
			out = append(out, c)
		}
	}
	return string(out)
}

// TenantKey derives the on-disk tenant key from the first available of:
// the session's device uuid, the user uuid, the stringified integer id.
func TenantKey(deviceUUID, userUUID string, userID uint) string {
	if key := SanitizeKey(deviceUUID); key != "" {
		return key
	}
	if key := SanitizeKey(userUUID); key != "" {
		return key
	}
	return strconv.FormatUint(uint64(userID), 10)
}

// CandidateKeys returns every sanitized key form a tenant's data may live
// under: each device uuid, the user uuid, and the integer id. The sweeper
// deletes all of them.
func CandidateKeys(deviceUUIDs []string, userUUID string, userID uint) []string {
	seen := make(map[string]struct{})
	var keys []string
	add := func(k string) {
		if k == "" {
			return
		}
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for _, d := range deviceUUIDs {
		add(SanitizeKey(d))
	}
	add(SanitizeKey(userUUID))
	add(strconv.FormatUint(uint64(userID), 10))
	return keys
}
