package sessions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Session records live under a fixed prefix in the store. The id is encoded
// as fixed-width hex so lexicographic key order equals numeric id order,
// which is what makes prefix scans come back in creation order.
const sessionKeyPrefix = "sess:"

func sessionKey(id int64) string {
	return fmt.Sprintf("%s%016x", sessionKeyPrefix, uint64(id))
}

func sessionPrefix() string { return sessionKeyPrefix }

// parseSessionKey recovers the session id from a store key. Only used for
// diagnostics; the id is authoritative inside the record itself.
func parseSessionKey(key string) (int64, error) {
	hexPart, ok := strings.CutPrefix(key, sessionKeyPrefix)
	if !ok || len(hexPart) != 16 {
		return 0, fmt.Errorf("malformed session key %q", key)
	}
	id, err := strconv.ParseUint(hexPart, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed session key %q: %w", key, err)
	}
	return int64(id), nil
}

func encodeSession(s *Session) ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session %d: %w", s.SessionID, err)
	}
	return raw, nil
}

func decodeSession(raw []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return &s, nil
}
