package billing

import (
	"fmt"
	"strconv"
	"strings"
)

// Correlation tokens tie an externally settled payment back to a user
// and tier with no webhook in the loop. The wire format is load-bearing:
//
//	fresh purchase:  {user_id}_{tier_id}
//	extension:       {user_id}_extend_{tier_id}
//
// Tier ids may themselves contain the separator (sub_basic), so decoding
// strips the numeric user id and the optional extend marker, then
// rejoins whatever remains as the tier id.
const (
	tokenSeparator = "_"
	extendMarker   = "extend"
)

// BuildToken encodes the correlation token for a payment attempt.
func BuildToken(userID int64, tierID string, isExtension bool) string {
	if isExtension {
		return strings.Join([]string{strconv.FormatInt(userID, 10), extendMarker, tierID}, tokenSeparator)
	}
	return strings.Join([]string{strconv.FormatInt(userID, 10), tierID}, tokenSeparator)
}

// DecodeToken recovers (userID, tierID, isExtension) from a token
// produced by BuildToken.
func DecodeToken(token string) (int64, string, bool, error) {
	parts := strings.Split(token, tokenSeparator)
	if len(parts) < 2 {
		return 0, "", false, fmt.Errorf("malformed correlation token %q", token)
	}

	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", false, fmt.Errorf("malformed correlation token %q: %w", token, err)
	}

	rest := parts[1:]
	isExtension := false
	if rest[0] == extendMarker && len(rest) > 1 {
		isExtension = true
		rest = rest[1:]
	}

	tierID := strings.Join(rest, tokenSeparator)
	if tierID == "" {
		return 0, "", false, fmt.Errorf("malformed correlation token %q", token)
	}
	return userID, tierID, isExtension, nil
}
