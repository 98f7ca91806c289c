package reflector

import (
	"fmt"
	"strconv"
	"strings"
)

// broadcastName extracts the reflector-session name from a request URL
// path, stripping one trailing ".sdp" suffix and rejecting non-.sdp URLs
// unless allowNonSDP is set (spec §6 allow_non_sdp_urls).
func broadcastName(path string, allowNonSDP bool) (string, error) {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "", fmt.Errorf("empty path")
	}

	if strings.HasSuffix(path, ".sdp") {
		return strings.TrimSuffix(path, ".sdp"), nil
	}
	if !allowNonSDP {
		return "", fmt.Errorf("url %q must end in .sdp", path)
	}
	return path, nil
}

// splitTrackID separates a SETUP URL's trailing "/trackID=N" control
// suffix from the broadcast name beneath it.
func splitTrackID(path string) (name string, trackID int, ok bool) {
	const marker = "/trackID="
	idx := strings.LastIndex(path, marker)
	if idx < 0 {
		return path, 0, false
	}
	id, err := strconv.Atoi(path[idx+len(marker):])
	if err != nil {
		return path, 0, false
	}
	return path[:idx], id, true
}
