package broker

import (
	"fmt"
	"strings"
)

// WithVideoBitrateCap returns an SDP transform that inserts a b=AS bandwidth
// line into every video media section of an outgoing offer, raising the
// negotiated video ceiling. An existing b=AS line in the section is replaced.
func WithVideoBitrateCap(kbps int) func(string) string {
	return func(sdp string) string {
		if kbps <= 0 {
			return sdp
		}
		sep := "\r\n"
		if !strings.Contains(sdp, sep) {
			sep = "\n"
		}
		lines := strings.Split(sdp, sep)
		out := make([]string, 0, len(lines)+2)

		inVideo := false
		pending := false
		for _, line := range lines {
			if strings.HasPrefix(line, "m=") {
				if pending {
					// Video section had no c= line; cap before the next section.
					out = append(out, fmt.Sprintf("b=AS:%d", kbps))
					pending = false
				}
				inVideo = strings.HasPrefix(line, "m=video")
				if inVideo {
					pending = true
				}
			}
			if inVideo && strings.HasPrefix(line, "b=AS:") {
				continue
			}
			out = append(out, line)
			if pending && strings.HasPrefix(line, "c=") {
				out = append(out, fmt.Sprintf("b=AS:%d", kbps))
				pending = false
			}
		}
		if pending {
			out = append(out, fmt.Sprintf("b=AS:%d", kbps))
		}
		return strings.Join(out, sep)
	}
}
