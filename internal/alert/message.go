package alert

import (
	"fmt"
	"strings"
)

func formatPeerList(peers []string) string {
	quoted := make([]string, len(peers))
	for i, p := range peers {
		quoted[i] = "'" + p + "'"
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

// hijackMessage renders the verbose hijack alert text specified for
// the hijack sink.
func hijackMessage(expPrefix string, expAS uint32, altPrefix string, altAS uint32, description string, peers []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Possible Hijack, it should be %s AS%d", expPrefix, expAS)
	if description != "" {
		fmt.Fprintf(&b, " (%s) ", description)
	} else {
		b.WriteString(" ")
	}
	fmt.Fprintf(&b, "now announced %s AS%d seen by %d peers %s", altPrefix, altAS, len(peers), formatPeerList(peers))
	return b.String()
}

// hijackPlainMessage is the terse hijack variant with no peer list,
// kept for sinks that do not want the evidence breakdown inline.
func hijackPlainMessage(expPrefix string, expAS uint32, altPrefix string, altAS uint32, description string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Possible Hijack, it should be %s AS%d", expPrefix, expAS)
	if description != "" {
		fmt.Fprintf(&b, " (%s) ", description)
	} else {
		b.WriteString(" ")
	}
	fmt.Fprintf(&b, "now announced %s AS%d", altPrefix, altAS)
	return b.String()
}

// differenceMessage renders the exact text for a more-specific
// difference, fired immediately with no aggregation.
func differenceMessage(expectedPrefix, alteredPrefix string) string {
	return fmt.Sprintf("The prefix %s it is not configured to be announced with the more specific %s", expectedPrefix, alteredPrefix)
}

// lowVisibilityMessage renders the verbose low-visibility alert text.
func lowVisibilityMessage(prefix string, peers []string) string {
	return fmt.Sprintf("The prefix %s is not visible anymore from %d peers %s", prefix, len(peers), formatPeerList(peers))
}

// lowVisibilityPlainMessage is the terse low-visibility variant.
func lowVisibilityPlainMessage(prefix string, count int) string {
	return fmt.Sprintf("The prefix %s is not visible anymore from %d peers", prefix, count)
}

const heartbeatMessage = "Still monitoring..."
