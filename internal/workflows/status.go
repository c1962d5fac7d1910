package workflows

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PolarWolf314/muna/internal/identity"

	"gopkg.in/yaml.v3"
)

// Output formats for machine-readable command output.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// RenderState formats an identity state for display.
func RenderState(st identity.State, format string) (string, error) {
	switch format {
	case FormatJSON:
		out, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return "", err
		}
		return string(out) + "\n", nil
	case FormatYAML:
		out, err := yaml.Marshal(st)
		if err != nil {
			return "", err
		}
		return string(out), nil
	case FormatText, "":
		return renderStateText(st), nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

func renderStateText(st identity.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User:        %s\n", st.UserID)
	fmt.Fprintf(&b, "Status:      %s\n", st.Status)
	if st.Status == identity.StatusUnregistered {
		return b.String()
	}
	fmt.Fprintf(&b, "Suite:       %s\n", st.Suite)
	fmt.Fprintf(&b, "Version:     %d\n", st.Version)
	fmt.Fprintf(&b, "Fingerprint: %s\n", st.Fingerprint)
	fmt.Fprintf(&b, "Published:   %d\n", st.Published)
	if len(st.Retained) > 0 {
		versions := make([]string, len(st.Retained))
		for i, v := range st.Retained {
			versions[i] = fmt.Sprint(v)
		}
		fmt.Fprintf(&b, "Retained:    %s\n", strings.Join(versions, ", "))
	}
	return b.String()
}
