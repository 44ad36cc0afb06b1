package scopes

import (
	"fmt"
	"io"
	"strings"
)

// WriteReport prints a human readable summary of an analysis: who the token
// belongs to, granted scopes, feature availability and warnings.
func WriteReport(w io.Writer, a TokenAnalysis, reg Registry) error {
	var b strings.Builder
	b.WriteString("OAuth scope report\n")
	if a.Err != nil {
		fmt.Fprintf(&b, "  token: INVALID (%v)\n", a.Err)
	} else {
		fmt.Fprintf(&b, "  user: %s (id %s)\n", a.Login, a.UserID)
		fmt.Fprintf(&b, "  client id: %s\n", a.ClientID)
		fmt.Fprintf(&b, "  expires in: %ds\n", a.ExpiresIn)
		fmt.Fprintf(&b, "  granted scopes (%d):\n", len(a.Scopes))
		for _, s := range a.Scopes {
			fmt.Fprintf(&b, "    - %s\n", s)
		}
	}

	missing := map[string][]string{}
	for _, g := range a.gaps {
		missing[g.Feature] = g.Missing
	}
	b.WriteString("  features:\n")
	for _, r := range reg {
		switch {
		case a.Enabled(r.Key):
			fmt.Fprintf(&b, "    [ok]   %s\n", r.Name)
		case a.Err != nil:
			fmt.Fprintf(&b, "    [--]   %s (%s)\n", r.Name, r.Criticality)
		default:
			fmt.Fprintf(&b, "    [--]   %s (%s) missing: %s\n", r.Name, r.Criticality, strings.Join(missing[r.Name], ", "))
		}
	}
	if len(a.Warnings) > 0 {
		b.WriteString("  warnings:\n")
		for _, wmsg := range a.Warnings {
			fmt.Fprintf(&b, "    ! %s\n", wmsg)
		}
	}
	if a.Valid {
		b.WriteString("  status: ready\n")
	} else {
		b.WriteString("  status: cannot start\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
