package bot

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/onnwee/kissbot/scopes"
)

// AccountReport pairs an account name with its token analysis.
type AccountReport struct {
	Name     string
	Analysis scopes.TokenAnalysis
}

// Report is the outcome of Gate.Run.
type Report struct {
	StartedAt time.Time
	Registry  scopes.Registry
	Accounts  []AccountReport
	// Channels maps normalised channel names to broadcaster ids.
	Channels map[string]string
	Skipped  []string
	Failed   bool
}

// Enabled reports whether every account has the feature.
func (r *Report) Enabled(feature string) bool {
	if r == nil || r.Failed || len(r.Accounts) == 0 {
		return false
	}
	for _, a := range r.Accounts {
		if !a.Analysis.Enabled(feature) {
			return false
		}
	}
	return true
}

// ChannelNames returns the resolved channels, sorted.
func (r *Report) ChannelNames() []string {
	out := make([]string, 0, len(r.Channels))
	for ch := range r.Channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Write prints each account's scope report followed by channel resolution.
func (r *Report) Write(w io.Writer) error {
	for _, a := range r.Accounts {
		if _, err := fmt.Fprintf(w, "== account %s ==\n", a.Name); err != nil {
			return err
		}
		if err := scopes.WriteReport(w, a.Analysis, r.Registry); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w, "Broadcaster ids"); err != nil {
		return err
	}
	for _, ch := range r.ChannelNames() {
		fmt.Fprintf(w, "  %s: %s\n", ch, r.Channels[ch])
	}
	for _, ch := range r.Skipped {
		fmt.Fprintf(w, "  %s: not found (skipped)\n", ch)
	}
	return nil
}

// AccountStatus is the JSON view of one account.
type AccountStatus struct {
	Name        string   `json:"name"`
	Login       string   `json:"login"`
	UserID      string   `json:"user_id"`
	Valid       bool     `json:"valid"`
	ExpiresIn   int      `json:"expires_in"`
	Scopes      []string `json:"scopes"`
	Available   []string `json:"available"`
	Unavailable []string `json:"unavailable"`
	Warnings    []string `json:"warnings"`
	Error       string   `json:"error,omitempty"`
}

// Status is the JSON view served on /status.
type Status struct {
	StartedAt time.Time         `json:"started_at"`
	Ready     bool              `json:"ready"`
	Accounts  []AccountStatus   `json:"accounts"`
	Features  map[string]bool   `json:"features"`
	Channels  map[string]string `json:"channels"`
	Skipped   []string          `json:"skipped"`
}

// Status builds the JSON view of the report.
func (r *Report) Status() Status {
	st := Status{
		StartedAt: r.StartedAt,
		Ready:     !r.Failed,
		Features:  map[string]bool{},
		Channels:  map[string]string{},
		Skipped:   append([]string{}, r.Skipped...),
	}
	for k, v := range r.Channels {
		st.Channels[k] = v
	}
	for _, req := range r.Registry {
		st.Features[req.Key] = r.Enabled(req.Key)
	}
	for _, a := range r.Accounts {
		as := AccountStatus{
			Name:        a.Name,
			Login:       a.Analysis.Login,
			UserID:      a.Analysis.UserID,
			Valid:       a.Analysis.Valid,
			ExpiresIn:   a.Analysis.ExpiresIn,
			Scopes:      a.Analysis.Scopes,
			Available:   a.Analysis.Available,
			Unavailable: a.Analysis.Unavailable,
			Warnings:    a.Analysis.Warnings,
		}
		if a.Analysis.Err != nil {
			as.Error = a.Analysis.Err.Error()
		}
		st.Accounts = append(st.Accounts, as)
	}
	return st
}
