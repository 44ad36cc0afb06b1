package main

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/kissbot/scopes"
	"github.com/onnwee/kissbot/twitchapi"
)

func TestPrintURL(t *testing.T) {
	oa := twitchapi.NewOAuth("cid", "secret", "http://localhost:3000", scopes.DefaultRegistry().AllScopes())
	var buf bytes.Buffer
	if err := printURL(&buf, oa, "fixed-state"); err != nil {
		t.Fatalf("printURL() error = %v", err)
	}
	lines := strings.Split(buf.String(), "\n")
	u, err := url.Parse(lines[1])
	if err != nil {
		t.Fatalf("parse %q: %v", lines[1], err)
	}
	q := u.Query()
	if q.Get("state") != "fixed-state" || q.Get("client_id") != "cid" || q.Get("force_verify") != "true" {
		t.Errorf("query = %v", q)
	}
	got := strings.Fields(q.Get("scope"))
	if len(got) != len(scopes.DefaultRegistry().AllScopes()) {
		t.Errorf("scope = %v", got)
	}
}

type fakeExchanger struct{ err error }

func (f fakeExchanger) ExchangeAuthCode(context.Context, string) (*twitchapi.Grant, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &twitchapi.Grant{AccessToken: "a", RefreshToken: "r", Expiry: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), Scopes: []string{"chat:read"}}, nil
}

type recordSaver struct{ account, access string }

func (r *recordSaver) Save(_ context.Context, account, access, _ string, _ time.Time, _ []string) error {
	r.account, r.access = account, access
	return nil
}

func TestExchange(t *testing.T) {
	var buf bytes.Buffer
	s := &recordSaver{}
	if err := exchange(context.Background(), &buf, fakeExchanger{}, s, "broadcaster", "code"); err != nil {
		t.Fatalf("exchange() error = %v", err)
	}
	if s.account != "broadcaster" || s.access != "a" {
		t.Errorf("saved %+v", s)
	}
	if !strings.Contains(buf.String(), "stored tokens for broadcaster") {
		t.Errorf("output = %q", buf.String())
	}

	boom := errors.New("bad code")
	if err := exchange(context.Background(), &buf, fakeExchanger{err: boom}, &recordSaver{}, "bot", "x"); !errors.Is(err, boom) {
		t.Errorf("exchange() error = %v", err)
	}
}
