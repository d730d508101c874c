package mailcheck

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/rs/zerolog"
)

type fakeResolver struct {
	records map[string][]*net.MX
	err     error
}

func (f *fakeResolver) LookupMX(_ context.Context, domain string) ([]*net.MX, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records[domain], nil
}

func mustCheck(t *testing.T, c *Checker, raw string) Result {
	t.Helper()
	res, err := c.Check(context.Background(), raw)
	if err != nil {
		t.Fatalf("Check(%q): %v", raw, err)
	}
	return res
}

func TestCheckAcceptsAndNormalizes(t *testing.T) {
	c := New(Config{}, zerolog.Nop())

	res := mustCheck(t, c, "  Alice@Example.COM ")
	if !res.OK {
		t.Fatalf("expected OK, got %+v", res)
	}
	if res.Normalized != "alice@example.com" {
		t.Fatalf("normalized = %q, want alice@example.com", res.Normalized)
	}
}

func TestCheckRejectsMalformed(t *testing.T) {
	c := New(Config{}, zerolog.Nop())

	for _, raw := range []string{
		"",
		"not-an-address",
		"@example.com",
		"a@",
		"Bob <bob@example.com>",
		"two@@example.com",
	} {
		res := mustCheck(t, c, raw)
		if res.OK {
			t.Errorf("Check(%q): expected rejection", raw)
			continue
		}
		if res.Stage != stageSyntax {
			t.Errorf("Check(%q): stage = %q, want %q", raw, res.Stage, stageSyntax)
		}
	}
}

func TestCheckRejectsDisposableDomain(t *testing.T) {
	c := New(Config{}, zerolog.Nop())

	res := mustCheck(t, c, "someone@mailinator.com")
	if res.OK || res.Stage != stageDisposable {
		t.Fatalf("expected disposable rejection, got %+v", res)
	}
}

func TestCheckExtraDisposable(t *testing.T) {
	c := New(Config{ExtraDisposable: []string{" Spammy.Example "}}, zerolog.Nop())

	res := mustCheck(t, c, "x@spammy.example")
	if res.OK || res.Stage != stageDisposable {
		t.Fatalf("expected disposable rejection for extra domain, got %+v", res)
	}
}

func TestCheckMXStage(t *testing.T) {
	resolver := &fakeResolver{records: map[string][]*net.MX{
		"good.example": {{Host: "mx.good.example", Pref: 10}},
	}}
	c := New(Config{CheckMX: true, Resolver: resolver}, zerolog.Nop())

	if res := mustCheck(t, c, "a@good.example"); !res.OK {
		t.Fatalf("expected OK for domain with MX, got %+v", res)
	}
	if res := mustCheck(t, c, "a@nomx.example"); res.OK || res.Stage != stageMX {
		t.Fatalf("expected MX rejection, got %+v", res)
	}
}

func TestCheckMXDomainNotFoundRejects(t *testing.T) {
	notFound := &net.DNSError{Err: "no such host", Name: "gone.example", IsNotFound: true}
	c := New(Config{CheckMX: true, Resolver: &fakeResolver{err: notFound}}, zerolog.Nop())

	res := mustCheck(t, c, "a@gone.example")
	if res.OK || res.Stage != stageMX || res.Reason != "no_mx" {
		t.Fatalf("expected no_mx rejection, got %+v", res)
	}
}

func TestCheckMXResolverFailureIsError(t *testing.T) {
	down := &net.DNSError{Err: "server misbehaving", Name: "flaky.example", IsTemporary: true}
	c := New(Config{CheckMX: true, Resolver: &fakeResolver{err: down}}, zerolog.Nop())

	_, err := c.Check(context.Background(), "a@flaky.example")
	if err == nil {
		t.Fatal("expected error for resolver failure")
	}
	var dnsErr *net.DNSError
	if !errors.As(err, &dnsErr) {
		t.Fatalf("expected wrapped DNS error, got %v", err)
	}
}

func TestCheckMXDisabledSkipsResolver(t *testing.T) {
	// A resolver that always errors must never be consulted when the
	// MX stage is off.
	c := New(Config{CheckMX: false, Resolver: &fakeResolver{err: errors.New("must not be called")}}, zerolog.Nop())

	if res := mustCheck(t, c, "a@example.org"); !res.OK {
		t.Fatalf("expected OK with MX stage disabled, got %+v", res)
	}
}
