// Package mailcheck validates candidate email addresses through a staged
// pipeline before any state is written for them: syntax, disposable-domain
// rejection, and an optional MX lookup. The first failing stage wins.
package mailcheck

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/rs/zerolog"

	"github.com/glaciergate/glaciergate/internal/metrics"
)

//go:embed disposable_domains.txt
var disposableRaw string

// stage labels for metrics
const (
	stageSyntax     = "1_syntax"
	stageDisposable = "2_disposable"
	stageMX         = "3_mx"
)

// Resolver is the DNS surface the MX stage needs. *net.Resolver satisfies it.
type Resolver interface {
	LookupMX(ctx context.Context, domain string) ([]*net.MX, error)
}

// Result is the outcome of one validation run. When OK is false, Stage and
// Reason say which stage rejected the address and why.
type Result struct {
	OK         bool
	Normalized string // lowercased, whitespace-trimmed address; set on success
	Stage      string
	Reason     string
}

// Config holds checker parameters.
type Config struct {
	// CheckMX enables the DNS MX stage. Off by default so air-gapped
	// deployments and tests need no resolver.
	CheckMX bool

	// ExtraDisposable extends the embedded disposable-domain list.
	ExtraDisposable []string

	// Resolver overrides the DNS resolver used by the MX stage.
	// Defaults to net.DefaultResolver.
	Resolver Resolver
}

// Checker validates email addresses. Safe for concurrent use.
type Checker struct {
	checkMX    bool
	disposable map[string]struct{}
	resolver   Resolver
	log        zerolog.Logger
}

// New builds a Checker from cfg. The embedded disposable-domain list is
// always loaded; cfg.ExtraDisposable adds to it.
func New(cfg Config, log zerolog.Logger) *Checker {
	disposable := make(map[string]struct{}, 64+len(cfg.ExtraDisposable))
	for _, line := range strings.Split(disposableRaw, "\n") {
		d := strings.TrimSpace(line)
		if d != "" {
			disposable[strings.ToLower(d)] = struct{}{}
		}
	}
	for _, d := range cfg.ExtraDisposable {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			disposable[d] = struct{}{}
		}
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Checker{
		checkMX:    cfg.CheckMX,
		disposable: disposable,
		resolver:   resolver,
		log:        log,
	}
}

// Check runs raw through the pipeline. A bad address is a rejection
// Result, not an error; the error return is reserved for resolver
// infrastructure failures during the MX stage. The ctx bounds the MX
// lookup only.
func (c *Checker) Check(ctx context.Context, raw string) (Result, error) {
	candidate := strings.ToLower(strings.TrimSpace(raw))

	// Stage 1: syntax. ParseAddress accepts display-name forms
	// ("Bob <bob@x>"), which are not addresses here, so require the
	// parsed address to round-trip to the candidate itself.
	addr, err := mail.ParseAddress(candidate)
	if err != nil || addr.Address != candidate || !govalidator.IsEmail(candidate) {
		metrics.ValidationRejected.WithLabelValues(stageSyntax, "malformed").Inc()
		c.log.Debug().Msg("rejected: malformed address")
		return Result{Stage: stageSyntax, Reason: "malformed"}, nil
	}
	domain := candidate[strings.LastIndexByte(candidate, '@')+1:]

	// Stage 2: disposable domain
	if _, found := c.disposable[domain]; found {
		metrics.ValidationRejected.WithLabelValues(stageDisposable, "disposable_domain").Inc()
		c.log.Debug().Str("domain", domain).Msg("rejected: disposable domain")
		return Result{Stage: stageDisposable, Reason: "disposable_domain"}, nil
	}

	// Stage 3: MX lookup. A domain that resolves to nothing is a
	// rejection; a resolver that cannot answer at all is an error.
	if c.checkMX {
		records, err := c.resolver.LookupMX(ctx, domain)
		if err != nil {
			var dnsErr *net.DNSError
			if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
				metrics.ValidationRejected.WithLabelValues(stageMX, "no_mx").Inc()
				c.log.Debug().Str("domain", domain).Msg("rejected: no MX records")
				return Result{Stage: stageMX, Reason: "no_mx"}, nil
			}
			return Result{}, fmt.Errorf("mx lookup for %s: %w", domain, err)
		}
		if len(records) == 0 {
			metrics.ValidationRejected.WithLabelValues(stageMX, "no_mx").Inc()
			c.log.Debug().Str("domain", domain).Msg("rejected: no MX records")
			return Result{Stage: stageMX, Reason: "no_mx"}, nil
		}
	}

	return Result{OK: true, Normalized: candidate}, nil
}
