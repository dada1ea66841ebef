// Package ratelimit implements the distributed per-route-class rate limiter.
//
// Counting happens only in the shared coordination store, as one atomic
// consume per request, so concurrent requests from one caller spread across
// several instances can never exceed the class budget. There is no
// in-process counting.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-cert-backend/internal/coord"
	"github.com/tbourn/go-cert-backend/internal/domain"
)

const component = "ratelimit"

// Class groups routes that share a budget.
type Class string

const (
	ClassDefault            Class = "default"
	ClassAuth               Class = "auth"
	ClassVerification       Class = "verification"
	ClassUserManagement     Class = "user_management"
	ClassTemplateManagement Class = "template_management"
)

// Budget allows Points requests per Window.
type Budget struct {
	Points int
	Window time.Duration
}

// Budgets maps each class to its allowance. Missing classes use ClassDefault.
type Budgets map[Class]Budget

// DefaultBudgets are used when no configuration overrides them.
func DefaultBudgets() Budgets {
	return Budgets{
		ClassDefault:            {Points: 100, Window: time.Minute},
		ClassAuth:               {Points: 10, Window: time.Minute},
		ClassVerification:       {Points: 300, Window: time.Minute},
		ClassUserManagement:     {Points: 30, Window: time.Minute},
		ClassTemplateManagement: {Points: 30, Window: time.Minute},
	}
}

// Identity is who is being limited: the caller IP plus the authenticated
// subject, or "anonymous".
type Identity struct {
	IP      string
	Subject string
}

// Key is the bucket key for this identity in class.
func (id Identity) Key(class Class) string {
	subject := id.Subject
	if subject == "" {
		subject = domain.AnonymousSubject
	}
	ip := id.IP
	if ip == "" {
		ip = "unknown"
	}
	// ':' separates key segments; IPv6 colons are kept readable by swapping them.
	ip = strings.ReplaceAll(ip, ":", "_")
	return "rl:" + string(class) + ":" + ip + ":" + subject
}

// Result is one limiter decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Degraded is set when the store was unavailable and the request was let
	// through without counting.
	Degraded bool
}

// RetryAfter is the number of whole seconds until the window resets,
// rounded up and never less than one.
func (r Result) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(r.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

var decisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ratelimit_decisions_total",
		Help: "Rate limiter decisions by route class and outcome.",
	},
	[]string{"class", "decision"},
)

func init() {
	prometheus.MustRegister(decisionsTotal)
}

// Limiter consumes points from per-identity buckets in the shared store.
type Limiter struct {
	store   coord.Client
	budgets Budgets
	policy  coord.FailurePolicy
}

// New returns a limiter that fails open when the store is unavailable.
func New(store coord.Client, budgets Budgets) *Limiter {
	merged := Budgets{ClassDefault: DefaultBudgets()[ClassDefault]}
	if budgets == nil {
		budgets = DefaultBudgets()
	}
	for class, b := range budgets {
		merged[class] = b
	}
	return &Limiter{store: store, budgets: merged, policy: coord.FailOpen}
}

// Policy reports the limiter's failure policy.
func (l *Limiter) Policy() coord.FailurePolicy { return l.policy }

// Budget returns the allowance for class.
func (l *Limiter) Budget(class Class) Budget {
	if b, ok := l.budgets[class]; ok {
		return b
	}
	return l.budgets[ClassDefault]
}

// Consume takes one point for id in class. With the store unavailable the
// request is allowed and marked Degraded; other errors are returned.
func (l *Limiter) Consume(ctx context.Context, id Identity, class Class) (Result, error) {
	b := l.Budget(class)
	res, err := l.store.Consume(ctx, id.Key(class), b.Points, b.Window)
	if err != nil {
		if errors.Is(err, coord.ErrUnavailable) && l.policy == coord.FailOpen {
			coord.ReportDegraded(component, l.policy, err)
			decisionsTotal.WithLabelValues(string(class), "degraded").Inc()
			return Result{Allowed: true, Limit: b.Points, Remaining: b.Points, Degraded: true}, nil
		}
		return Result{}, err
	}
	decision := "allowed"
	if !res.Allowed {
		decision = "rejected"
	}
	decisionsTotal.WithLabelValues(string(class), decision).Inc()
	return Result{
		Allowed:   res.Allowed,
		Limit:     b.Points,
		Remaining: res.Remaining,
		ResetAt:   res.ResetAt,
	}, nil
}
