package adminops

import (
	"strings"

	"github.com/quaestor-app/quaestor/internal/pkg/env"
)

// PrincipalResolver supplies the set of administrator principals. The default
// reads a comma-separated env list; deployments with an external role store
// can swap in their own resolver without touching override logic.
type PrincipalResolver interface {
	AdminEmails() []string
}

type envResolver struct{}

func (envResolver) AdminEmails() []string {
	raw := env.GetEnv("ADMIN_EMAILS", "")
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// Allowlist is the capability check for administrative access.
type Allowlist struct {
	emails map[string]struct{}
}

// NewAllowlist builds an allowlist from explicit emails.
func NewAllowlist(emails []string) Allowlist {
	set := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			set[e] = struct{}{}
		}
	}
	return Allowlist{emails: set}
}

// NewAllowlistFromResolver builds an allowlist from a principal resolver.
func NewAllowlistFromResolver(r PrincipalResolver) Allowlist {
	return NewAllowlist(r.AdminEmails())
}

// NewAllowlistFromEnv builds an allowlist from the ADMIN_EMAILS variable.
func NewAllowlistFromEnv() Allowlist {
	return NewAllowlistFromResolver(envResolver{})
}

// Contains reports whether email belongs to a listed administrator.
func (a Allowlist) Contains(email string) bool {
	_, ok := a.emails[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

// Empty reports whether no administrators are configured. An empty allowlist
// fails closed: nobody passes the capability check.
func (a Allowlist) Empty() bool {
	return len(a.emails) == 0
}
