// Package decision picks the next onboarding action from an intent and a memory snapshot.
package decision

import (
	"github.com/antoniostano/onboarding/internal/intent"
	"github.com/antoniostano/onboarding/internal/session"
)

// Kind enumerates the actions the agent can take.
type Kind string

const (
	PromptUpload  Kind = "prompt_user_to_upload_csv"
	ValidateCSV   Kind = "validate_csv"
	RouteToModule Kind = "route_to_module"
	Fallback      Kind = "fallback_to_template"
)

// Action is a decided next step. Target is set only for RouteToModule.
type Action struct {
	Kind   Kind   `json:"kind"`
	Target string `json:"target,omitempty"`
}

func (a Action) String() string {
	if a.Kind == RouteToModule {
		return string(a.Kind) + "(" + a.Target + ")"
	}
	return string(a.Kind)
}

const DefaultRoute = "/dashboard"

var routes = map[string]string{
	string(intent.ImportTenants): "/dashboard/tenants/import",
	string(intent.SetupPayments): "/dashboard/payments/setup",
}

// ResolveRoute maps a module target to its dashboard path.
func ResolveRoute(target string) string {
	if p, ok := routes[target]; ok {
		return p
	}
	return DefaultRoute
}

type rule struct {
	intent    intent.Intent
	uploaded  *bool
	validated *bool
	action    Action
}

var (
	yes = true
	no  = false
)

// table is evaluated top-down; the first matching rule wins. A nil condition matches anything.
var table = []rule{
	{intent: intent.ImportTenants, uploaded: &no, action: Action{Kind: PromptUpload}},
	{intent: intent.ImportTenants, uploaded: &yes, validated: &no, action: Action{Kind: ValidateCSV}},
	{intent: intent.ImportTenants, uploaded: &yes, validated: &yes, action: Action{Kind: RouteToModule, Target: string(intent.ImportTenants)}},
	{intent: intent.SetupPayments, action: Action{Kind: RouteToModule, Target: string(intent.SetupPayments)}},
	{intent: intent.Unknown, action: Action{Kind: Fallback}},
}

// Decide is a pure function of its inputs.
func Decide(in intent.Intent, mem session.Memory) Action {
	for _, r := range table {
		if r.matches(in, mem) {
			return r.action
		}
	}
	return Action{Kind: Fallback}
}

func (r rule) matches(in intent.Intent, mem session.Memory) bool {
	if r.intent != in {
		return false
	}
	if r.uploaded != nil && *r.uploaded != mem.CSVUploaded {
		return false
	}
	if r.validated != nil && *r.validated != mem.CSVValidated {
		return false
	}
	return true
}
