// Package tools exposes the gateway's operations as a static table for the
// tool-call transport. Each entry declares its argument schema; arguments are
// validated against it before the handler runs. No reflection.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentgate/internal/auth"
	"agentgate/internal/database"
	"agentgate/internal/deadletter"
	"agentgate/internal/dispatch"
	apperrors "agentgate/internal/errors"
	"agentgate/internal/models"
	"agentgate/internal/provision"
	"agentgate/internal/ratelimit"
)

// Field types accepted by arg schemas.
const (
	TypeString = "string"
	TypeInt    = "integer"
	TypeBool   = "boolean"
	TypeObject = "object"
)

// Field declares one argument of an operation.
type Field struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// Handler runs an operation for an authenticated principal. Args have
// already passed schema validation.
type Handler func(ctx context.Context, principal *models.Principal, args map[string]interface{}) (interface{}, error)

// Operation is one row of the static table.
type Operation struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Args        []Field `json:"args"`
	handler     Handler
}

// Result is the transport-neutral outcome of a call.
type Result struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// Registry holds the operation table.
type Registry struct {
	ops   []Operation
	index map[string]*Operation
}

// NewRegistry builds the table over the wired services.
func NewRegistry(dispatcher *dispatch.Dispatcher, prov *provision.Service,
	drain *deadletter.Service, limiter *ratelimit.Limiter, db *database.Database) *Registry {
	r := &Registry{index: make(map[string]*Operation)}

	r.register(Operation{
		Name:        "send_message",
		Description: "Send an outbound message over sms, whatsapp, email, or line.",
		Args: []Field{
			{Name: "agent_id", Type: TypeString, Required: true},
			{Name: "channel", Type: TypeString, Required: true},
			{Name: "to", Type: TypeString, Required: true},
			{Name: "body", Type: TypeString, Required: true},
			{Name: "subject", Type: TypeString},
			{Name: "html", Type: TypeString},
			{Name: "template_id", Type: TypeString},
			{Name: "template_vars", Type: TypeObject},
			{Name: "media_url", Type: TypeString},
			{Name: "timezone", Type: TypeString},
		},
		handler: func(ctx context.Context, p *models.Principal, args map[string]interface{}) (interface{}, error) {
			var req models.SendRequest
			if err := decodeArgs(args, &req); err != nil {
				return nil, err
			}
			return dispatcher.Send(ctx, p, &req)
		},
	})

	r.register(Operation{
		Name:        "make_call",
		Description: "Start a voice call: a spoken message, or an AI conversation when no message is given.",
		Args: []Field{
			{Name: "agent_id", Type: TypeString, Required: true},
			{Name: "to", Type: TypeString, Required: true},
			{Name: "message", Type: TypeString},
			{Name: "system_prompt", Type: TypeString},
			{Name: "greeting", Type: TypeString},
			{Name: "voice", Type: TypeString},
			{Name: "language", Type: TypeString},
			{Name: "timezone", Type: TypeString},
		},
		handler: func(ctx context.Context, p *models.Principal, args map[string]interface{}) (interface{}, error) {
			var req models.CallRequest
			if err := decodeArgs(args, &req); err != nil {
				return nil, err
			}
			return dispatcher.MakeCall(ctx, p, &req)
		},
	})

	r.register(Operation{
		Name:        "transfer_call",
		Description: "Transfer an in-progress call to a phone number or another agent.",
		Args: []Field{
			{Name: "agent_id", Type: TypeString, Required: true},
			{Name: "call_sid", Type: TypeString, Required: true},
			{Name: "to", Type: TypeString, Required: true},
		},
		handler: func(ctx context.Context, p *models.Principal, args map[string]interface{}) (interface{}, error) {
			var req models.TransferRequest
			if err := decodeArgs(args, &req); err != nil {
				return nil, err
			}
			if err := dispatcher.TransferCall(ctx, p, &req); err != nil {
				return nil, err
			}
			return map[string]bool{"transferred": true}, nil
		},
	})

	r.register(Operation{
		Name:        "get_waiting_messages",
		Description: "Fetch and acknowledge pending dead letters, oldest first.",
		Args: []Field{
			{Name: "agent_id", Type: TypeString, Required: true},
			{Name: "channel", Type: TypeString},
			{Name: "limit", Type: TypeInt},
		},
		handler: func(ctx context.Context, p *models.Principal, args map[string]interface{}) (interface{}, error) {
			letters, err := drain.Fetch(ctx, p, stringArg(args, "agent_id"),
				stringArg(args, "channel"), intArg(args, "limit"))
			if err != nil {
				return nil, err
			}
			if letters == nil {
				letters = []*models.DeadLetter{}
			}
			return map[string]interface{}{"messages": letters, "count": len(letters)}, nil
		},
	})

	r.register(Operation{
		Name:        "provision_agent",
		Description: "Allocate sender identities for a new agent. Admin only.",
		Args: []Field{
			{Name: "agent_id", Type: TypeString, Required: true},
			{Name: "display_name", Type: TypeString, Required: true},
			{Name: "country", Type: TypeString},
			{Name: "callback_url", Type: TypeString},
			{Name: "system_prompt", Type: TypeString},
			{Name: "greeting", Type: TypeString},
			{Name: "capabilities", Type: TypeObject, Required: true},
		},
		handler: func(ctx context.Context, p *models.Principal, args map[string]interface{}) (interface{}, error) {
			var req models.ProvisionRequest
			if err := decodeArgs(args, &req); err != nil {
				return nil, err
			}
			return prov.Provision(ctx, p, &req)
		},
	})

	r.register(Operation{
		Name:        "deprovision_agent",
		Description: "Release an agent's identities and revoke its tokens. Admin only.",
		Args: []Field{
			{Name: "agent_id", Type: TypeString, Required: true},
		},
		handler: func(ctx context.Context, p *models.Principal, args map[string]interface{}) (interface{}, error) {
			if err := prov.Deprovision(ctx, p, stringArg(args, "agent_id")); err != nil {
				return nil, err
			}
			return map[string]bool{"deprovisioned": true}, nil
		},
	})

	r.register(Operation{
		Name:        "get_usage",
		Description: "Summarize an agent's actions and spend over a trailing window.",
		Args: []Field{
			{Name: "agent_id", Type: TypeString, Required: true},
			{Name: "days", Type: TypeInt},
		},
		handler: func(ctx context.Context, p *models.Principal, args map[string]interface{}) (interface{}, error) {
			agentID := stringArg(args, "agent_id")
			if err := auth.RequireAgent(p, agentID); err != nil {
				return nil, err
			}
			if err := requireAgentInOrg(ctx, db, agentID, p.OrgID); err != nil {
				return nil, err
			}
			days := intArg(args, "days")
			if days <= 0 {
				days = 30
			}
			summary, err := db.GetUsageSummary(ctx, agentID, time.Now().AddDate(0, 0, -days))
			if err != nil {
				return nil, apperrors.Internal(err)
			}
			return summary, nil
		},
	})

	r.register(Operation{
		Name:        "get_billing",
		Description: "Report the agent's tier, markup, and effective rate limits.",
		Args: []Field{
			{Name: "agent_id", Type: TypeString, Required: true},
		},
		handler: func(ctx context.Context, p *models.Principal, args map[string]interface{}) (interface{}, error) {
			agentID := stringArg(args, "agent_id")
			if err := auth.RequireAgent(p, agentID); err != nil {
				return nil, err
			}
			if err := requireAgentInOrg(ctx, db, agentID, p.OrgID); err != nil {
				return nil, err
			}
			billing, err := db.GetBillingConfig(ctx, agentID)
			if err != nil {
				return nil, apperrors.Internal(err)
			}
			limits, err := limiter.ResolveLimits(ctx, agentID)
			if err != nil {
				return nil, apperrors.Internal(err)
			}
			return map[string]interface{}{
				"tier":           billing.Tier,
				"markup_percent": billing.MarkupPercent,
				"limits": map[string]interface{}{
					"max_actions_per_minute": limits.MaxActionsPerMinute,
					"max_actions_per_hour":   limits.MaxActionsPerHour,
					"max_actions_per_day":    limits.MaxActionsPerDay,
					"max_spend_per_day":      limits.MaxSpendPerDay,
					"max_spend_per_month":    limits.MaxSpendPerMonth,
				},
			}, nil
		},
	})

	r.register(Operation{
		Name:        "verify_audit_chain",
		Description: "Walk the audit log and verify its hash chain. Admin only.",
		Args:        nil,
		handler: func(ctx context.Context, p *models.Principal, args map[string]interface{}) (interface{}, error) {
			if err := auth.RequireAdmin(p); err != nil {
				return nil, err
			}
			result, err := db.VerifyAuditChain(ctx)
			if err != nil {
				return nil, apperrors.Internal(err)
			}
			return result, nil
		},
	})

	r.register(Operation{
		Name:        "list_pool_numbers",
		Description: "List the org's shared sending numbers. Admin only.",
		Args:        nil,
		handler: func(ctx context.Context, p *models.Principal, args map[string]interface{}) (interface{}, error) {
			if err := auth.RequireAdmin(p); err != nil {
				return nil, err
			}
			entries, err := db.ListNumberPool(ctx, p.OrgID)
			if err != nil {
				return nil, apperrors.Internal(err)
			}
			if entries == nil {
				entries = []*models.NumberPoolEntry{}
			}
			return map[string]interface{}{"numbers": entries}, nil
		},
	})

	return r
}

func (r *Registry) register(op Operation) {
	r.ops = append(r.ops, op)
	r.index[op.Name] = &r.ops[len(r.ops)-1]
}

// Operations lists the table for discovery responses.
func (r *Registry) Operations() []Operation {
	return r.ops
}

// Call validates args and runs the named operation. Failures never panic
// out: every outcome is a Result the transport can frame.
func (r *Registry) Call(ctx context.Context, principal *models.Principal, name string, args map[string]interface{}) Result {
	op, ok := r.index[name]
	if !ok {
		return errorResult(apperrors.NotFound("operation"))
	}
	if err := validateArgs(op.Args, args); err != nil {
		return errorResult(err)
	}
	out, err := op.handler(ctx, principal, args)
	if err != nil {
		return errorResult(err)
	}
	content, err := json.Marshal(out)
	if err != nil {
		return errorResult(apperrors.Internal(err))
	}
	return Result{Content: string(content)}
}

func errorResult(err error) Result {
	e := apperrors.As(err)
	body, _ := json.Marshal(map[string]string{
		"error":   string(e.Kind),
		"message": e.UserMessage(),
	})
	return Result{Content: string(body), IsError: true}
}

func validateArgs(schema []Field, args map[string]interface{}) error {
	for _, f := range schema {
		v, present := args[f.Name]
		if !present || v == nil {
			if f.Required {
				return apperrors.BadInput(f.Name, "required argument missing")
			}
			continue
		}
		if !typeMatches(f.Type, v) {
			return apperrors.BadInput(f.Name, fmt.Sprintf("expected %s", f.Type))
		}
	}
	for name := range args {
		if !schemaHas(schema, name) {
			return apperrors.BadInput(name, "unknown argument")
		}
	}
	return nil
}

func schemaHas(schema []Field, name string) bool {
	for _, f := range schema {
		if f.Name == name {
			return true
		}
	}
	return false
}

// typeMatches accepts the shapes encoding/json produces from untyped
// decoding: numbers arrive as float64.
func typeMatches(fieldType string, v interface{}) bool {
	switch fieldType {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInt:
		f, ok := v.(float64)
		if ok {
			return f == float64(int(f))
		}
		_, ok = v.(int)
		return ok
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeObject:
		_, ok := v.(map[string]interface{})
		return ok
	default:
		return false
	}
}

func decodeArgs(args map[string]interface{}, dst interface{}) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return apperrors.BadInput("args", "arguments are not encodable")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperrors.BadInput("args", "arguments do not match the operation shape")
	}
	return nil
}

func stringArg(args map[string]interface{}, name string) string {
	s, _ := args[name].(string)
	return s
}

func intArg(args map[string]interface{}, name string) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func requireAgentInOrg(ctx context.Context, db *database.Database, agentID, orgID string) error {
	agent, err := db.GetAgent(ctx, agentID, orgID)
	if err != nil {
		return apperrors.Internal(err)
	}
	if agent == nil {
		return apperrors.NotFound("agent")
	}
	return nil
}
