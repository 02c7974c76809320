// Command sentinelctl управляет шлюзом через админский API: рубильники,
// аудит, домены и каталог инструментов.
package main

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/alecthomas/kong"
)

// CLI — корневые флаги и команды.
type CLI struct {
	Addr     string        `default:"http://localhost:8080" env:"SENTINEL_ADDR" help:"Gateway base URL"`
	Operator string        `default:"operator" env:"SENTINEL_OPERATOR" help:"Operator name recorded in the audit log"`
	Token    string        `env:"SENTINEL_TOKEN" help:"Bearer token for the admin API"`
	Timeout  time.Duration `default:"10s" help:"Request timeout"`

	Killswitch KillSwitchCmd `cmd:"" help:"Manage kill switches"`
	Audit      AuditCmd      `cmd:"" help:"Query the audit log"`
	Domains    DomainsCmd    `cmd:"" help:"Inspect registered domain executors"`
	Tools      ToolsCmd      `cmd:"" help:"Inspect the tool catalog"`
	Anomalies  AnomaliesCmd  `cmd:"" help:"Inspect detected anomalies"`
	Policies   PoliciesCmd   `cmd:"" help:"Inspect and reload tool permissions"`
}

type KillSwitchCmd struct {
	Activate   KillSwitchActivateCmd   `cmd:"" help:"Suspend a target"`
	Deactivate KillSwitchDeactivateCmd `cmd:"" help:"Resume a target"`
	Status     KillSwitchStatusCmd     `cmd:"" help:"Show active kill switches"`
}

type KillSwitchActivateCmd struct {
	Level  string `arg:"" enum:"global,domain,agent" help:"Kill switch level"`
	Target string `arg:"" optional:"" help:"Domain or agent id (ignored for global)"`
	Reason string `short:"r" help:"Reason recorded with the kill switch"`
}

func (c *KillSwitchActivateCmd) Run(cl *Client) error {
	return cl.killSwitch(c.Level, c.Target, "activate", map[string]string{"reason": c.Reason})
}

type KillSwitchDeactivateCmd struct {
	Level  string `arg:"" enum:"global,domain,agent" help:"Kill switch level"`
	Target string `arg:"" optional:"" help:"Domain or agent id (ignored for global)"`
}

func (c *KillSwitchDeactivateCmd) Run(cl *Client) error {
	return cl.killSwitch(c.Level, c.Target, "deactivate", map[string]string{})
}

func (cl *Client) killSwitch(level, target, action string, body map[string]string) error {
	if target == "" {
		target = "global"
	}
	raw, err := cl.data(context.Background(), http.MethodPost,
		"/v1/killswitch/"+url.PathEscape(level)+"/"+url.PathEscape(target)+"/"+action, nil, body)
	if err != nil {
		return err
	}
	return cl.print(raw)
}

type KillSwitchStatusCmd struct{}

func (c *KillSwitchStatusCmd) Run(cl *Client) error {
	raw, err := cl.data(context.Background(), http.MethodGet, "/v1/killswitch", nil, nil)
	if err != nil {
		return err
	}
	return cl.print(raw)
}

type AuditCmd struct {
	Query AuditQueryCmd `cmd:"" help:"List audit events"`
	Stats AuditStatsCmd `cmd:"" help:"Aggregate audit statistics"`
}

// AuditFilter — общие флаги фильтра аудита.
type AuditFilter struct {
	Tenant   string `help:"Tenant"`
	Tool     string `help:"Tool name"`
	Type     string `help:"Event type (authorization, execution, killswitch, policy_change)"`
	Agent    string `help:"Agent id"`
	Domain   string `help:"Domain name"`
	Decision string `help:"Decision (allowed, denied, suspended)"`
	Start    string `help:"Start of the time range (RFC3339)"`
	End      string `help:"End of the time range (RFC3339)"`
}

func (f AuditFilter) values() url.Values {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("tenant", f.Tenant)
	set("tool", f.Tool)
	set("type", f.Type)
	set("agent_id", f.Agent)
	set("domain", f.Domain)
	set("decision", f.Decision)
	set("start", f.Start)
	set("end", f.End)
	return q
}

type AuditQueryCmd struct {
	Filter AuditFilter `embed:""`
	Limit  int         `default:"100" help:"Maximum number of events"`
}

func (c *AuditQueryCmd) Run(cl *Client) error {
	q := c.Filter.values()
	q.Set("limit", strconv.Itoa(c.Limit))
	raw, err := cl.data(context.Background(), http.MethodGet, "/v1/audit", q, nil)
	if err != nil {
		return err
	}
	return cl.print(raw)
}

type AuditStatsCmd struct {
	Filter AuditFilter `embed:""`
}

func (c *AuditStatsCmd) Run(cl *Client) error {
	raw, err := cl.data(context.Background(), http.MethodGet, "/v1/audit/stats", c.Filter.values(), nil)
	if err != nil {
		return err
	}
	return cl.print(raw)
}

type DomainsCmd struct {
	List      DomainsListCmd      `cmd:"" help:"List domain executors"`
	Authorize DomainsAuthorizeCmd `cmd:"" help:"Dry-run domain authorization for a task"`
}

type DomainsListCmd struct{}

func (c *DomainsListCmd) Run(cl *Client) error {
	raw, err := cl.data(context.Background(), http.MethodGet, "/v1/domains", nil, nil)
	if err != nil {
		return err
	}
	return cl.print(raw)
}

type DomainsAuthorizeCmd struct {
	Domain string `arg:"" help:"Domain id"`
	Task   string `arg:"" help:"Task type (EXECUTE, ANALYZE, ESCALATE)"`
	Scope  string `arg:"" help:"Scope presented for the task"`
	Action string `help:"Domain action to check the scope against"`
}

func (c *DomainsAuthorizeCmd) Run(cl *Client) error {
	raw, err := cl.data(context.Background(), http.MethodPost, "/v1/domains/"+url.PathEscape(c.Domain)+"/authorize", nil,
		map[string]string{"task": c.Task, "scope": c.Scope, "action": c.Action})
	if err != nil {
		return err
	}
	return cl.print(raw)
}

type ToolsCmd struct {
	List ToolsListCmd `cmd:"" help:"List registered tools"`
}

type ToolsListCmd struct{}

func (c *ToolsListCmd) Run(cl *Client) error {
	raw, err := cl.call(context.Background(), http.MethodGet, "/tools", nil, nil)
	if err != nil {
		return err
	}
	return cl.print(raw)
}

type AnomaliesCmd struct {
	List  AnomaliesListCmd  `cmd:"" help:"List anomalies, newest first"`
	Stats AnomaliesStatsCmd `cmd:"" help:"Anomaly counters"`
}

type AnomaliesListCmd struct {
	Agent    string `help:"Agent id"`
	Severity string `help:"Severity (low, medium, high, critical)"`
	Limit    int    `default:"50" help:"Maximum number of anomalies"`
}

func (c *AnomaliesListCmd) Run(cl *Client) error {
	q := url.Values{"limit": {strconv.Itoa(c.Limit)}}
	if c.Agent != "" {
		q.Set("agent_id", c.Agent)
	}
	if c.Severity != "" {
		q.Set("severity", c.Severity)
	}
	raw, err := cl.data(context.Background(), http.MethodGet, "/v1/anomalies", q, nil)
	if err != nil {
		return err
	}
	return cl.print(raw)
}

type AnomaliesStatsCmd struct{}

func (c *AnomaliesStatsCmd) Run(cl *Client) error {
	raw, err := cl.data(context.Background(), http.MethodGet, "/v1/anomalies/stats", nil, nil)
	if err != nil {
		return err
	}
	return cl.print(raw)
}

type PoliciesCmd struct {
	List    PoliciesListCmd    `cmd:"" help:"Show effective tool permissions"`
	Refresh PoliciesRefreshCmd `cmd:"" help:"Reload permissions on every gateway instance"`
}

type PoliciesListCmd struct{}

func (c *PoliciesListCmd) Run(cl *Client) error {
	raw, err := cl.data(context.Background(), http.MethodGet, "/v1/policies", nil, nil)
	if err != nil {
		return err
	}
	return cl.print(raw)
}

type PoliciesRefreshCmd struct{}

func (c *PoliciesRefreshCmd) Run(cl *Client) error {
	raw, err := cl.data(context.Background(), http.MethodPost, "/v1/policies/refresh", nil, nil)
	if err != nil {
		return err
	}
	return cl.print(raw)
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("sentinelctl"),
		kong.Description("Admin client for the sentinel tool gateway."),
		kong.UsageOnError(),
	)
	cl := NewClient(cli.Addr, cli.Operator, cli.Token, cli.Timeout, os.Stdout)
	ctx.FatalIfErrorf(ctx.Run(cl))
}
