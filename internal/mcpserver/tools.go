package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the rate card MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolValidateConfiguration = mcp.NewTool("validate_configuration",
	mcp.WithDescription(
		"Validate a service pricing configuration without saving it. "+
			"Returns whether the configuration is valid and a field-by-field list of problems. "+
			"Use this to check fixed, hourly, usage, or bucket pricing before applying it to a plan."),
	mcp.WithObject("configuration",
		mcp.Required(),
		mcp.Description("The configuration JSON, e.g. {\"configurationType\": \"usage\", \"customRate\": \"0.15\", \"unitOfMeasure\": \"gb\"}")),
)

var ToolPreviewCharge = mcp.NewTool("preview_charge",
	mcp.WithDescription(
		"Compute the charge a (plan, service) pairing would produce for a billing period. "+
			"Nothing is written. For hourly pricing, pass work entries with the minutes worked."),
	mcp.WithString("plan_id",
		mcp.Required(),
		mcp.Description("The plan ID (e.g. 'plan_abc123')")),
	mcp.WithString("service_id",
		mcp.Required(),
		mcp.Description("The service ID (e.g. 'svc_abc123')")),
	mcp.WithString("period_start",
		mcp.Description("Billing period start, RFC3339. Defaults to the start of the current month.")),
	mcp.WithString("period_end",
		mcp.Description("Billing period end, RFC3339. Defaults to the start of the next month.")),
	mcp.WithObject("work",
		mcp.Description("For hourly configurations: {\"entries\": [{\"minutes\": 90, \"userType\": \"senior\", \"afterHours\": false}]}")),
)

var ToolListPlans = mcp.NewTool("list_plans",
	mcp.WithDescription(
		"List the tenant's billing plans with status and billing frequency. "+
			"Use this to find plan IDs before querying pricing."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of plans to return (default 50)")),
)

var ToolGetPlanPricing = mcp.NewTool("get_plan_pricing",
	mcp.WithDescription(
		"Get a plan's full pricing: every service configuration attached to it, "+
			"with rates, tiers, bucket allotments, and hourly parameters."),
	mcp.WithString("plan_id",
		mcp.Required(),
		mcp.Description("The plan ID (e.g. 'plan_abc123')")),
)

var ToolListServices = mcp.NewTool("list_services",
	mcp.WithDescription(
		"List the tenant's billable service catalog. "+
			"Use this to find service IDs before configuring pricing or recording usage."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of services to return (default 50)")),
)

var ToolRecordUsage = mcp.NewTool("record_usage",
	mcp.WithDescription(
		"Record consumed units against a (plan, service) pairing. "+
			"Usage accumulates into the current billing period and drives usage and bucket charges."),
	mcp.WithString("plan_id",
		mcp.Required(),
		mcp.Description("The plan ID")),
	mcp.WithString("service_id",
		mcp.Required(),
		mcp.Description("The service ID")),
	mcp.WithNumber("units",
		mcp.Required(),
		mcp.Description("Units consumed (positive integer)")),
)
