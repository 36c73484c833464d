package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for machine observability spans and metrics.
var (
	AttrExecutorName = attribute.Key("executor.name")
	AttrNodeID       = attribute.Key("node.id")
	AttrSessionID    = attribute.Key("session.id")

	AttrTokensInput  = attribute.Key("tokens.input")
	AttrTokensOutput = attribute.Key("tokens.output")

	AttrToolCount = attribute.Key("executor.tool_count")
	AttrToolNames = attribute.Key("executor.tool_names")
	AttrToolCalls = attribute.Key("executor.tool_calls")

	AttrTransition = attribute.Key("executor.transition")

	AttrToolName         = attribute.Key("tool.name")
	AttrToolStatus       = attribute.Key("tool.status")
	AttrToolResultLength = attribute.Key("tool.result_length")
)
