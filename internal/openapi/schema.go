// internal/openapi/schema.go
package openapi

// OpenAPISchema represents an OpenAPI 3.0 document
type OpenAPISchema struct {
	OpenAPI    string              `json:"openapi"`
	Info       Info                `json:"info"`
	Servers    []Server            `json:"servers"`
	Paths      map[string]PathItem `json:"paths"`
	Components Components          `json:"components"`
}

type Info struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

type Server struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

type PathItem struct {
	Get  *Operation `json:"get,omitempty"`
	Post *Operation `json:"post,omitempty"`
}

type Operation struct {
	Summary     string              `json:"summary"`
	Description string              `json:"description,omitempty"`
	OperationID string              `json:"operationId"`
	Parameters  []Parameter         `json:"parameters,omitempty"`
	RequestBody *RequestBody        `json:"requestBody,omitempty"`
	Responses   map[string]Response `json:"responses"`
	Tags        []string            `json:"tags,omitempty"`
}

type Parameter struct {
	Name        string `json:"name"`
	In          string `json:"in"`
	Required    bool   `json:"required,omitempty"`
	Description string `json:"description,omitempty"`
	Schema      Schema `json:"schema"`
}

type RequestBody struct {
	Required bool                 `json:"required"`
	Content  map[string]MediaType `json:"content"`
}

type MediaType struct {
	Schema Schema `json:"schema"`
}

type Response struct {
	Description string               `json:"description"`
	Content     map[string]MediaType `json:"content,omitempty"`
}

type Components struct {
	Schemas map[string]Schema `json:"schemas,omitempty"`
}

type Schema struct {
	Type                 string            `json:"type,omitempty"`
	Format               string            `json:"format,omitempty"`
	Properties           map[string]Schema `json:"properties,omitempty"`
	Required             []string          `json:"required,omitempty"`
	Items                *Schema           `json:"items,omitempty"`
	Description          string            `json:"description,omitempty"`
	Ref                  string            `json:"$ref,omitempty"`
	AdditionalProperties *Schema           `json:"additionalProperties,omitempty"`
}

func ref(name string) Schema {
	return Schema{Ref: "#/components/schemas/" + name}
}

func jsonResponse(description, schema string) Response {
	return Response{
		Description: description,
		Content: map[string]MediaType{
			"application/json": {Schema: ref(schema)},
		},
	}
}

// GenerateBridgeSchema describes the bridge HTTP surface.
func GenerateBridgeSchema(version string) *OpenAPISchema {
	toolCall := &Operation{
		Summary:     "Call an MCP tool",
		Description: "Forwards a tools/call request to the MCP analysis server and returns the extracted text content.",
		OperationID: "callTool",
		Tags:        []string{"tools"},
		RequestBody: &RequestBody{
			Required: true,
			Content: map[string]MediaType{
				"application/json": {Schema: ref("ToolCallRequest")},
			},
		},
		Responses: map[string]Response{
			"200": jsonResponse("Tool result", "ToolCallResponse"),
			"400": jsonResponse("Missing tool name", "ErrorResponse"),
			"503": jsonResponse("MCP server not ready", "NotReadyResponse"),
			"500": jsonResponse("Tool or bridge failure", "ErrorResponse"),
		},
	}

	diagnostic := func(id, summary string, params []Parameter) *Operation {
		return &Operation{
			Summary:     summary,
			OperationID: id,
			Tags:        []string{"diagnostics"},
			Parameters:  params,
			Responses: map[string]Response{
				"200": jsonResponse("Diagnostic result", "DiagnosticResponse"),
				"503": jsonResponse("MCP server not ready", "DiagnosticResponse"),
				"500": jsonResponse("Diagnostic failed", "DiagnosticResponse"),
			},
		}
	}

	stringProp := func(description string) Schema {
		return Schema{Type: "string", Description: description}
	}

	return &OpenAPISchema{
		OpenAPI: "3.0.0",
		Info: Info{
			Title:       "MCP Trader Bridge API",
			Description: "HTTP access to the mcp-trader analysis tools over a stdio JSON-RPC bridge",
			Version:     version,
		},
		Servers: []Server{
			{URL: "/", Description: "MCP bridge"},
		},
		Paths: map[string]PathItem{
			"/tools/call":     {Post: toolCall},
			"/mcp/tools/call": {Post: toolCall},
			"/health": {Get: &Operation{
				Summary:     "Bridge and child process health",
				OperationID: "health",
				Tags:        []string{"status"},
				Responses: map[string]Response{
					"200": jsonResponse("Health report", "HealthResponse"),
				},
			}},
			"/test":      {Get: diagnostic("testDiagnostic", "Run system_diagnostic", nil)},
			"/test-aapl": {Get: diagnostic("testAAPL", "Run analyze_stock for AAPL", nil)},
			"/test/{symbol}": {Get: diagnostic("testSymbol", "Run analyze_stock for a symbol", []Parameter{
				{Name: "symbol", In: "path", Required: true, Schema: Schema{Type: "string"}},
			})},
			"/activity": {Get: &Operation{
				Summary:     "Recent bridge activity, newest first",
				OperationID: "activity",
				Tags:        []string{"status"},
				Parameters: []Parameter{
					{Name: "limit", In: "query", Description: "Maximum number of events", Schema: Schema{Type: "integer"}},
				},
				Responses: map[string]Response{
					"200": {
						Description: "Activity events",
						Content: map[string]MediaType{
							"application/json": {Schema: Schema{Type: "array", Items: &Schema{Ref: "#/components/schemas/ActivityEvent"}}},
						},
					},
				},
			}},
			"/activity/ws": {Get: &Operation{
				Summary:     "Stream activity events over a websocket",
				Description: "Each message is an ActivityEvent encoded as JSON. Only served when streaming is enabled.",
				OperationID: "activityStream",
				Tags:        []string{"status"},
				Responses: map[string]Response{
					"101": {Description: "Switching to the websocket protocol"},
					"403": {Description: "Origin not allowed"},
				},
			}},
			"/openapi.json": {Get: &Operation{
				Summary:     "This OpenAPI document",
				OperationID: "openapi",
				Tags:        []string{"status"},
				Responses: map[string]Response{
					"200": {Description: "OpenAPI 3 document"},
				},
			}},
			"/metrics": {Get: &Operation{
				Summary:     "Prometheus metrics",
				OperationID: "metrics",
				Tags:        []string{"status"},
				Responses: map[string]Response{
					"200": {Description: "Prometheus text exposition"},
				},
			}},
		},
		Components: Components{
			Schemas: map[string]Schema{
				"ToolCallRequest": {
					Type:     "object",
					Required: []string{"name"},
					Properties: map[string]Schema{
						"name":      stringProp("Tool name, e.g. analyze_stock"),
						"arguments": {Type: "object", AdditionalProperties: &Schema{}},
					},
				},
				"ToolCallResponse": {
					Type: "object",
					Properties: map[string]Schema{
						"content":   stringProp("Text extracted from the tool result"),
						"source":    stringProp("Always mcp_python_server"),
						"timestamp": {Type: "string", Format: "date-time"},
						"success":   {Type: "boolean"},
					},
				},
				"ErrorResponse": {
					Type: "object",
					Properties: map[string]Schema{
						"error":    {Type: "string"},
						"message":  {Type: "string"},
						"code":     {Type: "integer"},
						"data":     {Type: "object"},
						"fallback": {Type: "boolean"},
					},
				},
				"NotReadyResponse": {
					Type: "object",
					Properties: map[string]Schema{
						"error":       {Type: "string"},
						"message":     {Type: "string"},
						"ready":       {Type: "boolean"},
						"initialized": {Type: "boolean"},
						"code":        {Type: "integer"},
					},
				},
				"DiagnosticResponse": {
					Type: "object",
					Properties: map[string]Schema{
						"test":              {Type: "string"},
						"result":            {Type: "object"},
						"symbol":            {Type: "string"},
						"extracted_content": {Description: "Joined text items, or the raw tool result when it has no content array"},
						"error":             {Type: "string"},
						"code":              {Type: "integer"},
						"ready":             {Type: "boolean"},
						"initialized":       {Type: "boolean"},
					},
				},
				"HealthResponse": {
					Type: "object",
					Properties: map[string]Schema{
						"status":          {Type: "string"},
						"mcp_bridge":      {Type: "string"},
						"python_server":   {Type: "string"},
						"state":           {Type: "string"},
						"initialized":     {Type: "boolean"},
						"pending":         {Type: "integer"},
						"child":           ref("ChildStatus"),
						"uptime_seconds":  {Type: "number"},
						"handshake_error": {Type: "string"},
						"exit_error":      {Type: "string"},
						"timestamp":       {Type: "string", Format: "date-time"},
					},
				},
				"ChildStatus": {
					Type: "object",
					Properties: map[string]Schema{
						"pid":            {Type: "integer"},
						"running":        {Type: "boolean"},
						"rss_bytes":      {Type: "integer"},
						"cpu_percent":    {Type: "number"},
						"uptime_seconds": {Type: "number"},
					},
				},
				"ActivityEvent": {
					Type: "object",
					Properties: map[string]Schema{
						"id":        {Type: "string"},
						"timestamp": {Type: "string", Format: "date-time"},
						"level":     {Type: "string"},
						"type":      {Type: "string"},
						"server":    {Type: "string"},
						"message":   {Type: "string"},
						"details":   {Type: "object"},
					},
				},
			},
		},
	}
}
