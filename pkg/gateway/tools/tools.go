// Package tools declares the portal tools exposed to the model and the
// interface for executing them. The business logic behind each tool lives in
// the portal; the gateway only owns the schemas and the dispatch.
package tools

import "context"

// Declaration describes one callable tool in JSON-schema form.
type Declaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Executor runs a named tool with JSON-decoded arguments and returns the
// output to feed back to the model.
type Executor interface {
	Execute(ctx context.Context, name string, arguments map[string]any) (string, error)
}

// FuncExecutor adapts a function to the Executor interface.
type FuncExecutor func(ctx context.Context, name string, arguments map[string]any) (string, error)

func (f FuncExecutor) Execute(ctx context.Context, name string, arguments map[string]any) (string, error) {
	return f(ctx, name, arguments)
}

// Declarations returns the portal tool set in registration order.
func Declarations() []Declaration {
	return []Declaration{
		{
			Name:        "read_requisition",
			Description: "Look up a requisition by ID to get details including status, items, and costs.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"requisition_id": map[string]any{
						"type":        "integer",
						"description": "The numeric ID of the requisition",
					},
				},
				"required": []string{"requisition_id"},
			},
		},
		{
			Name:        "search_requisitions",
			Description: "Search for requisitions by status, location, supplier, PO number, or date range.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"status": map[string]any{
						"type":        "string",
						"description": "Filter by status: pending, processed, failed",
					},
					"location_id": map[string]any{
						"type":        "integer",
						"description": "Filter by location/project ID",
					},
					"supplier_id": map[string]any{
						"type":        "integer",
						"description": "Filter by supplier ID",
					},
					"po_number": map[string]any{
						"type":        "string",
						"description": "Filter by PO number (partial match)",
					},
					"date_from": map[string]any{
						"type":        "string",
						"description": "Start date (YYYY-MM-DD)",
					},
					"date_to": map[string]any{
						"type":        "string",
						"description": "End date (YYYY-MM-DD)",
					},
					"search": map[string]any{
						"type":        "string",
						"description": "Search term for PO, reference, or requestor",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Max results (default 10)",
					},
				},
				"required": []string{},
			},
		},
		{
			Name:        "get_requisition_stats",
			Description: "Get statistics about requisitions for a date range.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"date_from": map[string]any{
						"type":        "string",
						"description": "Start date (YYYY-MM-DD)",
					},
					"date_to": map[string]any{
						"type":        "string",
						"description": "End date (YYYY-MM-DD)",
					},
					"location_id": map[string]any{
						"type":        "integer",
						"description": "Filter by location",
					},
				},
				"required": []string{},
			},
		},
		{
			Name:        "list_locations",
			Description: "List available locations/projects.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"search": map[string]any{
						"type":        "string",
						"description": "Search term to filter locations",
					},
				},
				"required": []string{},
			},
		},
		{
			Name:        "list_suppliers",
			Description: "List available suppliers.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"search": map[string]any{
						"type":        "string",
						"description": "Search term to filter suppliers",
					},
				},
				"required": []string{},
			},
		},
		{
			Name:        "search_materials",
			Description: "Search for material items by code or description.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"search": map[string]any{
						"type":        "string",
						"description": "Search term",
					},
					"location_id": map[string]any{
						"type":        "integer",
						"description": "Location for pricing",
					},
					"supplier_id": map[string]any{
						"type":        "integer",
						"description": "Filter by supplier",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Max results",
					},
				},
				"required": []string{},
			},
		},
		{
			Name:        "create_requisition",
			Description: "Create a new requisition/order with line items.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"location_id": map[string]any{
						"type":        "integer",
						"description": "Location/project ID",
					},
					"supplier_id": map[string]any{
						"type":        "integer",
						"description": "Supplier ID",
					},
					"date_required": map[string]any{
						"type":        "string",
						"description": "Required date (YYYY-MM-DD)",
					},
					"requested_by": map[string]any{
						"type":        "string",
						"description": "Requestor name",
					},
					"items": map[string]any{
						"type":        "array",
						"description": "Line items to add",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"code":        map[string]any{"type": "string", "description": "Material code"},
								"description": map[string]any{"type": "string", "description": "Item description"},
								"qty":         map[string]any{"type": "number", "description": "Quantity"},
								"unit_cost":   map[string]any{"type": "number", "description": "Unit cost"},
							},
							"required": []string{"qty"},
						},
					},
				},
				"required": []string{"location_id", "supplier_id", "items"},
			},
		},
	}
}

// RealtimeFormat renders the declarations in the shape the realtime session
// endpoint expects.
func RealtimeFormat(decls []Declaration) []map[string]any {
	out := make([]map[string]any, 0, len(decls))
	for _, d := range decls {
		out = append(out, map[string]any{
			"type":        "function",
			"name":        d.Name,
			"description": d.Description,
			"parameters":  d.Parameters,
		})
	}
	return out
}

// ByName indexes declarations for dispatch-time lookups.
func ByName(decls []Declaration) map[string]Declaration {
	m := make(map[string]Declaration, len(decls))
	for _, d := range decls {
		m[d.Name] = d
	}
	return m
}
