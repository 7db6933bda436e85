package toolregistry

import "maestro/internal/types"

// builtinIndex is the default tool catalog. Server tools run in-process via
// executor adapters; client tools run on the end-user device and are only
// validated here.
func builtinIndex() []ToolInfo {
	return []ToolInfo{
		{
			Name:        "web_search",
			Target:      types.TargetServer,
			Description: "Search the web for current information.",
			Parameters: ParameterSchema{
				Type: "object",
				Properties: map[string]Property{
					"query":       {Type: "string", Description: "The search query to execute"},
					"max_results": {Type: "integer", Description: "Maximum number of results (1-10, default 5)", Default: 5},
				},
				Required: []string{"query"},
			},
			Output: OutputSchema{
				Fields: map[string]Property{
					"query":             {Type: "string"},
					"results":           {Type: "array", Description: "Result objects with title, url, snippet, relevance_score"},
					"total_results":     {Type: "integer"},
					"search_time_ms":    {Type: "number"},
					"formatted_results": {Type: "string", Description: "Plain-text rendering of the results"},
				},
			},
		},
		{
			Name:        "folder_create",
			Target:      types.TargetClient,
			Description: "Create a folder on the user's device.",
			Parameters: ParameterSchema{
				Type: "object",
				Properties: map[string]Property{
					"path": {Type: "string", Description: "Folder path, ~ expands to the user home"},
				},
				Required: []string{"path"},
			},
			Output: OutputSchema{
				Fields: map[string]Property{
					"folder_path": {Type: "string"},
					"created_at":  {Type: "string"},
				},
			},
		},
		{
			Name:        "file_create",
			Target:      types.TargetClient,
			Description: "Create a file with the given content on the user's device.",
			Parameters: ParameterSchema{
				Type: "object",
				Properties: map[string]Property{
					"path":    {Type: "string", Description: "File path"},
					"content": {Type: "string", Description: "File content"},
				},
				Required: []string{"path"},
			},
			Output: OutputSchema{
				Fields: map[string]Property{
					"path":       {Type: "string"},
					"size_bytes": {Type: "integer"},
					"created_at": {Type: "string"},
				},
			},
		},
		{
			Name:        "file_search",
			Target:      types.TargetClient,
			Description: "Search files on the user's device.",
			Parameters: ParameterSchema{
				Type: "object",
				Properties: map[string]Property{
					"query": {Type: "string", Description: "Search query"},
				},
				Required: []string{"query"},
			},
			Output: OutputSchema{
				Fields: map[string]Property{
					"results": {Type: "array"},
					"total":   {Type: "integer"},
				},
			},
		},
		{
			Name:        "open_app",
			Target:      types.TargetClient,
			Description: "Open an application on the user's device.",
			Parameters: ParameterSchema{
				Type: "object",
				Properties: map[string]Property{
					"target": {Type: "string", Description: "Application name or path"},
				},
				Required: []string{"target"},
			},
			Output: OutputSchema{
				Fields: map[string]Property{
					"process_id": {Type: "integer"},
					"target":     {Type: "string"},
				},
			},
		},
		{
			Name:        "close_app",
			Target:      types.TargetClient,
			Description: "Close an application on the user's device.",
			Parameters: ParameterSchema{
				Type: "object",
				Properties: map[string]Property{
					"target": {Type: "string", Description: "Application name"},
				},
				Required: []string{"target"},
			},
			Output: OutputSchema{
				Fields: map[string]Property{
					"exit_code": {Type: "integer"},
					"target":    {Type: "string"},
				},
			},
		},
	}
}
