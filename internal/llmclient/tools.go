// internal/llmclient/tools.go
package llmclient

// normalizedCoord is the shared schema fragment for frame-normalized
// coordinates. The model may emit either the 0..1 range or 0..1000
// thousandths; both are accepted downstream.
func normalizedCoord(axis string) map[string]any {
	return map[string]any{
		"type":        "number",
		"description": axis + " position normalized to the screenshot, 0..1 or 0..1000",
	}
}

// actionDeclarations is the fixed tool surface offered to the model on
// every decision request.
func actionDeclarations() []GeminiFunctionDeclaration {
	return []GeminiFunctionDeclaration{
		{
			Name:        "navigate",
			Description: "Load a URL in the current tab.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url": map[string]any{"type": "string", "description": "Absolute URL to open"},
				},
				"required": []string{"url"},
			},
		},
		{
			Name:        "search",
			Description: "Run a web search for a query and land on the results page.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "go_back",
			Description: "Go back one entry in the tab history.",
		},
		{
			Name:        "go_forward",
			Description: "Go forward one entry in the tab history.",
		},
		{
			Name:        "click_at",
			Description: "Click the left mouse button at a position on the screenshot.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"x": normalizedCoord("Horizontal"),
					"y": normalizedCoord("Vertical"),
				},
				"required": []string{"x", "y"},
			},
		},
		{
			Name:        "hover_at",
			Description: "Move the pointer to a position without clicking.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"x": normalizedCoord("Horizontal"),
					"y": normalizedCoord("Vertical"),
				},
				"required": []string{"x", "y"},
			},
		},
		{
			Name:        "type_text_at",
			Description: "Click a field and type text into it.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"x":    normalizedCoord("Horizontal"),
					"y":    normalizedCoord("Vertical"),
					"text": map[string]any{"type": "string"},
					"press_enter": map[string]any{
						"type":        "boolean",
						"description": "Press Enter after typing to submit",
					},
					"clear_before_typing": map[string]any{
						"type":        "boolean",
						"description": "Clear the field before typing",
					},
				},
				"required": []string{"x", "y", "text"},
			},
		},
		{
			Name:        "scroll_document",
			Description: "Scroll the whole page by most of one viewport.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"direction": map[string]any{
						"type": "string",
						"enum": []string{"up", "down", "left", "right"},
					},
				},
				"required": []string{"direction"},
			},
		},
		{
			Name:        "scroll_at",
			Description: "Scroll the element under a position by a given magnitude.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"x": normalizedCoord("Horizontal"),
					"y": normalizedCoord("Vertical"),
					"direction": map[string]any{
						"type": "string",
						"enum": []string{"up", "down", "left", "right"},
					},
					"magnitude": map[string]any{
						"type":        "number",
						"description": "Scroll distance in CSS pixels",
					},
				},
				"required": []string{"x", "y", "direction"},
			},
		},
		{
			Name:        "drag_and_drop",
			Description: "Press at a position, drag to a destination, and release.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"x":             normalizedCoord("Source horizontal"),
					"y":             normalizedCoord("Source vertical"),
					"destination_x": normalizedCoord("Destination horizontal"),
					"destination_y": normalizedCoord("Destination vertical"),
				},
				"required": []string{"x", "y", "destination_x", "destination_y"},
			},
		},
		{
			Name:        "key_combination",
			Description: "Press a key or key combination, e.g. \"Enter\" or \"control+a\".",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"keys": map[string]any{"type": "string"},
				},
				"required": []string{"keys"},
			},
		},
		{
			Name:        "wait",
			Description: "Pause for the page to make progress before observing again.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"seconds": map[string]any{"type": "number"},
				},
			},
		},
	}
}
