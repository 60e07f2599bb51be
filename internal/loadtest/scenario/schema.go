package scenario

import (
	"github.com/fitness-team/fitload/pkg/jsonschema"
)

// librarySchema is the contract for GET /api/library.
const librarySchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["success", "data"],
	"properties": {
		"success": { "const": true },
		"message": { "type": ["string", "null"] },
		"code": { "type": ["integer", "null"] },
		"data": {
			"type": "object",
			"required": ["moves", "sessions"],
			"properties": {
				"moves": { "type": "array", "items": { "$ref": "#/$defs/move" } },
				"sessions": { "type": "array", "items": { "$ref": "#/$defs/session" } }
			}
		}
	},
	"$defs": {
		"move": {
			"type": "object",
			"required": ["id", "name"],
			"properties": {
				"id": { "type": "string" },
				"name": { "type": "string" },
				"modelUrl": { "type": ["string", "null"] },
				"scoringConfig": { "type": ["object", "null"] }
			}
		},
		"session": {
			"type": "object",
			"required": ["id", "name"],
			"properties": {
				"id": { "type": "string" },
				"name": { "type": "string" },
				"difficulty": { "type": ["string", "null"] },
				"duration": { "type": ["integer", "null"] },
				"coverUrl": { "type": ["string", "null"] },
				"moves": { "type": ["array", "null"], "items": { "$ref": "#/$defs/move" } }
			}
		}
	}
}`

// LibraryValidator checks library responses against the built-in contract.
func LibraryValidator() *jsonschema.Validator {
	return jsonschema.MustCompile("library.json", librarySchema)
}
