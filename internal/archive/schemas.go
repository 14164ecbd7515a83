package archive

// datasetSchema is one compiled-at-open-time JSON schema, transcribed
// directly from the field list of its atlas.*Record type. Kept permissive
// on purpose: only the fields every record of that kind must carry are
// required, everything else is additionalProperties.
type datasetSchema struct {
	name    string
	version string
	uri     string
	json    string
}

const schemaVersion = "1.0.0"

var datasetSchemas = []datasetSchema{
	{
		name:    "pages",
		version: schemaVersion,
		uri:     "https://atlas.schema/pages.schema.json",
		json: `{
			"type": "object",
			"properties": {
				"pageId": {"type": "string"},
				"url": {"type": "string"},
				"statusCode": {"type": "integer"}
			},
			"required": ["pageId", "url", "statusCode"],
			"additionalProperties": true
		}`,
	},
	{
		name:    "edges",
		version: schemaVersion,
		uri:     "https://atlas.schema/edges.schema.json",
		json: `{
			"type": "object",
			"properties": {
				"sourceUrl": {"type": "string"},
				"targetUrl": {"type": "string"}
			},
			"required": ["sourceUrl", "targetUrl"],
			"additionalProperties": true
		}`,
	},
	{
		name:    "assets",
		version: schemaVersion,
		uri:     "https://atlas.schema/assets.schema.json",
		json: `{
			"type": "object",
			"properties": {
				"pageUrl": {"type": "string"},
				"src": {"type": "string"},
				"type": {"type": "string"}
			},
			"required": ["pageUrl", "src", "type"],
			"additionalProperties": true
		}`,
	},
	{
		name:    "responses",
		version: schemaVersion,
		uri:     "https://atlas.schema/responses.schema.json",
		json: `{
			"type": "object",
			"properties": {
				"pageId": {"type": "string"},
				"bodyBlobRef": {"type": "string"}
			},
			"required": ["pageId", "bodyBlobRef"],
			"additionalProperties": true
		}`,
	},
	{
		name:    "errors",
		version: schemaVersion,
		uri:     "https://atlas.schema/errors.schema.json",
		json: `{
			"type": "object",
			"properties": {
				"phase": {"type": "string"},
				"code": {"type": "string"},
				"message": {"type": "string"}
			},
			"required": ["phase", "code", "message"],
			"additionalProperties": true
		}`,
	},
	{
		name:    "events",
		version: schemaVersion,
		uri:     "https://atlas.schema/events.schema.json",
		json: `{
			"type": "object",
			"properties": {
				"kind": {"type": "string"}
			},
			"required": ["kind"],
			"additionalProperties": true
		}`,
	},
	{
		name:    "accessibility",
		version: schemaVersion,
		uri:     "https://atlas.schema/accessibility.schema.json",
		json: `{
			"type": "object",
			"properties": {
				"pageUrl": {"type": "string"}
			},
			"required": ["pageUrl"],
			"additionalProperties": true
		}`,
	},
	{
		name:    "dom_snapshots",
		version: schemaVersion,
		uri:     "https://atlas.schema/dom_snapshots.schema.json",
		json: `{
			"type": "object",
			"properties": {
				"pageUrl": {"type": "string"}
			},
			"required": ["pageUrl"],
			"additionalProperties": true
		}`,
	},
	{
		name:    "console",
		version: schemaVersion,
		uri:     "https://atlas.schema/console.schema.json",
		json: `{
			"type": "object",
			"properties": {
				"pageUrl": {"type": "string"}
			},
			"required": ["pageUrl"],
			"additionalProperties": true
		}`,
	},
	{
		name:    "styles",
		version: schemaVersion,
		uri:     "https://atlas.schema/styles.schema.json",
		json: `{
			"type": "object",
			"properties": {
				"pageUrl": {"type": "string"}
			},
			"required": ["pageUrl"],
			"additionalProperties": true
		}`,
	},
}
