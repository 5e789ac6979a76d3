package tools

// Input schemas, JSON Schema 2020-12. Every tool rejects arguments it does
// not declare.

const statusEnum = `["IN_TRANSIT", "DELIVERED", "DELAYED", "AT_PORT", "CUSTOMS_HOLD"]`

const identifierProp = `"identifier": {
	"type": "string", "minLength": 1, "maxLength": 128,
	"description": "Container number, bill of lading, or job id. Resolved in that order."
}`

const shipmentIDProp = `"shipment_id": {
	"type": "string", "minLength": 1, "maxLength": 128,
	"description": "Job id, container number, or bill of lading."
}`

var schemaSearchShipments = `{
	"type": "object",
	"properties": {
		"risk_flag": {"type": "boolean", "description": "Only flagged (true) or unflagged (false) shipments."},
		"status_code": {"enum": ` + statusEnum + `},
		"container_no": {"type": "string", "minLength": 1},
		"master_bill": {"type": "string", "minLength": 1},
		"limit": {"type": "integer", "minimum": 0, "default": 10}
	},
	"additionalProperties": false
}`

var schemaTrackShipment = `{
	"type": "object",
	"properties": {` + identifierProp + `},
	"required": ["identifier"],
	"additionalProperties": false
}`

var schemaUpdateETA = `{
	"type": "object",
	"properties": {
		` + identifierProp + `,
		"new_eta": {"type": "string", "minLength": 1, "description": "YYYY-MM-DD or RFC 3339 timestamp."},
		"reason": {"type": "string", "maxLength": 1024},
		"agent_id": {"type": "string", "maxLength": 128}
	},
	"required": ["identifier", "new_eta"],
	"additionalProperties": false
}`

var schemaSetRiskFlag = `{
	"type": "object",
	"properties": {
		` + identifierProp + `,
		"is_risk": {"type": "boolean"},
		"reason": {"type": "string", "maxLength": 1024},
		"agent_id": {"type": "string", "maxLength": 128}
	},
	"required": ["identifier", "is_risk"],
	"additionalProperties": false
}`

var schemaAddNote = `{
	"type": "object",
	"properties": {
		` + identifierProp + `,
		"note": {"type": "string", "minLength": 1},
		"agent_name": {"type": "string"}
	},
	"required": ["identifier", "note"],
	"additionalProperties": false
}`

var schemaSearchAdvanced = `{
	"type": "object",
	"properties": {
		"vessel_name": {"type": "string", "minLength": 1},
		"voyage_number": {"type": "string", "minLength": 1},
		"origin_port": {"type": "string", "minLength": 1, "description": "Substring match."},
		"destination_port": {"type": "string", "minLength": 1, "description": "Substring match."},
		"status_codes": {
			"oneOf": [
				{"type": "array", "items": {"enum": ` + statusEnum + `}},
				{"type": "string", "description": "Comma separated status codes."}
			]
		},
		"risk_flag": {"type": "boolean"},
		"eta_from": {"type": "string", "description": "YYYY-MM-DD or RFC 3339, inclusive."},
		"eta_to": {"type": "string", "description": "YYYY-MM-DD (whole day) or RFC 3339, inclusive."},
		"current_location": {"type": "string", "minLength": 1},
		"limit": {"type": "integer", "minimum": 0, "default": 20}
	},
	"additionalProperties": false
}`

var schemaQueryByCriteria = `{
	"type": "object",
	"properties": {
		"search_text": {"type": "string", "description": "Case-insensitive substring over container, bill, vessel, ports, location, and status description."},
		"include_fields": {"type": "array", "items": {"enum": [
			"id", "container_no", "master_bill", "vessel_name", "voyage_number",
			"origin_port", "destination_port", "status_code", "status_description",
			"risk_flag", "current_location", "eta", "etd", "agent_notes"
		]}},
		"sort_by": {"enum": ["id", "eta", "etd", "status_code", "risk_flag", "created_at", "updated_at", "origin_port", "destination_port", "vessel_name"], "default": "eta"},
		"sort_order": {"enum": ["asc", "desc"], "default": "asc"},
		"limit": {"type": "integer", "minimum": 0, "default": 10}
	},
	"additionalProperties": false
}`

var schemaEmpty = `{"type": "object", "additionalProperties": false}`

var schemaDelayed = `{
	"type": "object",
	"properties": {
		"days_delayed": {"type": "integer", "minimum": 0, "default": 1}
	},
	"additionalProperties": false
}`

var schemaByRoute = `{
	"type": "object",
	"properties": {
		"origin": {"type": "string", "description": "Origin port, substring match."},
		"destination": {"type": "string", "description": "Destination port, substring match."},
		"status_filter": {"enum": ` + statusEnum + `}
	},
	"additionalProperties": false
}`

var schemaHistory = `{
	"type": "object",
	"properties": {
		` + identifierProp + `,
		"limit": {"type": "integer", "minimum": 1, "maximum": 100, "default": 20}
	},
	"required": ["identifier"],
	"additionalProperties": false
}`

var schemaShipmentOnly = `{
	"type": "object",
	"properties": {` + shipmentIDProp + `},
	"required": ["shipment_id"],
	"additionalProperties": false
}`

var schemaProactive = `{
	"type": "object",
	"properties": {
		` + shipmentIDProp + `,
		"recipient_email": {"type": "string", "pattern": "^[^@\\s]+@[^@\\s]+$"}
	},
	"required": ["shipment_id"],
	"additionalProperties": false
}`

var schemaStatusUpdate = `{
	"type": "object",
	"properties": {
		` + shipmentIDProp + `,
		"notification_type": {"enum": ["departed", "in_transit", "arrived", "customs_cleared", "delivered", "delay_warning", "exception_alert"]},
		"recipient_email": {"type": "string", "pattern": "^[^@\\s]+@[^@\\s]+$"},
		"recipient_phone": {"type": "string", "pattern": "^\\+[1-9][0-9]{6,14}$"},
		"channel": {"enum": ["email", "sms", "both"], "default": "email"},
		"language": {"enum": ["en", "ar", "zh"], "default": "en"}
	},
	"required": ["shipment_id", "notification_type"],
	"additionalProperties": false
}`

var schemaTrackVessel = `{
	"type": "object",
	"properties": {
		"vessel_name": {"type": "string", "minLength": 1},
		"imo_number": {"type": "string", "pattern": "^[0-9]{7}$"},
		"mmsi": {"type": "string", "pattern": "^[0-9]{9}$"}
	},
	"additionalProperties": false
}`

var schemaTrackContainer = `{
	"type": "object",
	"properties": {
		"container_number": {"type": "string", "pattern": "^[A-Za-z]{4}[0-9]{7}$"}
	},
	"required": ["container_number"],
	"additionalProperties": false
}`

var schemaInvoice = `{
	"type": "object",
	"properties": {
		` + shipmentIDProp + `,
		"invoice_number": {"type": "string", "minLength": 1, "maxLength": 64}
	},
	"required": ["shipment_id"],
	"additionalProperties": false
}`

var schemaPackingList = `{
	"type": "object",
	"properties": {
		` + shipmentIDProp + `,
		"packing_list_number": {"type": "string", "minLength": 1, "maxLength": 64}
	},
	"required": ["shipment_id"],
	"additionalProperties": false
}`

var schemaServerStatus = `{
	"type": "object",
	"properties": {
		"include_details": {"type": "boolean", "default": false}
	},
	"additionalProperties": false
}`
