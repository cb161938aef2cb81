package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Request body schemas. Unknown fields are rejected so typos fail loud.
var (
	createDealSchema = mustSchema("create-deal", `{
		"type": "object",
		"required": ["name"],
		"additionalProperties": false,
		"properties": {
			"name": {"type": "string", "minLength": 1}
		}
	}`)

	createActorSchema = mustSchema("create-actor", `{
		"type": "object",
		"required": ["name", "type", "role"],
		"additionalProperties": false,
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"type": {"type": "string", "enum": ["HUMAN", "SYSTEM"]},
			"role": {"type": "string", "minLength": 1}
		}
	}`)

	grantRoleSchema = mustSchema("grant-role", `{
		"type": "object",
		"required": ["role"],
		"additionalProperties": false,
		"properties": {
			"role": {"type": "string", "minLength": 1}
		}
	}`)

	submitEventSchema = mustSchema("submit-event", `{
		"type": "object",
		"required": ["type"],
		"additionalProperties": false,
		"properties": {
			"type": {"type": "string", "minLength": 1},
			"actorId": {"type": "string"},
			"payload": {"type": "object"},
			"authorityContext": {"type": "object"},
			"evidenceRefs": {"type": "array", "items": {"type": "string"}}
		}
	}`)

	explainSchema = mustSchema("explain", `{
		"type": "object",
		"required": ["action"],
		"additionalProperties": false,
		"properties": {
			"action": {"type": "string", "minLength": 1},
			"actorId": {"type": "string"},
			"payload": {"type": "object"}
		}
	}`)

	createMaterialSchema = mustSchema("create-material", `{
		"type": "object",
		"required": ["type", "truthClass"],
		"additionalProperties": false,
		"properties": {
			"type": {"type": "string", "minLength": 1},
			"truthClass": {"type": "string", "enum": ["AI", "HUMAN", "DOC"]},
			"data": {"type": "object"}
		}
	}`)

	patchMaterialSchema = mustSchema("patch-material", `{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"truthClass": {"type": "string", "enum": ["AI", "HUMAN", "DOC"]},
			"data": {"type": "object"}
		}
	}`)

	linkArtifactSchema = mustSchema("link-artifact", `{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"eventId": {"type": "string"},
			"materialId": {"type": "string"},
			"tag": {"type": "string"}
		}
	}`)

	simulateEventSchema = mustSchema("simulate-event", `{
		"type": "object",
		"required": ["type"],
		"additionalProperties": false,
		"properties": {
			"type": {"type": "string", "minLength": 1},
			"actorId": {"type": "string"},
			"payload": {"type": "object"},
			"authorityContext": {"type": "object"},
			"evidenceRefs": {"type": "array", "items": {"type": "string"}}
		}
	}`)
)

func mustSchema(name, raw string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://dealkernel.schemas.local/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("api: schema %s: %v", name, err))
	}
	return c.MustCompile(url)
}

// decodeBody validates the request body against schema and unmarshals it into
// dst. A validation failure is reported to the client as 400.
func decodeBody(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unreadable request body", dealParams(r))
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte(`{}`)
	}

	var probe any
	if err := json.Unmarshal(body, &probe); err != nil {
		writeError(w, r, http.StatusBadRequest, "request body is not valid JSON", dealParams(r))
		return false
	}
	if err := schema.Validate(probe); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), dealParams(r))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "request body does not match expected shape", dealParams(r))
		return false
	}
	return true
}
