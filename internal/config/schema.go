package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaID is the $id advertised in the generated schema.
const SchemaID = "https://github.com/haasonsaas/nexushub/config.schema.json"

// JSONSchema describes nexushub.yaml for editors and CI checks. Field names
// follow the yaml tags; fields tagged yaml:"-" are omitted.
func JSONSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		FieldNameTag:               "yaml",
		RequiredFromJSONSchemaTags: true,
		AllowAdditionalProperties:  false,
	}
	s := r.Reflect(&Config{})
	s.ID = jsonschema.ID(SchemaID)
	s.Title = "nexushub configuration"
	s.Description = "Configuration file for nexushub serve and worker."
	return json.MarshalIndent(s, "", "  ")
}
