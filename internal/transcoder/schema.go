package transcoder

// SanitizeJSONSchema recursively strips JSON-Schema keywords Google's
// function-declaration schema does not accept, and collapses a union `type`
// array down to its first non-null member. Adapted from the teacher's
// core/utils.SanitizeJSONSchema.
func SanitizeJSONSchema(schema map[string]interface{}) {
	if schema == nil {
		return
	}

	delete(schema, "default")
	delete(schema, "minLength")
	delete(schema, "maxLength")
	delete(schema, "additionalProperties")
	delete(schema, "title")
	delete(schema, "examples")
	delete(schema, "$schema")

	if typeVal, ok := schema["type"]; ok {
		if typeArr, ok := typeVal.([]interface{}); ok {
			for _, t := range typeArr {
				if s, ok := t.(string); ok && s != "null" {
					schema["type"] = s
					break
				}
			}
		}
	}

	if props, ok := schema["properties"].(map[string]interface{}); ok {
		for _, v := range props {
			if child, ok := v.(map[string]interface{}); ok {
				SanitizeJSONSchema(child)
			}
		}
	}

	if items, ok := schema["items"].(map[string]interface{}); ok {
		SanitizeJSONSchema(items)
	}
}
