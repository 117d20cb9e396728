package openapi

import "github.com/getkin/kin-openapi/openapi3"

// ─── Schema Builders ────────────────────────────────────────────────────────

func objectSchema(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Properties: props,
			Required:   required,
		},
	}
}

func stringSchema(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Description: description}}
}

func enumSchema(description string, values ...interface{}) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"string"},
		Description: description,
		Enum:        values,
	}}
}

func integerSchema(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"integer"},
		Format:      "int64",
		Description: description,
	}}
}

func numberSchema(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"number"},
		Format:      "double",
		Description: description,
	}}
}

func boolSchema(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}, Description: description}}
}

func timeSchema(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"string"},
		Format:      "date-time",
		Description: description,
	}}
}

func arrayOf(item *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: item}}
}

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

// componentSchemas returns every named schema the document references.
func componentSchemas() openapi3.Schemas {
	return openapi3.Schemas{
		"ErrorResponse": objectSchema(openapi3.Schemas{
			"error": objectSchema(openapi3.Schemas{
				"status":     integerSchema("HTTP status code."),
				"code":       stringSchema("Stable machine-readable error code."),
				"message":    stringSchema("Human-readable message."),
				"retryAfter": integerSchema("Seconds until the quota window resets. Present on RATE_LIMIT_EXCEEDED."),
				"context":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
			}, "status", "code", "message"),
		}, "error"),

		"Quota": objectSchema(openapi3.Schemas{
			"unlimited":      boolSchema("True when the key is never rate limited."),
			"limit":          integerSchema("Requests allowed per window."),
			"window_seconds": integerSchema("Window length in seconds."),
		}),

		"APIKey": objectSchema(openapi3.Schemas{
			"id":             stringSchema("Stable key identity."),
			"key_prefix":     stringSchema("Non-secret leading fragment of the secret."),
			"label":          stringSchema("Human-assigned name."),
			"state":          enumSchema("Administrative state.", "active", "inactive"),
			"quota":          ref("Quota"),
			"expires_at":     timeSchema("Expiry time, if any."),
			"total_requests": integerSchema("Lifetime request count."),
			"total_errors":   integerSchema("Lifetime count of responses with status >= 400."),
			"last_used_at":   timeSchema("Time of the most recent recorded request."),
			"last_used_from": stringSchema("Client address of the most recent recorded request."),
			"created_at":     timeSchema(""),
			"updated_at":     timeSchema(""),
		}, "id", "key_prefix", "label", "state", "quota"),

		"CreateKeyRequest": objectSchema(openapi3.Schemas{
			"label":      stringSchema("1-100 characters."),
			"quota":      ref("Quota"),
			"expires_at": timeSchema("Must be in the future."),
		}, "label"),

		"UpdateKeyRequest": objectSchema(openapi3.Schemas{
			"label":        stringSchema("1-100 characters."),
			"state":        enumSchema("", "active", "inactive"),
			"quota":        ref("Quota"),
			"expires_at":   timeSchema(""),
			"clear_expiry": boolSchema("Remove the expiry."),
		}),

		"SecretResponse": objectSchema(openapi3.Schemas{
			"key":     ref("APIKey"),
			"secret":  stringSchema("Plaintext secret. Returned only at creation and rotation."),
			"warning": stringSchema(""),
		}, "key", "secret"),

		"UsageLogEntry": objectSchema(openapi3.Schemas{
			"id":               integerSchema(""),
			"key_id":           stringSchema(""),
			"endpoint":         stringSchema(""),
			"method":           stringSchema(""),
			"status_code":      integerSchema(""),
			"response_time_ms": integerSchema(""),
			"origin":           stringSchema(""),
			"client_agent":     stringSchema(""),
			"timestamp":        timeSchema(""),
		}),

		"EndpointUsage": objectSchema(openapi3.Schemas{
			"key_id":                 stringSchema(""),
			"endpoint":               stringSchema(""),
			"request_count":          integerSchema(""),
			"error_count":            integerSchema(""),
			"total_response_time_ms": integerSchema(""),
			"last_used_at":           timeSchema(""),
		}),

		"UsageSummary": objectSchema(openapi3.Schemas{
			"total_requests":       integerSchema(""),
			"error_count":          integerSchema(""),
			"avg_response_time_ms": numberSchema(""),
		}),

		"KeyStats": objectSchema(openapi3.Schemas{
			"key":       ref("APIKey"),
			"period":    stringSchema(""),
			"summary":   ref("UsageSummary"),
			"endpoints": arrayOf(ref("EndpointUsage")),
			"recent":    arrayOf(ref("UsageLogEntry")),
		}),

		"Overview": objectSchema(openapi3.Schemas{
			"period":        stringSchema(""),
			"total_keys":    integerSchema(""),
			"active_keys":   integerSchema(""),
			"inactive_keys": integerSchema(""),
			"summary":       ref("UsageSummary"),
			"success_rate":  numberSchema("Percentage of requests with status < 400."),
			"top_endpoints": arrayOf(objectSchema(openapi3.Schemas{
				"endpoint":       stringSchema(""),
				"total_requests": integerSchema(""),
			})),
			"recent": arrayOf(ref("UsageLogEntry")),
		}),

		"LoginRequest": objectSchema(openapi3.Schemas{
			"email":    stringSchema(""),
			"password": stringSchema(""),
		}, "email", "password"),

		"LoginResponse": objectSchema(openapi3.Schemas{
			"session_token": stringSchema("JWT to send as a Bearer token."),
			"token_type":    stringSchema(""),
			"expires_in":    integerSchema("Seconds until the token expires."),
			"admin_id":      integerSchema(""),
			"email":         stringSchema(""),
			"name":          stringSchema(""),
		}),
	}
}

// metaSchema describes the pagination block of list responses.
func metaSchema() *openapi3.SchemaRef {
	return objectSchema(openapi3.Schemas{
		"count":  integerSchema("Number of records in this response."),
		"total":  integerSchema("Total number of records matching the query."),
		"limit":  integerSchema("Maximum records returned per page."),
		"offset": integerSchema("Number of records skipped."),
	})
}

func listSchema(item *openapi3.SchemaRef) *openapi3.SchemaRef {
	return objectSchema(openapi3.Schemas{
		"resource": arrayOf(item),
		"meta":     metaSchema(),
	})
}
