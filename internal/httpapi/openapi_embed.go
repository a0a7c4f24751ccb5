package httpapi

import _ "embed"

// OpenAPISpec is the API contract served verbatim at /openapi.yaml.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
