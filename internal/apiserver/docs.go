package apiserver

// swaggerDoc is the hand-maintained Swagger 2.0 document backing the UI.
// Kept in sync with the handler annotations; regenerate-on-build tooling is
// intentionally not part of the build.
const swaggerDoc = `{
  "swagger": "2.0",
  "info": {
    "title": "manifestcache API",
    "description": "Resilient cache server for Outlook add-in manifests",
    "version": "1.0"
  },
  "basePath": "/api/v1",
  "paths": {
    "/manifest": {
      "get": {
        "tags": ["manifest"],
        "summary": "Get manifest",
        "description": "Serve the add-in manifest for the resolved environment and variant",
        "produces": ["text/xml"],
        "parameters": [
          {"name": "environment", "in": "query", "type": "string", "description": "Environment override"},
          {"name": "variant", "in": "query", "type": "string", "description": "Variant override"},
          {"name": "version", "in": "query", "type": "string", "description": "Explicit version (cache-bust token)"},
          {"name": "beta", "in": "query", "type": "string", "description": "Request the beta variant"}
        ],
        "responses": {
          "200": {"description": "Manifest XML"},
          "500": {"description": "No template configured"}
        }
      }
    },
    "/cache/invalidate": {
      "post": {
        "tags": ["cache"],
        "summary": "Invalidate cache entries",
        "description": "Delete cached manifests by environment, variant, or explicit pattern",
        "consumes": ["application/json"],
        "produces": ["application/json"],
        "responses": {
          "200": {"description": "Deleted entry count"},
          "400": {"description": "Malformed body"}
        }
      }
    },
    "/cache/warmup": {
      "post": {
        "tags": ["cache"],
        "summary": "Warm the cache",
        "description": "Pre-generate and store manifests for every environment/variant pair",
        "consumes": ["application/json"],
        "produces": ["application/json"],
        "responses": {
          "200": {"description": "Per-environment results"}
        }
      }
    },
    "/cache/status": {
      "get": {
        "tags": ["cache"],
        "summary": "Cache status",
        "description": "Report cache metrics, circuit breaker state, health summary, and A/B distribution",
        "produces": ["application/json"],
        "responses": {
          "200": {"description": "Status payload"}
        }
      }
    },
    "/templates/{environment}/{variant}": {
      "put": {
        "tags": ["templates"],
        "summary": "Update a manifest template",
        "description": "Apply field updates to one (environment, variant) template; its cached manifests are invalidated",
        "consumes": ["application/json"],
        "produces": ["application/json"],
        "parameters": [
          {"name": "environment", "in": "path", "type": "string", "required": true},
          {"name": "variant", "in": "path", "type": "string", "required": true}
        ],
        "responses": {
          "200": {"description": "Applied template"},
          "400": {"description": "Invalid fields"}
        }
      }
    },
    "/system/health": {
      "get": {
        "tags": ["system"],
        "summary": "Health check",
        "description": "Check the cache backend, template registry, and monitor",
        "produces": ["application/json"],
        "responses": {
          "200": {"description": "Service is healthy"},
          "503": {"description": "Service degraded"}
        }
      }
    }
  }
}`
