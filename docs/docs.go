// Package docs holds the OpenAPI description served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/documents": {
            "get": {
                "summary": "List documents",
                "parameters": [
                    {"type": "integer", "description": "page size (max 100)", "name": "limit", "in": "query"},
                    {"type": "integer", "description": "rows to skip", "name": "offset", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "summary": "Upload a document to every storage backend",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"type": "file", "description": "document", "name": "file", "in": "formData", "required": true},
                    {"type": "string", "description": "transaction", "name": "transaction_id", "in": "formData"},
                    {"type": "string", "description": "agent", "name": "agent_id", "in": "formData"},
                    {"type": "string", "description": "category", "name": "category", "in": "formData"},
                    {"type": "string", "description": "comma separated tags", "name": "tags", "in": "formData"},
                    {"type": "string", "name": "X-Actor-ID", "in": "header", "required": true},
                    {"type": "string", "name": "X-Actor-Role", "in": "header", "required": true}
                ],
                "responses": {
                    "201": {"description": "all backends confirmed"},
                    "202": {"description": "some backends queued for retry"},
                    "422": {"description": "file rejected"},
                    "503": {"description": "no backend accepted the file"}
                }
            }
        },
        "/documents/batch": {
            "post": {
                "summary": "Upload several documents; one bad file does not fail the batch",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"type": "file", "description": "documents", "name": "files", "in": "formData", "required": true}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/documents/{id}": {
            "get": {
                "summary": "Get a document with its backend refs and lock",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            },
            "delete": {
                "summary": "Delete a document from every backend",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"204": {"description": "No Content"}, "409": {"description": "document is locked"}}
            }
        },
        "/sync/status": {
            "get": {
                "summary": "Sync queue depth, failed items and backend health",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/vault/documents/{id}/lock": {
            "get": {
                "summary": "Lock and retention state of a document",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "summary": "Manually lock a document",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "locked by another actor or retention-locked"}}
            }
        },
        "/vault/documents/{id}/unlock": {
            "post": {
                "summary": "Unlock a document",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "retention period has not ended"}}
            }
        },
        "/vault/documents/{id}/verify": {
            "post": {
                "summary": "Verify a document with the external provider",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "422": {"description": "verification rejected"}}
            }
        },
        "/vault/transactions/{id}/lock-all": {
            "post": {
                "summary": "Lock every document of a transaction",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/vault/transactions/{id}/status": {
            "post": {
                "summary": "Report a transaction status change; funded applies retention",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Document Vault API",
	Description:      "Multi-backend document storage with lock and retention management.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
