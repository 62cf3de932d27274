// Package docs registers the OpenAPI description served under /swagger.
// It is kept in step with the handler annotations by hand in a condensed
// form; `swag init -g cmd/clubtix/main.go` regenerates the full document.
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
        "/api/v1/events": {
            "get": {"summary": "List events", "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}},
            "post": {"security": [{"BearerAuth": []}], "summary": "Create event", "responses": {"201": {"description": "Created"}, "409": {"description": "slug taken"}}}
        },
        "/api/v1/events/{id}": {
            "get": {"summary": "Get event by id or slug", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}},
            "patch": {"security": [{"BearerAuth": []}], "summary": "Update event", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "409": {"description": "mode locked / slug taken / capacity below active tickets"}}},
            "delete": {"security": [{"BearerAuth": []}], "summary": "Delete event with its tickets", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"204": {"description": "No Content"}}}
        },
        "/api/v1/events/{id}/public": {
            "get": {"summary": "Get event by id or slug", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/events/{id}/register": {
            "post": {"summary": "Register for an event (idempotent)", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}, {"type": "string", "name": "Idempotency-Key", "in": "header"}], "responses": {"201": {"description": "Created"}, "400": {"description": "RegistrationNotOpen / UseExternalRegistration"}, "403": {"description": "members only"}, "409": {"description": "DuplicateAttendee / EventFull"}, "429": {"description": "rate limited"}}}
        },
        "/api/v1/events/{id}/images": {
            "post": {"security": [{"BearerAuth": []}], "consumes": ["multipart/form-data"], "summary": "Upload event image", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}, {"type": "file", "name": "image", "in": "formData", "required": true}], "responses": {"201": {"description": "Created"}, "413": {"description": "Request Entity Too Large"}}}
        },
        "/api/v1/events/{id}/images/{mediaId}": {
            "delete": {"security": [{"BearerAuth": []}], "summary": "Remove event image", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}, {"type": "string", "name": "mediaId", "in": "path", "required": true}], "responses": {"204": {"description": "No Content"}}}
        },
        "/api/v1/events/{id}/stats": {
            "get": {"security": [{"BearerAuth": []}], "summary": "Ticket statistics of an event", "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/tickets": {
            "get": {"security": [{"BearerAuth": []}], "summary": "List tickets of an event", "parameters": [{"type": "string", "name": "eventId", "in": "query", "required": true}], "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/tickets/check-availability": {
            "post": {"summary": "Check whether an email or student id is still free for an event", "responses": {"200": {"description": "OK"}, "400": {"description": "invalid eventId"}, "409": {"description": "DuplicateAttendee"}}}
        },
        "/api/v1/tickets/{code}": {
            "get": {"summary": "Get ticket", "parameters": [{"type": "string", "name": "code", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}},
            "patch": {"security": [{"BearerAuth": []}], "summary": "Change ticket status", "parameters": [{"type": "string", "name": "code", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "409": {"description": "invalid transition"}}},
            "delete": {"security": [{"BearerAuth": []}], "summary": "Delete ticket", "parameters": [{"type": "string", "name": "code", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/tickets/{code}/resend": {
            "post": {"security": [{"BearerAuth": []}], "summary": "Queue the confirmation email again", "parameters": [{"type": "string", "name": "code", "in": "path", "required": true}], "responses": {"202": {"description": "Accepted"}, "409": {"description": "ticket cancelled"}}}
        },
        "/healthz": {"get": {"summary": "Liveness probe", "responses": {"200": {"description": "OK"}}}},
        "/readyz": {"get": {"summary": "Readiness probe", "responses": {"200": {"description": "OK"}, "503": {"description": "Service Unavailable"}}}}
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "ClubTix API",
	Description:      "Event registration and ticketing for a college club.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
