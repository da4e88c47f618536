// Package docs holds the OpenAPI description served at /swagger.
// Regenerate with: swag init -g cmd/server/main.go
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/properties/{propertyId}/availability": {
            "get": {
                "tags": ["availability"],
                "summary": "Check availability",
                "parameters": [
                    {"type": "string", "name": "propertyId", "in": "path", "required": true},
                    {"type": "string", "name": "checkIn", "in": "query", "required": true},
                    {"type": "string", "name": "checkOut", "in": "query", "required": true}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
            }
        },
        "/purchases": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["purchases"],
                "summary": "Open a purchase",
                "parameters": [
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/services.OpenPurchaseRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/services.OpenPurchaseResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/purchases/{transactionLogId}/booking": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["purchases"],
                "summary": "Await booking",
                "parameters": [{"type": "string", "name": "transactionLogId", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.AwaitResult"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/bookings/{bookingId}/cancellation-quote": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["bookings"],
                "summary": "Quote a cancellation",
                "parameters": [{"type": "string", "name": "bookingId", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}
            }
        },
        "/bookings/{bookingId}/cancel": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["bookings"],
                "summary": "Cancel a booking",
                "parameters": [{"type": "string", "name": "bookingId", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}
            }
        },
        "/bookings/{bookingId}/qr": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["image/png", "application/json"],
                "tags": ["bookings"],
                "summary": "Check-in QR code",
                "parameters": [{"type": "string", "name": "bookingId", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "503": {"description": "Service Unavailable"}}
            }
        },
        "/bookings/check-in": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["bookings"],
                "summary": "Redeem check-in",
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
            }
        },
        "/wallets/me": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["wallets"],
                "summary": "Get my wallet",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/wallets/me/transactions": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["wallets"],
                "summary": "List my wallet transactions",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/webhooks/{provider}": {
            "post": {
                "tags": ["webhooks"],
                "summary": "Payment gateway webhook",
                "parameters": [{"type": "string", "enum": ["card", "regional"], "name": "provider", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.ReconcileResult"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "services.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "details": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "services.OpenPurchaseRequest": {
            "type": "object",
            "required": ["gateway", "kind"],
            "properties": {
                "gateway": {"type": "string", "enum": ["card", "regional"]},
                "kind": {"type": "string", "enum": ["property", "event"]},
                "propertyId": {"type": "string"},
                "checkIn": {"type": "string"},
                "checkOut": {"type": "string"},
                "adults": {"type": "integer"},
                "children": {"type": "integer"},
                "infants": {"type": "integer"},
                "eventId": {"type": "string"},
                "tickets": {"type": "integer"}
            }
        },
        "services.OpenPurchaseResult": {
            "type": "object",
            "properties": {
                "transactionLogId": {"type": "string"},
                "amountMinor": {"type": "integer"},
                "currency": {"type": "string"},
                "intent": {"type": "object"}
            }
        },
        "services.AwaitResult": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["confirmed", "processing", "pending", "failed"]},
                "booking": {"type": "object"},
                "bookingEvent": {"type": "object"},
                "reason": {"type": "string"}
            }
        },
        "services.ReconcileResult": {
            "type": "object",
            "properties": {
                "transactionLogId": {"type": "string"},
                "status": {"type": "string"},
                "replay": {"type": "boolean"},
                "materialized": {"type": "boolean"},
                "bookingId": {"type": "string"},
                "materializationError": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Staybook Settlement API",
	Description:      "Purchase, payment reconciliation, cancellation and payout API for stays and event tickets",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
