package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "HostelSync Transport API",
        "description": "Route catalog, seat booking and passenger manifests for hostel transport.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http", "https"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Bookings", "description": "Seat admission and booking lifecycle"},
        {"name": "Catalog", "description": "Routes, vehicles and schedules"},
        {"name": "Schedule Admin", "description": "Schedule administration and manifests"},
        {"name": "Authentication", "description": "Development token issuing"}
    ],
    "paths": {
        "/transport/bookings": {
            "post": {
                "tags": ["Bookings"],
                "summary": "Book a seat",
                "parameters": [
                    {"name": "Idempotency-Key", "in": "header", "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateBookingRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "VALIDATION_ERROR or INVALID_DATE", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "NOT_FOUND", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "SCHEDULE_INACTIVE, DUPLICATE_BOOKING, SCHEDULE_FULL or REQUEST_IN_PROGRESS", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "429": {"description": "RATE_LIMITED", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "STORAGE_TIMEOUT or STORAGE_UNAVAILABLE", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/transport/bookings/me": {
            "get": {
                "tags": ["Bookings"],
                "summary": "List my bookings",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/transport/bookings/{id}": {
            "delete": {
                "tags": ["Bookings"],
                "summary": "Cancel a booking",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "FORBIDDEN", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "NOT_FOUND", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "ALREADY_TERMINAL", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/transport/bookings/{id}/complete": {
            "post": {
                "tags": ["Bookings"],
                "summary": "Mark a booking completed",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "ALREADY_TERMINAL", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/transport/schedules/{id}/availability": {
            "get": {
                "tags": ["Bookings"],
                "summary": "Seats left on a schedule date",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "date", "in": "query", "required": true, "type": "string", "format": "date"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/transport/routes": {
            "get": {
                "tags": ["Catalog"],
                "summary": "List routes with active schedules",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/transport/vehicles": {
            "get": {
                "tags": ["Catalog"],
                "summary": "List vehicles",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/transport/schedules/{id}": {
            "get": {
                "tags": ["Catalog"],
                "summary": "Get schedule",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/transport/admin/schedules": {
            "post": {
                "tags": ["Schedule Admin"],
                "summary": "Create schedule",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateScheduleRequest"}}],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/transport/admin/schedules/{id}": {
            "patch": {
                "tags": ["Schedule Admin"],
                "summary": "Update schedule",
                "description": "Once bookings exist only isActive and maxCapacity may change.",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateScheduleRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "CONFLICT", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Schedule Admin"],
                "summary": "Deactivate schedule",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}],
                "responses": {"204": {"description": "No Content"}}
            }
        },
        "/transport/admin/schedules/{id}/manifest": {
            "get": {
                "tags": ["Schedule Admin"],
                "summary": "Download passenger manifest",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "date", "in": "query", "required": true, "type": "string", "format": "date"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {"200": {"description": "File", "schema": {"type": "file"}}}
            }
        },
        "/transport/admin/metrics": {
            "get": {
                "tags": ["Schedule Admin"],
                "summary": "Ledger metrics snapshot",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/auth/dev-token": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Issue a development access token",
                "security": [],
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/IssueTokenRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        }
    },
    "definitions": {
        "CreateBookingRequest": {
            "type": "object",
            "required": ["scheduleId", "bookingDate"],
            "properties": {
                "scheduleId": {"type": "integer"},
                "bookingDate": {"type": "string", "format": "date"}
            }
        },
        "CreateScheduleRequest": {
            "type": "object",
            "properties": {
                "routeId": {"type": "integer"},
                "vehicleId": {"type": "integer"},
                "day": {"type": "string", "enum": ["MONDAY", "TUESDAY", "WEDNESDAY", "THURSDAY", "FRIDAY", "SATURDAY", "SUNDAY"]},
                "startTime": {"type": "string", "example": "07:30"},
                "endTime": {"type": "string", "example": "08:10"},
                "startDate": {"type": "string", "format": "date"},
                "endDate": {"type": "string", "format": "date"},
                "maxCapacity": {"type": "integer", "minimum": 1},
                "price": {"type": "number", "minimum": 0},
                "isActive": {"type": "boolean"}
            }
        },
        "IssueTokenRequest": {
            "type": "object",
            "required": ["userId"],
            "properties": {
                "userId": {"type": "integer"},
                "role": {"type": "string"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
