package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Student Records API",
        "description": "Student record service; identity is delegated to the auth service per request.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Students", "description": "Student record lifecycle"}
    ],
    "paths": {
        "/students": {
            "get": {
                "tags": ["Students"],
                "summary": "List students",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "major", "in": "query", "type": "string"},
                    {"name": "level", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string", "description": "Defaults to ACTIVE"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized"}
                }
            },
            "post": {
                "tags": ["Students"],
                "summary": "Create student record (ADMIN)",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateStudentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error"},
                    "401": {"description": "Unauthorized"},
                    "403": {"description": "Forbidden"},
                    "409": {"description": "Duplicate record"}
                }
            }
        },
        "/students/search": {
            "get": {
                "tags": ["Students"],
                "summary": "Free-text student search",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "query", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/statistics": {
            "get": {
                "tags": ["Students"],
                "summary": "Aggregate student statistics",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/export": {
            "get": {
                "tags": ["Students"],
                "summary": "Export roster as CSV or PDF (ADMIN)",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "File download"}
                }
            }
        },
        "/students/user/{subjectId}": {
            "get": {
                "tags": ["Students"],
                "summary": "Get student by identity reference",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "subjectId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/students/{id}": {
            "get": {
                "tags": ["Students"],
                "summary": "Get student by id",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            },
            "put": {
                "tags": ["Students"],
                "summary": "Update student record (ADMIN)",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateStudentRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"},
                    "409": {"description": "Duplicate record"}
                }
            },
            "delete": {
                "tags": ["Students"],
                "summary": "Soft-delete student record (ADMIN)",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            }
        }
    },
    "definitions": {
        "CreateStudentRequest": {
            "type": "object",
            "required": ["first_name", "last_name", "date_of_birth", "email", "major", "level"],
            "properties": {
                "first_name": {"type": "string"},
                "last_name": {"type": "string"},
                "date_of_birth": {"type": "string", "format": "date-time"},
                "email": {"type": "string"},
                "phone": {"type": "string"},
                "street": {"type": "string"},
                "city": {"type": "string"},
                "zip_code": {"type": "string"},
                "country": {"type": "string"},
                "major": {"type": "string", "enum": ["Informatique", "Génie Logiciel", "Réseaux", "IA", "Cybersécurité"]},
                "level": {"type": "string", "enum": ["L1", "L2", "L3", "M1", "M2"]},
                "gpa": {"type": "number", "minimum": 0, "maximum": 20}
            }
        },
        "UpdateStudentRequest": {
            "type": "object",
            "properties": {
                "first_name": {"type": "string"},
                "last_name": {"type": "string"},
                "date_of_birth": {"type": "string", "format": "date-time"},
                "email": {"type": "string"},
                "phone": {"type": "string"},
                "street": {"type": "string"},
                "city": {"type": "string"},
                "zip_code": {"type": "string"},
                "country": {"type": "string"},
                "enrollment_date": {"type": "string", "format": "date-time"},
                "major": {"type": "string"},
                "level": {"type": "string"},
                "status": {"type": "string", "enum": ["ACTIVE", "SUSPENDED", "GRADUATED", "DROPPED"]},
                "gpa": {"type": "number", "minimum": 0, "maximum": 20}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "total": {"type": "integer"},
                "page": {"type": "integer"},
                "pages": {"type": "integer"},
                "limit": {"type": "integer"}
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
                "pagination": {"$ref": "#/definitions/Pagination"},
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
