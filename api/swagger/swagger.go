package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Teacher Activity API",
        "description": "Approval-gated teacher activity tracking: daily time-slot ledgers, unit lifecycle, review queue, subject transfers",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Ledgers", "description": "Per-teacher daily time-slot ledgers"},
        {"name": "Units", "description": "Curriculum unit lifecycle"},
        {"name": "Approvals", "description": "Generic review queue"},
        {"name": "Assignments", "description": "Two-stage subject transfers"},
        {"name": "Reports", "description": "Monthly ledger exports"}
    ],
    "paths": {
        "/teachers/{teacherId}/ledgers/{date}": {
            "get": {
                "tags": ["Ledgers"],
                "summary": "Get a teacher's daily ledger",
                "parameters": [
                    {"name": "teacherId", "in": "path", "type": "string", "required": true},
                    {"name": "date", "in": "path", "type": "string", "required": true, "description": "YYYY-MM-DD"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/teachers/{teacherId}/ledgers/{date}/slots/{slotId}": {
            "delete": {
                "tags": ["Ledgers"],
                "summary": "Deselect a credited slot immediately",
                "parameters": [
                    {"name": "teacherId", "in": "path", "type": "string", "required": true},
                    {"name": "date", "in": "path", "type": "string", "required": true},
                    {"name": "slotId", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "No action needed or unknown slot"}
                }
            }
        },
        "/teachers/{teacherId}/ledgers/{date}/break": {
            "delete": {
                "tags": ["Ledgers"],
                "summary": "Remove the break window immediately",
                "parameters": [
                    {"name": "teacherId", "in": "path", "type": "string", "required": true},
                    {"name": "date", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/teachers/{teacherId}/ledgers/{date}/schedule": {
            "put": {
                "tags": ["Ledgers"],
                "summary": "Import the supervisor timetable overlay",
                "parameters": [
                    {"name": "teacherId", "in": "path", "type": "string", "required": true},
                    {"name": "date", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ImportScheduleRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/units/{unitId}/start": {
            "post": {
                "tags": ["Units"],
                "summary": "Start a curriculum unit",
                "parameters": [
                    {"name": "unitId", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Another unit of the same subject is in progress"}
                }
            }
        },
        "/units/{unitId}/complete": {
            "post": {
                "tags": ["Units"],
                "summary": "Complete an in-progress unit",
                "parameters": [
                    {"name": "unitId", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Unit is not in progress"}
                }
            }
        },
        "/unit-logs": {
            "get": {
                "tags": ["Units"],
                "summary": "List unit logs",
                "parameters": [
                    {"name": "teacher_id", "in": "query", "type": "string"},
                    {"name": "subject_id", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "offset", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/approvals": {
            "get": {
                "tags": ["Approvals"],
                "summary": "List approval requests",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string", "description": "Comma separated statuses"},
                    {"name": "type", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "offset", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Approvals"],
                "summary": "Submit an action for review",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitApprovalRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "200": {"description": "An identical request was already pending"}
                }
            }
        },
        "/approvals/{id}": {
            "get": {
                "tags": ["Approvals"],
                "summary": "Get approval request detail",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/approvals/{id}/cancel": {
            "post": {
                "tags": ["Approvals"],
                "summary": "Cancel a pending request",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/approvals/{id}/decision": {
            "post": {
                "tags": ["Approvals"],
                "summary": "Approve or reject a pending request",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DecideApprovalRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Request already decided"}
                }
            }
        },
        "/assignments": {
            "get": {
                "tags": ["Assignments"],
                "summary": "List subject transfers",
                "parameters": [
                    {"name": "subject_id", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Assignments"],
                "summary": "Request a subject transfer",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateAssignmentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "A transfer for this subject is already in flight"}
                }
            }
        },
        "/assignments/{id}": {
            "get": {
                "tags": ["Assignments"],
                "summary": "Get subject transfer detail",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/assignments/{id}/admin-decision": {
            "post": {
                "tags": ["Assignments"],
                "summary": "Record the admin-stage transfer decision",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AssignmentDecisionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/assignments/{id}/recipient-decision": {
            "post": {
                "tags": ["Assignments"],
                "summary": "Record the recipient-stage transfer decision",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AssignmentDecisionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/teachers/{teacherId}/reports/ledger": {
            "get": {
                "tags": ["Reports"],
                "summary": "Export a teacher's monthly ledger",
                "parameters": [
                    {"name": "teacherId", "in": "path", "type": "string", "required": true},
                    {"name": "month", "in": "query", "type": "string", "required": true, "description": "YYYY-MM"},
                    {"name": "format", "in": "query", "type": "string", "description": "csv or pdf"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/download": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download an exported report via signed token",
                "parameters": [
                    {"name": "token", "in": "query", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "File stream"},
                    "403": {"description": "Invalid or expired token"}
                }
            }
        }
    },
    "definitions": {
        "SubmitApprovalRequest": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "enum": ["UNIT_START", "UNIT_COMPLETE", "TIME_SLOT", "BREAK_TIMING", "SUBJECT_ASSIGN"]},
                "payload": {"type": "object"}
            },
            "required": ["type", "payload"]
        },
        "DecideApprovalRequest": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["APPROVED", "REJECTED"]},
                "reason": {"type": "string"}
            },
            "required": ["status"]
        },
        "CreateAssignmentRequest": {
            "type": "object",
            "properties": {
                "subject_id": {"type": "string"},
                "to_teacher_id": {"type": "string"},
                "from_teacher_id": {"type": "string"},
                "reason": {"type": "string"},
                "unit_ids": {"type": "array", "items": {"type": "string"}}
            },
            "required": ["subject_id", "to_teacher_id", "reason"]
        },
        "AssignmentDecisionRequest": {
            "type": "object",
            "properties": {
                "approve": {"type": "boolean"},
                "reason": {"type": "string"}
            },
            "required": ["approve"]
        },
        "ImportScheduleRequest": {
            "type": "object",
            "properties": {
                "scheduled_slot_ids": {"type": "array", "items": {"type": "string"}},
                "entries": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/ScheduleEntry"}
                }
            }
        },
        "ScheduleEntry": {
            "type": "object",
            "properties": {
                "subject_name": {"type": "string"},
                "batch": {"type": "string"},
                "slot_ids": {"type": "array", "items": {"type": "string"}}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
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
