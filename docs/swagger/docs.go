// Package swagger registers the OpenAPI document of the netsentry REST API
// with swag, so that the Swagger UI mounted under /swagger/ can serve it.
// Keep it in step with the routes in internal/api.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "netsentry",
            "url": "https://github.com/anstrom/netsentry"
        },
        "license": {
            "name": "MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Service health",
                "description": "Reports database reachability and the number of scans active in this process.",
                "operationId": "getHealth",
                "responses": {
                    "200": {"description": "Healthy", "schema": {"$ref": "#/definitions/HealthResponse"}},
                    "503": {"description": "A dependency is down", "schema": {"$ref": "#/definitions/HealthResponse"}}
                }
            }
        },
        "/liveness": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Process liveness",
                "operationId": "getLiveness",
                "responses": {
                    "200": {"description": "Alive", "schema": {"$ref": "#/definitions/LivenessResponse"}}
                }
            }
        },
        "/version": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Build information",
                "operationId": "getVersion",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/VersionResponse"}}
                }
            }
        },
        "/scans": {
            "get": {
                "produces": ["application/json"],
                "tags": ["scans"],
                "summary": "List scans",
                "description": "Returns scans newest first.",
                "operationId": "listScans",
                "parameters": [
                    {"type": "integer", "default": 1, "minimum": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"type": "integer", "default": 50, "maximum": 500, "description": "Items per page", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ScanListResponse"}},
                    "400": {"description": "Invalid pagination", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["scans"],
                "summary": "Start a scan",
                "description": "Validates the target, records a pending scan and launches it without waiting for the result.",
                "operationId": "createScan",
                "parameters": [
                    {"description": "Scan request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ScanRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/StartResult"}},
                    "400": {"description": "Invalid target or scan type", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "413": {"description": "Request body too large", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "415": {"description": "Content-Type is not JSON", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "503": {"description": "The scan was recorded but could not be started", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/scans/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["scans"],
                "summary": "Scan detail",
                "description": "Returns the scan with its hosts, port findings and vulnerabilities.",
                "operationId": "getScan",
                "parameters": [
                    {"type": "string", "format": "uuid", "description": "Scan ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ScanDetail"}},
                    "400": {"description": "Malformed scan ID", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "404": {"description": "Unknown scan", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/scans/{id}/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["scans"],
                "summary": "Scan status",
                "description": "Polling view with progress and severity counts.",
                "operationId": "getScanStatus",
                "parameters": [
                    {"type": "string", "format": "uuid", "description": "Scan ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ScanStatus"}},
                    "400": {"description": "Malformed scan ID", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "404": {"description": "Unknown scan", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/scans/{id}/cancel": {
            "post": {
                "produces": ["application/json"],
                "tags": ["scans"],
                "summary": "Cancel a scan",
                "description": "Flags a pending or running scan as cancelled. Hosts already in flight finish first.",
                "operationId": "cancelScan",
                "parameters": [
                    {"type": "string", "format": "uuid", "description": "Scan ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Cancelled", "schema": {"$ref": "#/definitions/ScanStatus"}},
                    "404": {"description": "Unknown scan", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "409": {"description": "The scan already finished", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "message": {"type": "string"},
                "code": {"type": "string"},
                "scan_id": {"type": "string", "format": "uuid"},
                "timestamp": {"type": "string", "format": "date-time"},
                "request_id": {"type": "string"}
            }
        },
        "HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["healthy", "unhealthy"]},
                "timestamp": {"type": "string", "format": "date-time"},
                "uptime": {"type": "string"},
                "active_scans": {"type": "integer"},
                "checks": {"type": "object", "additionalProperties": {"type": "string"}}
            }
        },
        "LivenessResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "timestamp": {"type": "string", "format": "date-time"},
                "uptime": {"type": "string"}
            }
        },
        "VersionResponse": {
            "type": "object",
            "properties": {
                "version": {"type": "string"},
                "commit": {"type": "string"},
                "build_time": {"type": "string"},
                "go_version": {"type": "string"},
                "pid": {"type": "integer"},
                "timestamp": {"type": "string", "format": "date-time"}
            }
        },
        "ScanRequest": {
            "type": "object",
            "required": ["target"],
            "properties": {
                "target": {"type": "string", "maxLength": 255, "example": "192.168.1.0/24"},
                "scan_type": {"type": "string", "enum": ["quick", "full"], "default": "quick"},
                "name": {"type": "string", "maxLength": 255}
            }
        },
        "StartResult": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "scan_id": {"type": "string", "format": "uuid"}
            }
        },
        "SeverityCounts": {
            "type": "object",
            "properties": {
                "critical": {"type": "integer"},
                "high": {"type": "integer"},
                "medium": {"type": "integer"},
                "low": {"type": "integer"},
                "info": {"type": "integer"}
            }
        },
        "ScanStatus": {
            "type": "object",
            "properties": {
                "scan_id": {"type": "string", "format": "uuid"},
                "status": {"type": "string", "enum": ["pending", "running", "completed", "failed", "cancelled"]},
                "progress": {"type": "integer", "minimum": 0, "maximum": 100},
                "estimated_progress": {"type": "integer"},
                "progress_message": {"type": "string"},
                "total_hosts": {"type": "integer"},
                "total_vulnerabilities": {"type": "integer"},
                "severity_counts": {"$ref": "#/definitions/SeverityCounts"},
                "error_message": {"type": "string"},
                "started_at": {"type": "string", "format": "date-time"},
                "completed_at": {"type": "string", "format": "date-time"}
            }
        },
        "Scan": {
            "type": "object",
            "properties": {
                "id": {"type": "string", "format": "uuid"},
                "name": {"type": "string"},
                "target": {"type": "string"},
                "scan_type": {"type": "string"},
                "status": {"type": "string"},
                "progress": {"type": "integer"},
                "progress_message": {"type": "string"},
                "total_targets": {"type": "integer"},
                "live_hosts": {"type": "integer"},
                "hosts_processed": {"type": "integer"},
                "total_hosts": {"type": "integer"},
                "total_vulnerabilities": {"type": "integer"},
                "critical_count": {"type": "integer"},
                "high_count": {"type": "integer"},
                "medium_count": {"type": "integer"},
                "low_count": {"type": "integer"},
                "info_count": {"type": "integer"},
                "error_message": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"},
                "started_at": {"type": "string", "format": "date-time"},
                "completed_at": {"type": "string", "format": "date-time"},
                "updated_at": {"type": "string", "format": "date-time"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "offset": {"type": "integer"}
            }
        },
        "ScanListResponse": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"$ref": "#/definitions/Scan"}},
                "pagination": {"$ref": "#/definitions/Pagination"}
            }
        },
        "PortFinding": {
            "type": "object",
            "properties": {
                "id": {"type": "string", "format": "uuid"},
                "host_id": {"type": "string", "format": "uuid"},
                "port": {"type": "integer"},
                "transport": {"type": "string", "enum": ["tcp", "udp"]},
                "state": {"type": "string", "enum": ["open", "closed", "filtered"]},
                "service": {"type": "string"},
                "product": {"type": "string"},
                "version": {"type": "string"},
                "banner": {"type": "string"},
                "tls_version": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"}
            }
        },
        "VulnerabilityFinding": {
            "type": "object",
            "properties": {
                "id": {"type": "string", "format": "uuid"},
                "scan_id": {"type": "string", "format": "uuid"},
                "host_id": {"type": "string", "format": "uuid"},
                "port": {"type": "integer"},
                "transport": {"type": "string"},
                "rule_id": {"type": "string"},
                "severity": {"type": "string", "enum": ["critical", "high", "medium", "low", "info"]},
                "title": {"type": "string"},
                "description": {"type": "string"},
                "service": {"type": "string"},
                "version": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"}
            }
        },
        "HostDetail": {
            "type": "object",
            "properties": {
                "id": {"type": "string", "format": "uuid"},
                "scan_id": {"type": "string", "format": "uuid"},
                "address": {"type": "string"},
                "alive": {"type": "boolean"},
                "open_port_count": {"type": "integer"},
                "last_seen": {"type": "string", "format": "date-time"},
                "error_message": {"type": "string"},
                "created_at": {"type": "string", "format": "date-time"},
                "ports": {"type": "array", "items": {"$ref": "#/definitions/PortFinding"}},
                "vulnerabilities": {"type": "array", "items": {"$ref": "#/definitions/VulnerabilityFinding"}}
            }
        },
        "ScanDetail": {
            "type": "object",
            "properties": {
                "scan": {"$ref": "#/definitions/Scan"},
                "hosts": {"type": "array", "items": {"$ref": "#/definitions/HostDetail"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "netsentry API",
	Description:      "Network reconnaissance and vulnerability scanning. Scans are accepted asynchronously and polled for status.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
