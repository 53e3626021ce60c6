//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// SwaggerInfo is the registered API description. Version and Host may be
// set before the first request.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "captiond API",
	Description:      "Image captioning sidecar: model lifecycle, caption generation and accelerator status.",
	InfoInstanceName: swag.Name,
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

// MountSwagger serves the UI and doc.json under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}

// SwaggerEnabled reports whether /swagger/* is served.
func SwaggerEnabled() bool { return true }

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "{{.Title}}",
        "description": "{{escape .Description}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "schemes": {{ marshal .Schemes }},
    "paths": {
        "/predict": {
            "post": {
                "tags": ["caption"],
                "summary": "Caption an image",
                "consumes": ["multipart/form-data", "application/json", "application/x-www-form-urlencoded"],
                "produces": ["application/json"],
                "parameters": [
                    {"name": "image", "in": "formData", "type": "file"},
                    {"name": "image_path", "in": "formData", "type": "string"},
                    {"name": "device", "in": "formData", "type": "string", "enum": ["gpu", "cpu"]},
                    {"name": "quant", "in": "formData", "type": "string", "enum": ["int8", "nf4", "bf16"]},
                    {"name": "image_side", "in": "formData", "type": "integer"},
                    {"name": "max_tokens", "in": "formData", "type": "integer"},
                    {"name": "temperature", "in": "formData", "type": "number"},
                    {"name": "top_p", "in": "formData", "type": "number"},
                    {"name": "prompt", "in": "formData", "type": "string"},
                    {"name": "write_txt", "in": "formData", "type": "boolean"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/PredictResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/load": {
            "post": {
                "tags": ["model"],
                "summary": "Load a model configuration",
                "parameters": [
                    {"name": "device", "in": "formData", "type": "string"},
                    {"name": "quant", "in": "formData", "type": "string"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/LoadResponse"}}}
            }
        },
        "/unload": {"post": {"tags": ["model"], "summary": "Unload the model", "responses": {"200": {"description": "OK"}}}},
        "/teardown": {"post": {"tags": ["model"], "summary": "Unload and release the accelerator context", "responses": {"200": {"description": "OK"}}}},
        "/health": {"get": {"tags": ["status"], "summary": "Model status", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/HealthResponse"}}}}},
        "/gpu": {"get": {"tags": ["status"], "summary": "Accelerator telemetry", "responses": {"200": {"description": "OK"}}}},
        "/events": {"get": {"tags": ["status"], "summary": "Recent model lifecycle events", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/EventsResponse"}}}}}
    },
    "definitions": {
        "EventsResponse": {
            "type": "object",
            "properties": {
                "events": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "name": {"type": "string", "example": "load_ready"},
                            "model_id": {"type": "string"},
                            "fields": {"type": "object"},
                            "at_unix_ms": {"type": "integer"}
                        }
                    }
                }
            }
        },
        "PredictResponse": {
            "type": "object",
            "properties": {
                "ok": {"type": "boolean"},
                "text": {"type": "string"},
                "txt_path": {"type": "string"},
                "warn": {"type": "string"},
                "request_id": {"type": "string"}
            }
        },
        "LoadResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "message": {"type": "string"},
                "loaded": {"type": "boolean"},
                "config": {"type": "array", "items": {"type": "string"}},
                "code": {"type": "string"}
            }
        },
        "HealthResponse": {
            "type": "object",
            "properties": {
                "loaded": {"type": "boolean"},
                "config": {"type": "array", "items": {"type": "string"}},
                "compute_dtype": {"type": "string"},
                "model_id": {"type": "string"}
            }
        },
        "ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"}
            }
        }
    }
}`
