// Package docs registers the OpenAPI document served by gin-swagger under
// /swagger. It follows the layout swag emits so that running
// `swag init -g cmd/server/main.go` can replace it; keep it in step with the
// handler annotations when routes change.
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
		"/chats": {
			"get": {
				"description": "Returns a page of the user's chats, most recently active first. Supports weak ETag via If-None-Match.",
				"produces": [
					"application/json"
				],
				"tags": [
					"Chats"
				],
				"summary": "List chats (paginated)",
				"operationId": "listChats",
				"parameters": [
					{
						"type": "string",
						"example": "user123",
						"description": "User ID",
						"name": "X-User-ID",
						"in": "header",
						"required": true
					},
					{
						"type": "string",
						"description": "Return 304 if ETag matches",
						"name": "If-None-Match",
						"in": "header"
					},
					{
						"enum": [
							"active",
							"closed"
						],
						"type": "string",
						"description": "Filter by status",
						"name": "status",
						"in": "query"
					},
					{
						"minimum": 1,
						"type": "integer",
						"default": 1,
						"description": "Page number",
						"name": "page",
						"in": "query"
					},
					{
						"maximum": 100,
						"minimum": 1,
						"type": "integer",
						"default": 20,
						"description": "Items per page",
						"name": "page_size",
						"in": "query"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/handlers.ListChatsResponse"
						},
						"headers": {
							"ETag": {
								"type": "string",
								"description": "Weak ETag for current result"
							}
						}
					},
					"304": {
						"description": "Not Modified",
						"schema": {
							"type": "string"
						}
					},
					"400": {
						"description": "Bad request",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					},
					"500": {
						"description": "Internal error",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					}
				}
			},
			"post": {
				"description": "Creates a chat for the current user, registering the user on first use.",
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"Chats"
				],
				"summary": "Create a new chat",
				"operationId": "createChat",
				"parameters": [
					{
						"type": "string",
						"example": "user123",
						"description": "User ID",
						"name": "X-User-ID",
						"in": "header",
						"required": true
					},
					{
						"description": "Create chat payload",
						"name": "body",
						"in": "body",
						"schema": {
							"$ref": "#/definitions/handlers.CreateChatRequest"
						}
					}
				],
				"responses": {
					"201": {
						"description": "Created",
						"schema": {
							"$ref": "#/definitions/domain.Chat"
						}
					},
					"400": {
						"description": "Bad request",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					},
					"401": {
						"description": "Missing user",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					},
					"500": {
						"description": "Internal error",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					}
				}
			}
		},
		"/chats/{id}": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"Chats"
				],
				"summary": "Fetch a chat",
				"operationId": "getChat",
				"parameters": [
					{
						"type": "string",
						"example": "user123",
						"description": "User ID",
						"name": "X-User-ID",
						"in": "header",
						"required": true
					},
					{
						"type": "string",
						"format": "uuid",
						"description": "Chat ID (UUID)",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/domain.Chat"
						}
					},
					"400": {
						"description": "Bad request",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					},
					"404": {
						"description": "Chat not found",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					}
				}
			},
			"delete": {
				"tags": [
					"Chats"
				],
				"summary": "Delete a chat and its messages",
				"operationId": "deleteChat",
				"parameters": [
					{
						"type": "string",
						"example": "user123",
						"description": "User ID",
						"name": "X-User-ID",
						"in": "header",
						"required": true
					},
					{
						"type": "string",
						"format": "uuid",
						"description": "Chat ID (UUID)",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"204": {
						"description": "No Content",
						"schema": {
							"type": "string"
						}
					},
					"404": {
						"description": "Chat not found",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					}
				}
			}
		},
		"/chats/{id}/title": {
			"put": {
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"Chats"
				],
				"summary": "Rename a chat",
				"operationId": "updateChatTitle",
				"parameters": [
					{
						"type": "string",
						"example": "user123",
						"description": "User ID",
						"name": "X-User-ID",
						"in": "header",
						"required": true
					},
					{
						"type": "string",
						"format": "uuid",
						"description": "Chat ID (UUID)",
						"name": "id",
						"in": "path",
						"required": true
					},
					{
						"description": "New title",
						"name": "body",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/handlers.UpdateChatTitleRequest"
						}
					}
				],
				"responses": {
					"204": {
						"description": "No Content",
						"schema": {
							"type": "string"
						}
					},
					"400": {
						"description": "Bad request",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					},
					"404": {
						"description": "Chat not found",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					}
				}
			}
		},
		"/chats/{id}/close": {
			"post": {
				"description": "Closed chats keep their history but reject new messages.",
				"produces": [
					"application/json"
				],
				"tags": [
					"Chats"
				],
				"summary": "Close a chat",
				"operationId": "closeChat",
				"parameters": [
					{
						"type": "string",
						"example": "user123",
						"description": "User ID",
						"name": "X-User-ID",
						"in": "header",
						"required": true
					},
					{
						"type": "string",
						"format": "uuid",
						"description": "Chat ID (UUID)",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/domain.Chat"
						}
					},
					"404": {
						"description": "Chat not found",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					}
				}
			}
		},
		"/chats/{id}/messages": {
			"get": {
				"description": "Returns a page of the chat history in chronological order. Supports weak ETag via If-None-Match.",
				"produces": [
					"application/json"
				],
				"tags": [
					"Messages"
				],
				"summary": "List messages in a chat",
				"operationId": "listMessages",
				"parameters": [
					{
						"type": "string",
						"example": "user123",
						"description": "User ID",
						"name": "X-User-ID",
						"in": "header",
						"required": true
					},
					{
						"type": "string",
						"format": "uuid",
						"description": "Chat ID (UUID)",
						"name": "id",
						"in": "path",
						"required": true
					},
					{
						"minimum": 1,
						"type": "integer",
						"default": 1,
						"description": "Page number",
						"name": "page",
						"in": "query"
					},
					{
						"maximum": 100,
						"minimum": 1,
						"type": "integer",
						"default": 20,
						"description": "Items per page",
						"name": "page_size",
						"in": "query"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/handlers.ListMessagesResponse"
						}
					},
					"304": {
						"description": "Not Modified",
						"schema": {
							"type": "string"
						}
					},
					"400": {
						"description": "Bad request",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					},
					"404": {
						"description": "Chat not found",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					}
				}
			},
			"post": {
				"description": "Stores the user message and schedules the bot reply. The reply\nis delivered as a response.ready event on the chat channel.",
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"Messages"
				],
				"summary": "Send a message",
				"operationId": "postMessage",
				"parameters": [
					{
						"type": "string",
						"example": "user123",
						"description": "User ID that owns the chat",
						"name": "X-User-ID",
						"in": "header",
						"required": true
					},
					{
						"type": "string",
						"description": "Idempotency key for safe retries",
						"name": "Idempotency-Key",
						"in": "header"
					},
					{
						"type": "string",
						"format": "uuid",
						"description": "Chat ID (UUID)",
						"name": "id",
						"in": "path",
						"required": true
					},
					{
						"description": "User message payload",
						"name": "body",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/handlers.PostMessageRequest"
						}
					}
				],
				"responses": {
					"202": {
						"description": "Accepted, reply pending",
						"schema": {
							"$ref": "#/definitions/handlers.PostMessageResponse"
						}
					},
					"400": {
						"description": "Bad request",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					},
					"404": {
						"description": "Chat not found",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					},
					"409": {
						"description": "Chat closed",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					},
					"500": {
						"description": "Internal error",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					}
				}
			}
		},
		"/messages/search": {
			"get": {
				"description": "Case-insensitive substring search over the user's messages, newest first.",
				"produces": [
					"application/json"
				],
				"tags": [
					"Messages"
				],
				"summary": "Search messages",
				"operationId": "searchMessages",
				"parameters": [
					{
						"type": "string",
						"example": "user123",
						"description": "User ID",
						"name": "X-User-ID",
						"in": "header",
						"required": true
					},
					{
						"type": "string",
						"description": "Text to look for",
						"name": "q",
						"in": "query",
						"required": true
					},
					{
						"type": "string",
						"format": "uuid",
						"description": "Restrict to one chat",
						"name": "chat_id",
						"in": "query"
					},
					{
						"enum": [
							"user",
							"bot"
						],
						"type": "string",
						"description": "Restrict to a sender",
						"name": "sender",
						"in": "query"
					},
					{
						"minimum": 1,
						"type": "integer",
						"default": 1,
						"description": "Page number",
						"name": "page",
						"in": "query"
					},
					{
						"maximum": 100,
						"minimum": 1,
						"type": "integer",
						"default": 20,
						"description": "Items per page",
						"name": "page_size",
						"in": "query"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/handlers.ListMessagesResponse"
						}
					},
					"400": {
						"description": "Bad request",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					}
				}
			}
		},
		"/messages/{id}": {
			"delete": {
				"tags": [
					"Messages"
				],
				"summary": "Soft-delete a message",
				"operationId": "deleteMessage",
				"parameters": [
					{
						"type": "string",
						"example": "user123",
						"description": "User ID",
						"name": "X-User-ID",
						"in": "header",
						"required": true
					},
					{
						"type": "string",
						"format": "uuid",
						"description": "Message ID (UUID)",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"204": {
						"description": "No Content",
						"schema": {
							"type": "string"
						}
					},
					"404": {
						"description": "Message not found",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					}
				}
			}
		},
		"/messages/{id}/restore": {
			"post": {
				"produces": [
					"application/json"
				],
				"tags": [
					"Messages"
				],
				"summary": "Restore a soft-deleted message",
				"operationId": "restoreMessage",
				"parameters": [
					{
						"type": "string",
						"example": "user123",
						"description": "User ID",
						"name": "X-User-ID",
						"in": "header",
						"required": true
					},
					{
						"type": "string",
						"format": "uuid",
						"description": "Message ID (UUID)",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/domain.Message"
						}
					},
					"404": {
						"description": "Message not found",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					}
				}
			}
		}
	},
	"definitions": {
		"domain.Chat": {
			"type": "object",
			"properties": {
				"id": {
					"type": "string"
				},
				"user_id": {
					"type": "string"
				},
				"title": {
					"type": "string"
				},
				"status": {
					"type": "string",
					"enum": [
						"active",
						"closed"
					]
				},
				"last_message_at": {
					"type": "string"
				},
				"created_at": {
					"type": "string"
				},
				"updated_at": {
					"type": "string"
				}
			}
		},
		"domain.Message": {
			"type": "object",
			"properties": {
				"id": {
					"type": "string"
				},
				"chat_id": {
					"type": "string"
				},
				"sender": {
					"type": "string",
					"enum": [
						"user",
						"bot"
					]
				},
				"content": {
					"type": "string"
				},
				"created_at": {
					"type": "string"
				}
			}
		},
		"handlers.CreateChatRequest": {
			"type": "object",
			"properties": {
				"title": {
					"description": "Title optionally sets the chat title; a placeholder is used when empty\nand replaced by the first message.",
					"type": "string",
					"example": "Weekend trip"
				}
			}
		},
		"handlers.UpdateChatTitleRequest": {
			"type": "object",
			"required": [
				"title"
			],
			"properties": {
				"title": {
					"type": "string",
					"maxLength": 255,
					"minLength": 1,
					"example": "Weather in Madrid"
				}
			}
		},
		"handlers.PostMessageRequest": {
			"type": "object",
			"required": [
				"content"
			],
			"properties": {
				"content": {
					"description": "Content is the user text (1–1000 characters after trimming).",
					"type": "string",
					"example": "What's the weather in Madrid tomorrow?"
				}
			}
		},
		"handlers.PostMessageResponse": {
			"type": "object",
			"properties": {
				"status": {
					"description": "Status is always \"processing\": the reply is delivered on the chat channel.",
					"type": "string",
					"example": "processing"
				},
				"user_message": {
					"description": "UserMessage is the stored user message.",
					"allOf": [
						{
							"$ref": "#/definitions/domain.Message"
						}
					]
				}
			}
		},
		"handlers.Pagination": {
			"type": "object",
			"properties": {
				"has_next": {
					"type": "boolean"
				},
				"page": {
					"type": "integer"
				},
				"page_size": {
					"type": "integer"
				},
				"total": {
					"type": "integer"
				},
				"total_pages": {
					"type": "integer"
				}
			}
		},
		"handlers.ListChatsResponse": {
			"type": "object",
			"properties": {
				"chats": {
					"type": "array",
					"items": {
						"$ref": "#/definitions/domain.Chat"
					}
				},
				"pagination": {
					"$ref": "#/definitions/handlers.Pagination"
				}
			}
		},
		"handlers.ListMessagesResponse": {
			"type": "object",
			"properties": {
				"messages": {
					"type": "array",
					"items": {
						"$ref": "#/definitions/domain.Message"
					}
				},
				"pagination": {
					"$ref": "#/definitions/handlers.Pagination"
				}
			}
		},
		"handlers.ErrorResponse": {
			"type": "object",
			"properties": {
				"code": {
					"description": "Stable, machine-readable code (see errors.go constants)",
					"type": "string",
					"example": "not_found"
				},
				"message": {
					"description": "Human-readable message (safe to show to users)",
					"type": "string",
					"example": "chat not found"
				},
				"request_id": {
					"description": "Correlates server logs and client errors",
					"type": "string",
					"example": "123e4567-e89b-12d3-a456-426614174000"
				}
			}
		}
	},
	"securityDefinitions": {
		"UserID": {
			"type": "apiKey",
			"name": "X-User-ID",
			"in": "header"
		}
	}
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Chatbot Backend API",
	Description:      "Chats with a weather-aware assistant. Replies are produced asynchronously and pushed over /ws/chats/{id}.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
