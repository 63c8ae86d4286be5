// Package docs holds the OpenAPI description served under /swagger. It
// mirrors the handler annotations; swag init regenerates it.
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
		"/authorizations": {
			"post": {
				"description": "Suspends the intent and opens a phone verification challenge for it. An open challenge of the same session is discarded.",
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"authorization"
				],
				"summary": "Open a step-up challenge",
				"parameters": [
					{
						"type": "string",
						"description": "Client session",
						"name": "X-Session-ID",
						"in": "header",
						"required": true
					},
					{
						"description": "Intent to authorize",
						"name": "data",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/models.AuthorizationRequest"
						}
					}
				],
				"responses": {
					"201": {
						"description": "Created",
						"schema": {
							"$ref": "#/definitions/handlers.ChallengeResponse"
						}
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					},
					"404": {
						"description": "Patient not found",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					}
				}
			}
		},
		"/authorizations/current": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"authorization"
				],
				"summary": "Current challenge",
				"parameters": [
					{
						"type": "string",
						"description": "Client session",
						"name": "X-Session-ID",
						"in": "header",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/handlers.ChallengeResponse"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					}
				}
			},
			"delete": {
				"description": "Discards the challenge and its intent. Cancelling a finished challenge is a no-op.",
				"produces": [
					"application/json"
				],
				"tags": [
					"authorization"
				],
				"summary": "Cancel the challenge",
				"parameters": [
					{
						"type": "string",
						"description": "Client session",
						"name": "X-Session-ID",
						"in": "header",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/handlers.ChallengeResponse"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					}
				}
			}
		},
		"/authorizations/current/back": {
			"post": {
				"produces": [
					"application/json"
				],
				"tags": [
					"authorization"
				],
				"summary": "Return to phone entry",
				"parameters": [
					{
						"type": "string",
						"description": "Client session",
						"name": "X-Session-ID",
						"in": "header",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/handlers.ChallengeResponse"
						}
					}
				}
			}
		},
		"/authorizations/current/digits/{index}": {
			"put": {
				"description": "An empty value clears the slot.",
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"authorization"
				],
				"summary": "Edit one code digit",
				"parameters": [
					{
						"type": "string",
						"description": "Client session",
						"name": "X-Session-ID",
						"in": "header",
						"required": true
					},
					{
						"type": "integer",
						"description": "Slot index, 0 to 3",
						"name": "index",
						"in": "path",
						"required": true
					},
					{
						"description": "Digit",
						"name": "data",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/models.DigitRequest"
						}
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/handlers.ChallengeResponse"
						}
					},
					"422": {
						"description": "Unprocessable Entity",
						"schema": {
							"$ref": "#/definitions/handlers.ChallengeResponse"
						}
					}
				}
			}
		},
		"/authorizations/current/paste": {
			"post": {
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"authorization"
				],
				"summary": "Paste a code",
				"parameters": [
					{
						"type": "string",
						"description": "Client session",
						"name": "X-Session-ID",
						"in": "header",
						"required": true
					},
					{
						"description": "Pasted text",
						"name": "data",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/models.PasteRequest"
						}
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/handlers.ChallengeResponse"
						}
					},
					"422": {
						"description": "Unprocessable Entity",
						"schema": {
							"$ref": "#/definitions/handlers.ChallengeResponse"
						}
					}
				}
			}
		},
		"/authorizations/current/phone": {
			"put": {
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"authorization"
				],
				"summary": "Set the phone number of the challenge",
				"parameters": [
					{
						"type": "string",
						"description": "Client session",
						"name": "X-Session-ID",
						"in": "header",
						"required": true
					},
					{
						"description": "Phone number",
						"name": "data",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/models.PhoneRequest"
						}
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/handlers.ChallengeResponse"
						}
					},
					"422": {
						"description": "Unprocessable Entity",
						"schema": {
							"$ref": "#/definitions/handlers.ChallengeResponse"
						}
					}
				}
			}
		},
		"/authorizations/current/resend": {
			"post": {
				"produces": [
					"application/json"
				],
				"tags": [
					"authorization"
				],
				"summary": "Resend the code once the cooldown is over",
				"parameters": [
					{
						"type": "string",
						"description": "Client session",
						"name": "X-Session-ID",
						"in": "header",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/handlers.ChallengeResponse"
						}
					},
					"422": {
						"description": "Cooldown active",
						"schema": {
							"$ref": "#/definitions/handlers.ChallengeResponse"
						}
					}
				}
			}
		},
		"/authorizations/current/send": {
			"post": {
				"description": "Validates the phone number and asks the OTP service to text a code. A refused send is reported in last_error.",
				"produces": [
					"application/json"
				],
				"tags": [
					"authorization"
				],
				"summary": "Send the one-time code",
				"parameters": [
					{
						"type": "string",
						"description": "Client session",
						"name": "X-Session-ID",
						"in": "header",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/handlers.ChallengeResponse"
						}
					},
					"422": {
						"description": "Invalid phone or wrong step",
						"schema": {
							"$ref": "#/definitions/handlers.ChallengeResponse"
						}
					}
				}
			}
		},
		"/authorizations/current/verify": {
			"post": {
				"description": "On success the suspended intent runs and its result is returned in the snapshot.",
				"produces": [
					"application/json"
				],
				"tags": [
					"authorization"
				],
				"summary": "Verify the entered code",
				"parameters": [
					{
						"type": "string",
						"description": "Client session",
						"name": "X-Session-ID",
						"in": "header",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"$ref": "#/definitions/handlers.ChallengeResponse"
						}
					},
					"422": {
						"description": "Incomplete code or wrong step",
						"schema": {
							"$ref": "#/definitions/handlers.ChallengeResponse"
						}
					}
				}
			}
		},
		"/health": {
			"get": {
				"description": "Checks the API and its dependencies (MongoDB, Redis).",
				"produces": [
					"application/json"
				],
				"tags": [
					"health"
				],
				"summary": "Health check",
				"responses": {
					"200": {
						"description": "Healthy or degraded",
						"schema": {
							"$ref": "#/definitions/handlers.HealthResponse"
						}
					},
					"503": {
						"description": "A critical dependency is down",
						"schema": {
							"$ref": "#/definitions/handlers.HealthResponse"
						}
					}
				}
			}
		},
		"/sessions/current": {
			"delete": {
				"description": "Discards the session's open challenge and forgets the session. Ending an unknown session is a no-op.",
				"tags": [
					"authorization"
				],
				"summary": "End the client session",
				"parameters": [
					{
						"type": "string",
						"description": "Client session",
						"name": "X-Session-ID",
						"in": "header",
						"required": true
					}
				],
				"responses": {
					"204": {
						"description": "Session ended"
					},
					"400": {
						"description": "Bad Request",
						"schema": {
							"$ref": "#/definitions/handlers.ErrorResponse"
						}
					}
				}
			}
		}
	},
	"definitions": {
		"broker.ChallengeError": {
			"type": "object",
			"properties": {
				"code": {
					"type": "string",
					"example": "INCORRECT_CODE"
				},
				"message": {
					"type": "string"
				}
			}
		},
		"handlers.ChallengeResponse": {
			"type": "object",
			"properties": {
				"attempt_code": {
					"type": "array",
					"items": {
						"type": "string"
					}
				},
				"can_resend": {
					"type": "boolean"
				},
				"challenge_id": {
					"type": "string"
				},
				"cooldown_remaining_seconds": {
					"type": "integer"
				},
				"error": {
					"$ref": "#/definitions/broker.ChallengeError"
				},
				"focus": {
					"type": "integer"
				},
				"in_flight": {
					"type": "boolean"
				},
				"kind": {
					"type": "string",
					"enum": [
						"VIEW_RECORD",
						"EDIT_RECORD",
						"DELETE_RECORD",
						"CREATE_SUB_RECORD",
						"VIEW_SUB_RECORD_DETAIL"
					]
				},
				"last_error": {
					"$ref": "#/definitions/broker.ChallengeError"
				},
				"outcome": {
					"type": "string",
					"enum": [
						"PENDING",
						"AUTHORIZED",
						"DENIED",
						"DISCARDED"
					]
				},
				"phone_display": {
					"type": "string"
				},
				"phone_number": {
					"type": "string"
				},
				"result": {
					"description": "Result of the resumed intent, set once authorized"
				},
				"resume_error": {
					"type": "string"
				},
				"step": {
					"type": "string",
					"enum": [
						"PHONE_ENTRY",
						"CODE_ENTRY",
						"RESOLVED"
					]
				},
				"subject_id": {
					"type": "string"
				}
			}
		},
		"handlers.ErrorResponse": {
			"type": "object",
			"properties": {
				"error": {
					"type": "string"
				}
			}
		},
		"handlers.HealthResponse": {
			"type": "object",
			"properties": {
				"details": {
					"type": "object",
					"additionalProperties": true
				},
				"services": {
					"type": "object",
					"additionalProperties": {
						"type": "string"
					}
				},
				"status": {
					"type": "string"
				},
				"timestamp": {
					"type": "string"
				}
			}
		},
		"models.AuthorizationRequest": {
			"type": "object",
			"required": [
				"kind",
				"subject_id"
			],
			"properties": {
				"kind": {
					"type": "string"
				},
				"payload": {
					"type": "object",
					"description": "Intent payload: {patch} to edit, {consultation|prescription} to create, {type,id} for a sub-record"
				},
				"phone_number": {
					"type": "string"
				},
				"subject_id": {
					"type": "string"
				}
			}
		},
		"models.DigitRequest": {
			"type": "object",
			"properties": {
				"value": {
					"type": "string"
				}
			}
		},
		"models.PasteRequest": {
			"type": "object",
			"required": [
				"text"
			],
			"properties": {
				"text": {
					"type": "string"
				}
			}
		},
		"models.PhoneRequest": {
			"type": "object",
			"required": [
				"phone_number"
			],
			"properties": {
				"phone_number": {
					"type": "string"
				}
			}
		}
	}
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/v1",
	Schemes:          []string{},
	Title:            "Medical Records Authorization API",
	Description:      "Step-up phone verification for sensitive medical record operations.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
