// Package errors provides the structured error code system of helix-assistant.
//
// Error Code Format: AABBCCC (7 digits)
//
//   - AA:  Service/Module code (00-99)
//   - BB:  Category code (00-99)
//   - CCC: Sequence number (000-999)
//
// Service Codes (AA):
//
//   - 00: Common/Base errors
//   - 10-19: Infrastructure errors
//   - 21: Assistant (RAG core) errors
//   - 90-99: Third-party service errors (LLM providers)
//
// Category Codes (BB):
//
//   - 00: Success
//   - 01: Request/Validation errors (400)
//   - 03: Authorization errors (403)
//   - 04: Resource errors (404)
//   - 05: Conflict errors (409)
//   - 07: Internal errors (500)
//   - 08: Database errors (500)
//   - 09: Cache errors (500)
//   - 10: Network errors (502/503)
//   - 11: Timeout errors (504)
//   - 12: Configuration errors (500)
package errors

// Service codes (AA)
const (
	// ServiceCommon is for common/base errors shared by every component.
	ServiceCommon = 0

	// ServiceInfraDB is for database infrastructure.
	ServiceInfraDB = 10

	// ServiceInfraCache is for cache infrastructure.
	ServiceInfraCache = 11

	// ServiceInfraVector is for the vector index backends.
	ServiceInfraVector = 13

	// ServiceAssistant is for the assistant core.
	ServiceAssistant = 21

	// ServiceThirdPartyLLM is for embedding and generation providers.
	ServiceThirdPartyLLM = 94
)

// Category codes (BB)
const (
	CategorySuccess    = 0
	CategoryRequest    = 1
	CategoryAuth       = 2
	CategoryPermission = 3
	CategoryResource   = 4
	CategoryConflict   = 5
	CategoryRateLimit  = 6
	CategoryInternal   = 7
	CategoryDatabase   = 8
	CategoryCache      = 9
	CategoryNetwork    = 10
	CategoryTimeout    = 11
	CategoryConfig     = 12
)

// MakeCode creates an error code from service, category, and sequence.
// Format: AABBCCC where AA=service, BB=category, CCC=sequence
func MakeCode(service, category, sequence int) int {
	return service*100000 + category*1000 + sequence
}

// ParseCode parses an error code into service, category, and sequence.
func ParseCode(code int) (service, category, sequence int) {
	service = code / 100000
	category = (code % 100000) / 1000
	sequence = code % 1000
	return
}

// GetService returns the service code from an error code.
func GetService(code int) int {
	return code / 100000
}

// GetCategory returns the category code from an error code.
func GetCategory(code int) int {
	return (code % 100000) / 1000
}
