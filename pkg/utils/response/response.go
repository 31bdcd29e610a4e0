// Package response writes the JSON envelope shared by every assistant endpoint.
// Clients branch on Code; Message is localized for the caller's language.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/helix-assistant/pkg/utils/errors"
)

// requestIDHeader matches the header set by the request ID middleware.
const requestIDHeader = "X-Request-ID"

// Response is the envelope.
type Response struct {
	Code      int    `json:"code"`
	HTTPCode  int    `json:"http_code,omitempty"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// PageData is an offset-paginated list.
type PageData struct {
	List   any   `json:"list"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// categoryStatus is used for codes that are not registered.
var categoryStatus = map[int]int{
	errors.CategoryRequest:    http.StatusBadRequest,
	errors.CategoryAuth:       http.StatusUnauthorized,
	errors.CategoryPermission: http.StatusForbidden,
	errors.CategoryResource:   http.StatusNotFound,
	errors.CategoryConflict:   http.StatusConflict,
	errors.CategoryRateLimit:  http.StatusTooManyRequests,
	errors.CategoryNetwork:    http.StatusServiceUnavailable,
	errors.CategoryTimeout:    http.StatusGatewayTimeout,
}

// Success wraps data in a code 0 envelope.
func Success(data any) *Response {
	return &Response{Code: errors.OK.Code, HTTPCode: http.StatusOK, Message: "success", Data: data}
}

// Page wraps a page of results.
func Page(list any, total int64, limit, offset int) *Response {
	return Success(&PageData{List: list, Total: total, Limit: limit, Offset: offset})
}

func fromErrno(e *errors.Errno, lang string, data any) *Response {
	return &Response{Code: e.Code, HTTPCode: e.HTTPStatus(), Message: e.Message(lang), Data: data}
}

// IsSuccess reports whether Code is 0.
func (r *Response) IsSuccess() bool {
	return r.Code == errors.OK.Code
}

// HTTPStatus resolves the status from HTTPCode, then the registered Errno,
// then the code's category.
func (r *Response) HTTPStatus() int {
	switch {
	case r.HTTPCode != 0:
		return r.HTTPCode
	case r.IsSuccess():
		return http.StatusOK
	}
	if e, ok := errors.Lookup(r.Code); ok {
		return e.HTTPStatus()
	}
	if status, ok := categoryStatus[errors.GetCategory(r.Code)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Write sends resp with its own status and the request ID.
func Write(c *gin.Context, resp *Response) {
	resp.RequestID = c.GetHeader(requestIDHeader)
	c.JSON(resp.HTTPStatus(), resp)
}

// OK writes data as a success.
func OK(c *gin.Context, data any) {
	Write(c, Success(data))
}

// Fail writes err as an error envelope. Errors without an Errno become ErrInternal.
func Fail(c *gin.Context, err error, lang string) {
	Write(c, fromErrno(errors.FromError(err), lang, nil))
}

// FailWithData writes an error envelope that still carries a payload,
// such as an ingestion summary with partial failures.
func FailWithData(c *gin.Context, e *errors.Errno, lang string, data any) {
	Write(c, fromErrno(e, lang, data))
}
