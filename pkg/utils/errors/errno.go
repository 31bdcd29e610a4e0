package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"google.golang.org/grpc/codes"
)

// NoCode is returned by GetCode for errors that carry no Errno.
const NoCode = -1

// Errno is a coded error with an English and a Brazilian Portuguese message.
// Registered values are templates: the With* methods return copies.
type Errno struct {
	Code      int        `json:"code"`
	HTTP      int        `json:"-"`
	GRPCCode  codes.Code `json:"-"`
	MessageEN string     `json:"message"`
	MessagePT string     `json:"message_pt,omitempty"`

	cause error
}

// New creates an unregistered Errno.
func New(code int, httpStatus int, grpcCode codes.Code, messageEN, messagePT string) *Errno {
	return &Errno{Code: code, HTTP: httpStatus, GRPCCode: grpcCode, MessageEN: messageEN, MessagePT: messagePT}
}

func (e *Errno) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "errno %d: %s", e.Code, e.MessageEN)
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

func (e *Errno) Unwrap() error { return e.cause }

// Is matches any Errno with the same code, so wrapped copies still match
// the registered template.
func (e *Errno) Is(target error) bool {
	t, ok := target.(*Errno)
	return ok && t.Code == e.Code
}

func (e *Errno) derive(mutate func(*Errno)) *Errno {
	c := *e
	mutate(&c)
	return &c
}

// WithCause returns a copy wrapping cause.
func (e *Errno) WithCause(cause error) *Errno {
	return e.derive(func(c *Errno) { c.cause = cause })
}

// WithMessage returns a copy with a replaced English message.
func (e *Errno) WithMessage(msg string) *Errno {
	return e.derive(func(c *Errno) { c.MessageEN = msg })
}

// WithMessagef is WithMessage with formatting.
func (e *Errno) WithMessagef(format string, args ...any) *Errno {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithMessages returns a copy with both messages replaced.
func (e *Errno) WithMessages(en, pt string) *Errno {
	return e.derive(func(c *Errno) { c.MessageEN, c.MessagePT = en, pt })
}

// Message picks the message for a language tag. Any Portuguese tag
// (pt, pt-BR, pt_BR) selects MessagePT when one is set.
func (e *Errno) Message(lang string) string {
	if e.MessagePT != "" && isPortuguese(lang) {
		return e.MessagePT
	}
	return e.MessageEN
}

func isPortuguese(lang string) bool {
	base, _, _ := strings.Cut(strings.ToLower(strings.ReplaceAll(lang, "_", "-")), "-")
	return base == "pt"
}

// HTTPStatus defaults to 500 when unset.
func (e *Errno) HTTPStatus() int {
	if e.HTTP == 0 {
		return http.StatusInternalServerError
	}
	return e.HTTP
}

// GRPCStatus defaults to Internal when unset.
func (e *Errno) GRPCStatus() codes.Code {
	if e.GRPCCode == codes.OK {
		return codes.Internal
	}
	return e.GRPCCode
}

// Format supports %+v with status codes and the cause chain.
func (e *Errno) Format(s fmt.State, verb rune) {
	switch {
	case verb == 'v' && s.Flag('+'):
		_, _ = fmt.Fprintf(s, "errno %d [HTTP %d, gRPC %s]: %s", e.Code, e.HTTP, e.GRPCCode, e.MessageEN)
		if e.MessagePT != "" {
			_, _ = fmt.Fprintf(s, " (%s)", e.MessagePT)
		}
		if e.cause != nil {
			_, _ = fmt.Fprintf(s, "\ncaused by: %+v", e.cause)
		}
	case verb == 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	default:
		_, _ = fmt.Fprint(s, e.Error())
	}
}

var registry = struct {
	sync.RWMutex
	byCode map[int]*Errno
}{byCode: make(map[int]*Errno)}

// Register records e under its code. Registering a code twice panics.
func Register(e *Errno) *Errno {
	registry.Lock()
	defer registry.Unlock()
	if prev, dup := registry.byCode[e.Code]; dup {
		panic(fmt.Sprintf("errno code %d already registered: %s", e.Code, prev.MessageEN))
	}
	registry.byCode[e.Code] = e
	return e
}

// Lookup returns the registered Errno for code.
func Lookup(code int) (*Errno, bool) {
	registry.RLock()
	defer registry.RUnlock()
	e, ok := registry.byCode[code]
	return e, ok
}

// Codes lists every registered code in ascending order.
func Codes() []int {
	registry.RLock()
	defer registry.RUnlock()
	out := make([]int, 0, len(registry.byCode))
	for code := range registry.byCode {
		out = append(out, code)
	}
	slices.Sort(out)
	return out
}

func as(err error) (*Errno, bool) {
	var e *Errno
	ok := stderrors.As(err, &e)
	return e, ok
}

// FromError returns the Errno carried by err, or ErrInternal wrapping err.
func FromError(err error) *Errno {
	if err == nil {
		return nil
	}
	if e, ok := as(err); ok {
		return e
	}
	return ErrInternal.WithCause(err)
}

// IsCode reports whether err carries an Errno with the given code.
func IsCode(err error, code int) bool {
	e, ok := as(err)
	return ok && e.Code == code
}

// GetCode returns the code carried by err, or NoCode.
func GetCode(err error) int {
	if e, ok := as(err); ok {
		return e.Code
	}
	return NoCode
}
