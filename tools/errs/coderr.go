package errs

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// CodeError 带业务码的错误，REST 层直接序列化返回。
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: d}
}

// WrapMsg 附加说明并带上调用栈
func (e *CodeError) WrapMsg(msg string) error {
	return errors.Wrap(e.WithDetail(msg), msg)
}

func (e *CodeError) Is(err error) bool {
	var ce *CodeError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == e.Code
}

// 常用错误码
var (
	ErrArgs          = NewCodeError(1001, "invalid argument")
	ErrTokenExpired  = NewCodeError(1501, "token expired or invalid")
	ErrNotAuthorized = NewCodeError(1502, "not authorized")
	ErrInternal      = NewCodeError(1500, "internal error")
	ErrNotFound      = NewCodeError(1404, "not found")
)

// New / Wrap 透传 pkg/errors，统一入口
func New(msg string) error                 { return errors.New(msg) }
func Wrap(err error, msg string) error     { return errors.Wrap(err, msg) }
func WrapMsg(err error, msg string) error  { return errors.WithMessage(err, msg) }
func Is(err, target error) bool            { return errors.Is(err, target) }
func As(err error, target interface{}) bool { return errors.As(err, target) }
