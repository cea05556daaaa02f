package error

import "net/http"

type ForbiddenError string

func (err ForbiddenError) Error() string {
	return string(err)
}

func (err ForbiddenError) ErrCode() string {
	return "auth"
}

func (err ForbiddenError) StatusCode() int {
	return http.StatusForbidden
}
