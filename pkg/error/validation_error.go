package error

import "net/http"

type ValidationError string

func (err ValidationError) Error() string {
	return string(err)
}

func (err ValidationError) ErrCode() string {
	return "validation"
}

func (err ValidationError) StatusCode() int {
	return http.StatusBadRequest
}
