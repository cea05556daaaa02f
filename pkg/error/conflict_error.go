package error

import "net/http"

type ConflictError string

func (err ConflictError) Error() string {
	return string(err)
}

func (err ConflictError) ErrCode() string {
	return "conflict"
}

func (err ConflictError) StatusCode() int {
	return http.StatusConflict
}
