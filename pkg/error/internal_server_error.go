package error

import "net/http"

type InternalServerError string

func (err InternalServerError) Error() string {
	return string(err)
}

func (err InternalServerError) ErrCode() string {
	return "internal"
}

func (err InternalServerError) StatusCode() int {
	return http.StatusInternalServerError
}
