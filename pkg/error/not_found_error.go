package error

import "net/http"

type NotFoundError string

func (err NotFoundError) Error() string {
	return string(err)
}

func (err NotFoundError) ErrCode() string {
	return "not_found"
}

func (err NotFoundError) StatusCode() int {
	return http.StatusNotFound
}
