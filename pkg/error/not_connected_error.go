package error

import "net/http"

type NotConnectedError string

func (err NotConnectedError) Error() string {
	return string(err)
}

func (err NotConnectedError) ErrCode() string {
	return "not_connected"
}

func (err NotConnectedError) StatusCode() int {
	return http.StatusServiceUnavailable
}
