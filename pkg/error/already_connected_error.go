package error

import "net/http"

type AlreadyConnectedError string

func (err AlreadyConnectedError) Error() string {
	return string(err)
}

func (err AlreadyConnectedError) ErrCode() string {
	return "already_connected"
}

func (err AlreadyConnectedError) StatusCode() int {
	return http.StatusConflict
}
