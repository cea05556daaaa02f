package error

import "net/http"

type BridgeUnreachableError string

func (err BridgeUnreachableError) Error() string {
	return string(err)
}

func (err BridgeUnreachableError) ErrCode() string {
	return "bridge_unreachable"
}

func (err BridgeUnreachableError) StatusCode() int {
	return http.StatusBadGateway
}
