package error

import "net/http"

type StorageUnavailableError string

func (err StorageUnavailableError) Error() string {
	return string(err)
}

func (err StorageUnavailableError) ErrCode() string {
	return "storage_unavailable"
}

func (err StorageUnavailableError) StatusCode() int {
	return http.StatusServiceUnavailable
}
