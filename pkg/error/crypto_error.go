package error

import "net/http"

type CryptoError string

func (err CryptoError) Error() string {
	return string(err)
}

func (err CryptoError) ErrCode() string {
	return "crypto_error"
}

func (err CryptoError) StatusCode() int {
	return http.StatusInternalServerError
}
