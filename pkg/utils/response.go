package utils

// ResponseData is the standard envelope for every REST response.
type ResponseData struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Results any    `json:"results,omitempty"`
}

// PanicIfNeeded panics when err is non-nil so the recovery middleware
// can map typed errors to HTTP responses.
func PanicIfNeeded(err any) {
	if err != nil {
		panic(err)
	}
}
