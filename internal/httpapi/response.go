package httpapi

// apiResponse is the body shape for every non-envelope endpoint.
type apiResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func successResponse(data any) apiResponse {
	return apiResponse{Code: 200, Message: "success", Data: data}
}

func errorResponse(code int, message, err string) apiResponse {
	return apiResponse{Code: code, Message: message, Error: err}
}
