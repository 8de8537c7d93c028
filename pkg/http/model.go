package http

// APIResponse is the envelope every ops endpoint writes.
type APIResponse struct {
	Status  int         `json:"status" example:"200"`
	Message string      `json:"message" example:"OK"`
	Data    interface{} `json:"data,omitempty"`
}

// ValidationError is one rejected request field.
type ValidationError struct {
	Code    string                 `json:"code,omitempty" example:"ERR_LTE"`
	Field   string                 `json:"field,omitempty" example:"Limit"`
	Message string                 `json:"message,omitempty" example:"Limit must be less than or equal to 5000"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// ListDataResponse wraps rows with their count.
type ListDataResponse struct {
	Rows  interface{} `json:"rows"`
	Total int64       `json:"total"`
}
