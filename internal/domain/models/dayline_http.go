package models

// Requests for the ops HTTP endpoints.

type AssetRequest struct {
	Symbol string `param:"symbol" json:"symbol" validate:"required,alphanum,max=20"`
}

type DaylineRequest struct {
	Symbol string `param:"symbol" json:"symbol" validate:"required,alphanum,max=20"`
	From   string `query:"from" json:"from"`
	To     string `query:"to" json:"to"`
	Limit  int    `query:"limit" json:"limit" default:"365" validate:"gte=1,lte=5000"`
}
