package models

// Query parameters of the gate HTTP endpoints.

type StateRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"omitempty,min=1,max=32"`
}

type TransitionsRequest struct {
	Limit int `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=500"`
}
