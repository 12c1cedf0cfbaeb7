package api

import "github.com/kenmoh/servipalbackend/models"

type submitConversionParams struct {
	ItemID string `validate:"omitempty,uuid4"`
}

type itemMediaParams struct {
	ItemID string `validate:"required,uuid4"`
}

type conversionAcceptedResponse struct {
	TaskID        string `json:"task_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	VideoFilename string `json:"video_filename"`
	GIFFilename   string `json:"gif_filename"`
}

type conversionStatusResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	GIFURL  string `json:"gif_url,omitempty"`
	Message string `json:"message,omitempty"`
}

type reconcileResponse struct {
	Reconciled int `json:"reconciled"`
}

type attachMediaResponse struct {
	Media       []models.MediaReference `json:"media"`
	TaskID      string                  `json:"task_id,omitempty"`
	GIFFilename string                  `json:"gif_filename,omitempty"`
}

type listMediaResponse struct {
	Media []models.MediaReference `json:"media"`
}
