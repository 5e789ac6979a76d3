package model

// Prediction is a delay forecast for one shipment.
type Prediction struct {
	WillDelay           bool     `json:"will_delay"`
	Confidence          float64  `json:"confidence"`
	DelayProbability    float64  `json:"delay_probability"`
	PredictedDelayHours float64  `json:"predicted_delay_hours"`
	RiskFactors         []string `json:"risk_factors"`
	Recommendation      string   `json:"recommendation,omitempty"`
	ModelAccuracy       float64  `json:"model_accuracy,omitempty"`
}

// Document types understood by the document generator.
const (
	DocBillOfLading      = "BOL"
	DocCommercialInvoice = "COMMERCIAL_INVOICE"
	DocPackingList       = "PACKING_LIST"
)

// DocumentRequest asks the document generator to render a shipping document.
type DocumentRequest struct {
	DocumentType string         `json:"document_type"`
	Data         map[string]any `json:"data"`
}

// Notification types accepted by send_status_update.
var NotificationTypes = []string{
	"departed", "in_transit", "arrived", "customs_cleared",
	"delivered", "delay_warning", "exception_alert",
}

// StatusNotification is an outbound customer notification.
type StatusNotification struct {
	ShipmentID       string  `json:"shipment_id"`
	NotificationType string  `json:"notification_type"`
	RecipientEmail   *string `json:"recipient_email,omitempty"`
	RecipientPhone   *string `json:"recipient_phone,omitempty"`
	Channel          string  `json:"channel"`
	Language         string  `json:"language"`
	Message          string  `json:"message,omitempty"`
}

// VesselQuery identifies a vessel by any one of its identifiers.
type VesselQuery struct {
	VesselName *string `json:"vessel_name,omitempty"`
	IMONumber  *string `json:"imo_number,omitempty"`
	MMSI       *string `json:"mmsi,omitempty"`
}
