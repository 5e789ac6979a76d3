package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/toolerr"
)

// PredictionResult is a forecast with the shipment context it was made for.
type PredictionResult struct {
	ShipmentID    string               `json:"shipment_id"`
	CurrentStatus model.ShipmentStatus `json:"current_status"`
	Origin        string               `json:"origin"`
	Destination   string               `json:"destination"`
	Vessel        *string              `json:"vessel,omitempty"`
	model.Prediction
}

// ExceptionResult is returned by proactive_exception_notification.
type ExceptionResult struct {
	ShipmentID          string         `json:"shipment_id"`
	WarningSent         bool           `json:"warning_sent"`
	Confidence          float64        `json:"ml_confidence"`
	Threshold           float64        `json:"threshold"`
	PredictedDelayHours float64        `json:"predicted_delay_hours"`
	RiskFactors         []string       `json:"risk_factors"`
	Reason              string         `json:"reason,omitempty"`
	Notification        map[string]any `json:"notification,omitempty"`
}

// PortalLinkResult is returned by generate_customer_portal_link.
type PortalLinkResult struct {
	ShipmentID  string    `json:"shipment_id"`
	TrackingURL string    `json:"tracking_url"`
	ValidUntil  time.Time `json:"valid_until"`
}

// ServerStatus is returned by get_server_status.
type ServerStatus struct {
	Status    string         `json:"status"`
	Server    string         `json:"server"`
	Version   string         `json:"version"`
	Timestamp time.Time      `json:"timestamp"`
	Details   *StatusDetails `json:"details,omitempty"`
}

// StatusDetails are included when include_details is set.
type StatusDetails struct {
	ToolsRegistered int    `json:"tools_registered"`
	Store           string `json:"store"`
	StoreStatus     string `json:"store_status"`
	ActiveSessions  int    `json:"active_sessions"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
}

// ShouldNotify reports whether p warrants a proactive customer warning.
func ShouldNotify(p model.Prediction) bool {
	return p.WillDelay && p.Confidence > NotificationConfidenceThreshold
}

func (c *Catalog) predict(ctx context.Context, ref string) (model.Shipment, model.Prediction, error) {
	if c.scorer == nil {
		return model.Shipment{}, model.Prediction{}, errAnalyticsUnset
	}
	s, err := c.resolve(ctx, ref)
	if err != nil {
		return model.Shipment{}, model.Prediction{}, err
	}
	p, err := c.scorer.PredictDelay(ctx, s)
	if err != nil {
		return model.Shipment{}, model.Prediction{}, err
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return model.Shipment{}, model.Prediction{}, toolerr.Internal(
			fmt.Errorf("confidence %v outside [0,1]", p.Confidence), "delay scorer returned an invalid forecast")
	}
	if p.RiskFactors == nil {
		p.RiskFactors = []string{}
	}
	return s, p, nil
}

func (c *Catalog) predictDelay(ctx context.Context, args map[string]any) (any, error) {
	s, p, err := c.predict(ctx, strArg(args, "identifier"))
	if err != nil {
		return nil, err
	}
	return PredictionResult{
		ShipmentID:    s.ID,
		CurrentStatus: s.Status,
		Origin:        s.OriginPort,
		Destination:   s.DestinationPort,
		Vessel:        s.VesselName,
		Prediction:    p,
	}, nil
}

func (c *Catalog) proactiveNotify(ctx context.Context, args map[string]any) (any, error) {
	if c.notifier == nil {
		return nil, errAnalyticsUnset
	}
	s, p, err := c.predict(ctx, strArg(args, "shipment_id"))
	if err != nil {
		return nil, err
	}
	out := ExceptionResult{
		ShipmentID:          s.ID,
		Confidence:          p.Confidence,
		Threshold:           NotificationConfidenceThreshold,
		PredictedDelayHours: p.PredictedDelayHours,
		RiskFactors:         p.RiskFactors,
	}
	if !ShouldNotify(p) {
		out.Reason = fmt.Sprintf("confidence %.0f%% does not exceed %.0f%% threshold",
			p.Confidence*100, NotificationConfidenceThreshold*100)
		if !p.WillDelay {
			out.Reason = "shipment is forecast to arrive on time"
		}
		return out, nil
	}

	msg := fmt.Sprintf("Shipment %s is likely to be delayed by about %.0f hours.", s.ID, p.PredictedDelayHours)
	res, err := c.notifier.SendStatusUpdate(ctx, model.StatusNotification{
		ShipmentID:       s.ID,
		NotificationType: "delay_warning",
		RecipientEmail:   optStr(args, "recipient_email"),
		Channel:          "email",
		Language:         "en",
		Message:          msg,
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("tools: proactive delay warning sent",
		"shipment_id", s.ID, "confidence", p.Confidence)
	out.WarningSent = true
	out.Notification = res
	return out, nil
}

func (c *Catalog) sendStatusUpdate(ctx context.Context, args map[string]any) (any, error) {
	if c.notifier == nil {
		return nil, errAnalyticsUnset
	}
	n := model.StatusNotification{
		NotificationType: strArg(args, "notification_type"),
		RecipientEmail:   optStr(args, "recipient_email"),
		RecipientPhone:   optStr(args, "recipient_phone"),
		Channel:          strArg(args, "channel"),
		Language:         strArg(args, "language"),
	}
	if n.Channel == "" {
		n.Channel = "email"
	}
	if n.Language == "" {
		n.Language = "en"
	}
	if (n.Channel == "email" || n.Channel == "both") && n.RecipientEmail == nil {
		return nil, toolerr.Validation("recipient_email", "is required for channel %s", n.Channel)
	}
	if (n.Channel == "sms" || n.Channel == "both") && n.RecipientPhone == nil {
		return nil, toolerr.Validation("recipient_phone", "is required for channel %s", n.Channel)
	}
	s, err := c.resolve(ctx, strArg(args, "shipment_id"))
	if err != nil {
		return nil, err
	}
	n.ShipmentID = s.ID
	return c.notifier.SendStatusUpdate(ctx, n)
}

func (c *Catalog) trackVessel(ctx context.Context, args map[string]any) (any, error) {
	q := model.VesselQuery{
		VesselName: optStr(args, "vessel_name"),
		IMONumber:  optStr(args, "imo_number"),
		MMSI:       optStr(args, "mmsi"),
	}
	if q.VesselName == nil && q.IMONumber == nil && q.MMSI == nil {
		return nil, toolerr.Validation("vessel_name", "one of vessel_name, imo_number, or mmsi is required")
	}
	if c.tracker == nil {
		return nil, errAnalyticsUnset
	}
	return c.tracker.TrackVessel(ctx, q)
}

func (c *Catalog) trackContainer(ctx context.Context, args map[string]any) (any, error) {
	if c.tracker == nil {
		return nil, errAnalyticsUnset
	}
	return c.tracker.TrackContainer(ctx, strArg(args, "container_number"))
}

func (c *Catalog) trackMultimodal(ctx context.Context, args map[string]any) (any, error) {
	if c.tracker == nil {
		return nil, errAnalyticsUnset
	}
	s, err := c.resolve(ctx, strArg(args, "shipment_id"))
	if err != nil {
		return nil, err
	}
	return c.tracker.TrackMultimodal(ctx, s.ID)
}

func (c *Catalog) billOfLading(ctx context.Context, args map[string]any) (any, error) {
	return c.document(ctx, args, model.DocBillOfLading, nil)
}

func (c *Catalog) commercialInvoice(ctx context.Context, args map[string]any) (any, error) {
	return c.document(ctx, args, model.DocCommercialInvoice, func(s model.Shipment, data map[string]any) {
		data["invoice_number"] = orDefault(strArg(args, "invoice_number"), "INV-"+s.ID)
	})
}

func (c *Catalog) packingList(ctx context.Context, args map[string]any) (any, error) {
	return c.document(ctx, args, model.DocPackingList, func(s model.Shipment, data map[string]any) {
		data["packing_list_number"] = orDefault(strArg(args, "packing_list_number"), "PKG-"+s.ID)
		data["invoice_number"] = "INV-" + s.ID
	})
}

func (c *Catalog) document(ctx context.Context, args map[string]any, docType string, extra func(model.Shipment, map[string]any)) (any, error) {
	if c.docs == nil {
		return nil, errAnalyticsUnset
	}
	s, err := c.resolve(ctx, strArg(args, "shipment_id"))
	if err != nil {
		return nil, err
	}
	data := documentData(s)
	if extra != nil {
		extra(s, data)
	}
	return c.docs.GenerateDocument(ctx, model.DocumentRequest{DocumentType: docType, Data: data})
}

// documentData is the shipment section shared by every document type.
// Party and cargo details are not stored on the record; the generator
// fills its own placeholders for them.
func documentData(s model.Shipment) map[string]any {
	data := map[string]any{
		"shipment_id":       s.ID,
		"vessel_name":       orDefault(model.Str(s.VesselName), "N/A"),
		"voyage_number":     orDefault(model.Str(s.VoyageNumber), "N/A"),
		"port_of_loading":   s.OriginPort,
		"port_of_discharge": s.DestinationPort,
		"containers": []map[string]any{
			{"number": model.Str(s.ContainerNo)},
		},
	}
	if s.MasterBill != nil {
		data["bill_of_lading_number"] = *s.MasterBill
	}
	if s.ETD != nil {
		data["etd"] = s.ETD.UTC().Format(time.RFC3339)
	}
	if s.ETA != nil {
		data["eta"] = s.ETA.UTC().Format(time.RFC3339)
	}
	return data
}

func (c *Catalog) portalLink(ctx context.Context, args map[string]any) (any, error) {
	if c.portal == nil {
		return nil, toolerr.Business("customer portal links are not configured")
	}
	s, err := c.resolve(ctx, strArg(args, "shipment_id"))
	if err != nil {
		return nil, err
	}
	url, exp, err := c.portal.PortalLink(s.ID)
	if err != nil {
		return nil, toolerr.Internal(err, "sign portal link")
	}
	return PortalLinkResult{ShipmentID: s.ID, TrackingURL: url, ValidUntil: exp}, nil
}

func (c *Catalog) serverStatus(ctx context.Context, args map[string]any) (any, error) {
	now := c.engine.Now()
	out := ServerStatus{Status: "healthy", Server: "kaiun", Version: c.version, Timestamp: now}
	storeStatus := "connected"
	if err := c.store.Ping(ctx); err != nil {
		out.Status = "degraded"
		storeStatus = "unreachable"
		c.logger.Warn("tools: store ping failed", "store", c.store.Name(), "error", err)
	}
	if !boolArg(args, "include_details", false) {
		return out, nil
	}
	d := &StatusDetails{
		Store:         c.store.Name(),
		StoreStatus:   storeStatus,
		UptimeSeconds: int64(now.Sub(c.started) / time.Second),
	}
	if c.reg != nil {
		d.ToolsRegistered = c.reg.Len()
	}
	if c.sessions != nil {
		d.ActiveSessions = c.sessions()
	}
	out.Details = d
	return out, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
