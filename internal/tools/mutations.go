package tools

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/query"
	"github.com/ashita-ai/kaiun/internal/storage"
	"github.com/ashita-ai/kaiun/internal/toolerr"
)

// MutationResult is returned by every mutating tool.
type MutationResult struct {
	ShipmentID string  `json:"shipment_id"`
	Field      string  `json:"field"`
	OldValue   *string `json:"old_value"`
	NewValue   *string `json:"new_value"`
	Message    string  `json:"message"`
}

func (c *Catalog) updateETA(ctx context.Context, args map[string]any) (any, error) {
	eta, err := query.ParseDate("new_eta", strArg(args, "new_eta"), false)
	if err != nil {
		return nil, err
	}
	reason := optStr(args, "reason")
	if err := model.ValidateReason(model.Str(reason)); err != nil {
		return nil, toolerr.Validation("reason", "%v", err)
	}
	return c.mutate(ctx, strArg(args, "identifier"), func(s *model.Shipment) (model.AuditEntry, error) {
		old := fmtTime(s.ETA)
		s.ETA = &eta
		return model.AuditEntry{
			Action:    model.AuditUpdateETA,
			FieldName: "eta",
			OldValue:  old,
			NewValue:  fmtTime(&eta),
			Reason:    reason,
			AgentID:   optStr(args, "agent_id"),
		}, nil
	}, "ETA updated for %s")
}

func (c *Catalog) setRiskFlag(ctx context.Context, args map[string]any) (any, error) {
	flag := boolArg(args, "is_risk", false)
	reason := optStr(args, "reason")
	if err := model.ValidateReason(model.Str(reason)); err != nil {
		return nil, toolerr.Validation("reason", "%v", err)
	}
	verb := "cleared"
	if flag {
		verb = "set"
	}
	return c.mutate(ctx, strArg(args, "identifier"), func(s *model.Shipment) (model.AuditEntry, error) {
		old := strconv.FormatBool(s.RiskFlag)
		s.RiskFlag = flag
		next := strconv.FormatBool(flag)
		return model.AuditEntry{
			Action:    model.AuditSetRiskFlag,
			FieldName: "risk_flag",
			OldValue:  &old,
			NewValue:  &next,
			Reason:    reason,
			AgentID:   optStr(args, "agent_id"),
		}, nil
	}, "Risk flag "+verb+" for %s")
}

func (c *Catalog) addNote(ctx context.Context, args map[string]any) (any, error) {
	note := strArg(args, "note")
	agent := strArg(args, "agent_name")
	if err := model.ValidateNote(note, agent); err != nil {
		field := "note"
		if strings.HasPrefix(err.Error(), "agent_name") {
			field = "agent_name"
		}
		return nil, toolerr.Validation(field, "%v", err)
	}
	line := noteLine(c.engine.Now(), agent, note)
	return c.mutate(ctx, strArg(args, "identifier"), func(s *model.Shipment) (model.AuditEntry, error) {
		old := s.AgentNotes
		notes := line
		if prev := model.Str(old); prev != "" {
			notes = prev + "\n" + line
		}
		if len(notes) > model.MaxNotesTotal {
			return model.AuditEntry{}, toolerr.Business("shipment %s has reached the %d byte note limit", s.ID, model.MaxNotesTotal)
		}
		s.AgentNotes = &notes
		return model.AuditEntry{
			Action:    model.AuditAddNote,
			FieldName: "agent_notes",
			OldValue:  old,
			NewValue:  &notes,
			AgentID:   model.StrPtr(agent),
		}, nil
	}, "Note added to %s")
}

// mutate resolves ref and applies fn as one atomic change, then publishes
// the change on the event feed.
func (c *Catalog) mutate(ctx context.Context, ref string, fn storage.MutateFunc, msg string) (any, error) {
	s, err := c.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	m, err := c.store.Mutate(ctx, s.ID, fn)
	if err != nil {
		var te *toolerr.Error
		switch {
		case errors.As(err, &te):
			return nil, err
		case errors.Is(err, storage.ErrNotFound):
			return nil, toolerr.NotFound("shipment %q not found", ref)
		}
		return nil, toolerr.Internal(err, "mutate shipment %s", s.ID)
	}

	c.publish(ctx, m.Audit)
	return MutationResult{
		ShipmentID: m.After.ID,
		Field:      m.Audit.FieldName,
		OldValue:   m.Audit.OldValue,
		NewValue:   m.Audit.NewValue,
		Message:    fmt.Sprintf(msg, m.After.ID),
	}, nil
}

// publish emits a change event. The mutation is already committed, so a
// publish failure is logged and not returned.
func (c *Catalog) publish(ctx context.Context, a model.AuditEntry) {
	if c.events == nil {
		return
	}
	ev := model.ShipmentEvent{
		ShipmentID: a.ShipmentID,
		Action:     a.Action,
		Field:      a.FieldName,
		OldValue:   a.OldValue,
		NewValue:   a.NewValue,
		OccurredAt: a.CreatedAt,
	}
	if err := c.events.PublishShipmentEvent(ctx, ev); err != nil {
		c.logger.Warn("tools: publish shipment event failed",
			"shipment_id", a.ShipmentID, "action", a.Action, "error", err)
	}
}

func noteLine(now time.Time, agent, note string) string {
	ts := now.UTC().Format(time.RFC3339)
	if agent == "" {
		return fmt.Sprintf("[%s] %s", ts, note)
	}
	return fmt.Sprintf("[%s] %s: %s", ts, agent, note)
}

func fmtTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
