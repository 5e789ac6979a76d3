// Package voice adapts flat {operation, parameters} webhook calls from voice
// agents onto the tool catalog and renders results as short spoken
// sentences.
package voice

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/toolerr"
)

//go:embed operations.yaml
var defaultOperations []byte

// Mapping routes one voice operation to a tool.
type Mapping struct {
	Tool     string            `yaml:"tool"`
	Rename   map[string]string `yaml:"rename"`
	Defaults map[string]any    `yaml:"defaults"`
}

// Table is the operation mapping table.
type Table struct {
	ops map[string]Mapping
}

// ParseTable decodes a YAML mapping table.
func ParseTable(data []byte) (*Table, error) {
	var doc struct {
		Operations map[string]Mapping `yaml:"operations"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("voice: parse operations: %w", err)
	}
	for op, m := range doc.Operations {
		if m.Tool == "" {
			return nil, fmt.Errorf("voice: operation %q has no tool", op)
		}
	}
	if doc.Operations == nil {
		doc.Operations = map[string]Mapping{}
	}
	return &Table{ops: doc.Operations}, nil
}

// DefaultTable returns the embedded mapping table.
func DefaultTable() *Table {
	t, err := ParseTable(defaultOperations)
	if err != nil {
		panic(err)
	}
	return t
}

// Validate checks that every mapped tool exists.
func (t *Table) Validate(has func(string) bool) error {
	var missing []string
	for op, m := range t.ops {
		if !has(m.Tool) {
			missing = append(missing, op+" -> "+m.Tool)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("voice: operations map to unknown tools: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Resolve returns the tool and arguments for operation. ok is false for
// operations the table does not list; those never reach the catalog.
func (t *Table) Resolve(operation string, params map[string]any) (tool string, args map[string]any, ok bool) {
	m, ok := t.ops[operation]
	if !ok {
		return "", nil, false
	}
	args = make(map[string]any, len(params)+len(m.Defaults))
	for k, v := range params {
		if to, ok := m.Rename[k]; ok {
			k = to
		}
		args[k] = v
	}
	for k, v := range m.Defaults {
		if _, set := args[k]; !set {
			args[k] = v
		}
	}
	return m.Tool, args, true
}

// Request is a webhook body. Voice platforms disagree on field names, so
// operation, function, and name are synonyms, as are parameters and
// arguments.
type Request struct {
	Operation  string         `json:"operation"`
	Function   string         `json:"function"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
	Arguments  map[string]any `json:"arguments"`
}

// Op returns the requested operation.
func (r Request) Op() string {
	for _, s := range []string{r.Operation, r.Function, r.Name} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// Params returns the operation parameters.
func (r Request) Params() map[string]any {
	if r.Parameters != nil {
		return r.Parameters
	}
	if r.Arguments != nil {
		return r.Arguments
	}
	return map[string]any{}
}

// Invoker is the slice of the tool registry the adapter needs.
type Invoker interface {
	Has(name string) bool
	Invoke(ctx context.Context, env model.ToolCallEnvelope) (any, error)
}

// Renderer turns a tool result into speech.
type Renderer interface {
	Render(operation string, result any) (string, error)
}

// Adapter handles webhook calls.
type Adapter struct {
	table    *Table
	inv      Invoker
	renderer Renderer
	logger   *slog.Logger
}

// NewAdapter creates an adapter. A nil table uses DefaultTable and a nil
// renderer uses TextRenderer.
func NewAdapter(inv Invoker, table *Table, renderer Renderer, logger *slog.Logger) *Adapter {
	if table == nil {
		table = DefaultTable()
	}
	if renderer == nil {
		renderer = TextRenderer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{table: table, inv: inv, renderer: renderer, logger: logger}
}

// Handle decodes body, invokes the mapped tool, and returns the sentence to
// speak. It never fails: every error becomes a sentence.
func (a *Adapter) Handle(ctx context.Context, body []byte, requestID string) string {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return msgBadRequest
	}
	op := req.Op()
	if op == "" {
		return msgBadRequest
	}
	tool, args, ok := a.table.Resolve(op, maps.Clone(req.Params()))
	if !ok || !a.inv.Has(tool) {
		return fmt.Sprintf("Sorry, I don't know how to %s.", strings.ReplaceAll(op, "_", " "))
	}

	result, err := a.inv.Invoke(ctx, model.ToolCallEnvelope{
		Tool:      tool,
		Arguments: args,
		RequestID: requestID,
		Transport: model.TransportVoice,
	})
	if err != nil {
		return Sentence(err)
	}
	text, err := a.renderer.Render(op, result)
	if err != nil {
		a.logger.Error("voice: render failed", "operation", op, "request_id", requestID, "error", err)
		return msgInternal
	}
	return text
}

const (
	msgBadRequest = "I didn't receive a valid request."
	msgInternal   = "I encountered an error processing your request. Please try again."
)

// Sentence phrases a failure for speech without exposing its class.
func Sentence(err error) string {
	te := toolerr.As(err)
	switch te.Kind {
	case toolerr.KindValidation:
		if te.Field != "" {
			return fmt.Sprintf("I need a valid %s to do that: %s.", strings.ReplaceAll(te.Field, "_", " "), te.Message)
		}
		return fmt.Sprintf("That request isn't valid: %s.", te.Message)
	case toolerr.KindNotFound:
		return fmt.Sprintf("I couldn't find that. %s. Please check the ID and try again.", capitalize(te.Message))
	case toolerr.KindTimeout:
		return "That took too long to answer. Please try again."
	case toolerr.KindBusiness:
		return fmt.Sprintf("Sorry, %s.", te.Message)
	case toolerr.KindProtocol, toolerr.KindSessionNotFound:
		return msgBadRequest
	}
	return msgInternal
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
