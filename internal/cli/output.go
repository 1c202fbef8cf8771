package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stowage/pkg/stowage"
)

// result is anything a command prints. Text mode uses text(); --json
// marshals the value itself.
type result interface {
	text() string
}

func (a *app) print(cmd *cobra.Command, r result) error {
	out := cmd.OutOrStdout()
	if !a.jsonMode {
		_, err := fmt.Fprint(out, r.text())
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	return nil
}

// entityView is the printable form of one entity.
type entityView struct {
	Identity     string         `json:"identity"`
	Type         string         `json:"type"`
	ID           any            `json:"id"`
	State        string         `json:"state"`
	Fields       map[string]any `json:"fields"`
	Associations map[string]any `json:"associations"`

	fieldOrder []string
	assocOrder []string
}

// viewOf renders e. Reading fields initializes e; association targets are
// shown by identity and are not initialized.
func viewOf(ctx context.Context, e *stowage.Entity) (entityView, error) {
	meta := e.Meta()
	v := entityView{
		Identity:     e.Identity().String(),
		Type:         e.Type(),
		ID:           e.ID(),
		Fields:       make(map[string]any, len(meta.Fields)),
		Associations: make(map[string]any, len(meta.Associations)),
	}
	for _, f := range meta.Fields {
		val, err := e.Get(ctx, f.Name)
		if err != nil {
			return v, err
		}
		v.Fields[f.Name] = val
		v.fieldOrder = append(v.fieldOrder, f.Name)
	}
	for _, assoc := range meta.Associations {
		v.assocOrder = append(v.assocOrder, assoc.Name)
		if assoc.IsCollection() {
			items, err := e.Collection(ctx, assoc.Name)
			if err != nil {
				return v, err
			}
			ids := make([]string, 0, len(items))
			for _, it := range items {
				ids = append(ids, it.Identity().String())
			}
			sort.Strings(ids)
			v.Associations[assoc.Name] = ids
			continue
		}
		target, err := e.Ref(ctx, assoc.Name)
		if err != nil {
			return v, err
		}
		if target == nil {
			v.Associations[assoc.Name] = nil
		} else {
			v.Associations[assoc.Name] = target.Identity().String()
		}
	}
	v.State = e.LoadState().String()
	return v, nil
}

func (v entityView) text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", v.Identity, v.State)
	for _, name := range v.fieldOrder {
		fmt.Fprintf(&b, "  %s: %s\n", name, formatValue(v.Fields[name]))
	}
	for _, name := range v.assocOrder {
		switch ref := v.Associations[name].(type) {
		case nil:
			fmt.Fprintf(&b, "  %s -> null\n", name)
		case []string:
			fmt.Fprintf(&b, "  %s -> [%s]\n", name, strings.Join(ref, ", "))
		default:
			fmt.Fprintf(&b, "  %s -> %v\n", name, ref)
		}
	}
	return b.String()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

// messageResult is a one-line confirmation.
type messageResult struct {
	Message string      `json:"message"`
	Entity  *entityView `json:"entity,omitempty"`
}

func (m messageResult) text() string {
	s := m.Message + "\n"
	if m.Entity != nil {
		s += m.Entity.text()
	}
	return s
}
