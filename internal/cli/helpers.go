package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stowage/pkg/stowage"
	"github.com/mesh-intelligence/stowage/pkg/types"
)

// nullArg clears an association or a nullable field.
const nullArg = "null"

// exactArgs is cobra.ExactArgs reporting a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("%w: %s accepts %d arg(s), received %d", errUsage, cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}

// minimumArgs is cobra.MinimumNArgs reporting a usage error.
func minimumArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return fmt.Errorf("%w: %s requires at least %d arg(s), received %d", errUsage, cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}

// parseID converts raw into an identifier of entityType.
func parseID(md types.Metadata, entityType, raw string) (*types.EntityMeta, any, error) {
	meta, err := md.Entity(entityType)
	if err != nil {
		return nil, nil, err
	}
	id, err := types.ParseID(meta.IDField().Kind, raw)
	if err != nil {
		return nil, nil, err
	}
	return meta, id, nil
}

// find loads (entityType, raw id) into s.
func find(ctx context.Context, st *stowage.Store, s *stowage.Session, entityType, raw string) (*stowage.Entity, error) {
	_, id, err := parseID(st.Mapping, entityType, raw)
	if err != nil {
		return nil, err
	}
	return s.Find(ctx, entityType, id)
}

// setField parses raw by the kind of field and assigns it.
func setField(ctx context.Context, e *stowage.Entity, field, raw string) error {
	f, ok := e.Meta().Field(field)
	if !ok {
		// Set reports whether the name is unknown or an association.
		return e.Set(ctx, field, raw)
	}
	v, err := types.ParseValue(f.Kind, raw)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", e.Type(), field, err)
	}
	return e.Set(ctx, field, v)
}

// link points the single-valued association of e at the target identified by
// raw, or clears it when raw is "null".
func link(ctx context.Context, st *stowage.Store, s *stowage.Session, e *stowage.Entity, assoc, raw string) error {
	a, ok := e.Meta().Association(assoc)
	if !ok {
		return fmt.Errorf("%w: %s.%s", types.ErrNotAssociation, e.Type(), assoc)
	}
	if a.IsCollection() {
		return fmt.Errorf("%w: %s.%s is derived from %s.%s; link the owning side",
			errUsage, e.Type(), assoc, a.Target, a.MappedBy)
	}
	if raw == nullArg {
		return e.SetRef(ctx, assoc, nil)
	}
	target, err := find(ctx, st, s, a.Target, raw)
	if err != nil {
		return err
	}
	return e.SetRef(ctx, assoc, target)
}

// assign applies one name=value pair as a field or an association.
func assign(ctx context.Context, st *stowage.Store, s *stowage.Session, e *stowage.Entity, pair string) error {
	name, raw, ok := strings.Cut(pair, "=")
	if !ok || name == "" {
		return fmt.Errorf("%w: expected name=value, got %q", errUsage, pair)
	}
	if _, isAssoc := e.Meta().Association(name); isAssoc {
		return link(ctx, st, s, e, name, raw)
	}
	return setField(ctx, e, name, raw)
}

// flushAndView flushes s and renders e with message.
func flushAndView(ctx context.Context, s *stowage.Session, e *stowage.Entity, message string) (messageResult, error) {
	if err := s.Flush(ctx); err != nil {
		return messageResult{}, fmt.Errorf("flush: %w", err)
	}
	v, err := viewOf(ctx, e)
	if err != nil {
		return messageResult{}, err
	}
	return messageResult{Message: message, Entity: &v}, nil
}
