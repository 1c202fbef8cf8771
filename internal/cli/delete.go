package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stowage/pkg/stowage"
)

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <type> <id>",
		Short: "Delete an entity",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withSession(ctx, func(st *stowage.Store, s *stowage.Session) error {
				e, err := find(ctx, st, s, args[0], args[1])
				if err != nil {
					return err
				}
				ident := e.Identity()
				if err := s.Remove(ctx, e); err != nil {
					return err
				}
				if err := s.Flush(ctx); err != nil {
					return fmt.Errorf("flush: %w", err)
				}
				return a.print(cmd, messageResult{Message: fmt.Sprintf("deleted %s", ident)})
			})
		},
	}
}
