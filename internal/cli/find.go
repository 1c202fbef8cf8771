package cli

import (
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stowage/pkg/stowage"
)

func newFindCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "find <type> <id>",
		Short: "Load an entity and print its fields and associations",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withSession(ctx, func(st *stowage.Store, s *stowage.Session) error {
				e, err := find(ctx, st, s, args[0], args[1])
				if err != nil {
					return err
				}
				v, err := viewOf(ctx, e)
				if err != nil {
					return err
				}
				return a.print(cmd, v)
			})
		},
	}
}
