package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stowage/pkg/stowage"
)

func newSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <type> <id> <field> <value>",
		Short: "Update one scalar field of an entity",
		Long:  "Update one scalar field and flush. The value is parsed by the field's\nkind; \"null\" clears a nullable field.",
		Args:  exactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withSession(ctx, func(st *stowage.Store, s *stowage.Session) error {
				e, err := find(ctx, st, s, args[0], args[1])
				if err != nil {
					return err
				}
				if err := setField(ctx, e, args[2], args[3]); err != nil {
					return err
				}
				res, err := flushAndView(ctx, s, e, fmt.Sprintf("updated %s.%s", e.Identity(), args[2]))
				if err != nil {
					return err
				}
				return a.print(cmd, res)
			})
		},
	}
}
