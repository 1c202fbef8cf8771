package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stowage/pkg/stowage"
)

func newLinkCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "link <type> <id> <association> <target-id|null>",
		Short: "Point an owning association at another entity",
		Long: "Reassign a single-valued association and flush. The previous target\n" +
			"is left as an unloaded placeholder; only the owner's join column is\n" +
			"written.",
		Args: exactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withSession(ctx, func(st *stowage.Store, s *stowage.Session) error {
				e, err := find(ctx, st, s, args[0], args[1])
				if err != nil {
					return err
				}
				if err := link(ctx, st, s, e, args[2], args[3]); err != nil {
					return err
				}
				res, err := flushAndView(ctx, s, e, fmt.Sprintf("linked %s.%s", e.Identity(), args[2]))
				if err != nil {
					return err
				}
				return a.print(cmd, res)
			})
		},
	}
}
