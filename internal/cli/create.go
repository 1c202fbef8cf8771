package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stowage/pkg/stowage"
)

// generatedID asks the mapping's generator for an identifier.
const generatedID = "-"

func newCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create <type> <id|-> [name=value ...]",
		Short: "Persist a new entity",
		Long: "Persist a new entity with the given identifier, or \"-\" when the\n" +
			"mapping generates identifiers. Each name=value pair sets a field or\n" +
			"points an association at the target with that identifier.",
		Example: "  stowage create Child 1 name=first\n  stowage create Parent 10 child=1",
		Args:    minimumArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withSession(ctx, func(st *stowage.Store, s *stowage.Session) error {
				e, err := s.NewEntity(args[0])
				if err != nil {
					return err
				}
				if args[1] != generatedID {
					_, id, err := parseID(st.Mapping, args[0], args[1])
					if err != nil {
						return err
					}
					if err := e.Set(ctx, e.Meta().ID, id); err != nil {
						return err
					}
				}
				for _, pair := range args[2:] {
					if err := assign(ctx, st, s, e, pair); err != nil {
						return err
					}
				}
				if err := s.Persist(ctx, e); err != nil {
					return err
				}
				res, err := flushAndView(ctx, s, e, fmt.Sprintf("created %s", e.Identity()))
				if err != nil {
					return err
				}
				return a.print(cmd, res)
			})
		},
	}
}
