package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/stowage/pkg/types"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize stowage storage",
		Long: "Create the configuration and data directories, then create the\n" +
			"tables, collections, or JSONL files of every mapped entity.",
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			if err := st.Close(); err != nil {
				return fmt.Errorf("finalize storage: %w", err)
			}
			entities := make([]string, 0, len(st.Mapping.Entities()))
			for _, m := range st.Mapping.Entities() {
				entities = append(entities, m.Name)
			}
			res := initResult{Backend: a.config.Backend, Entities: entities}
			if a.config.Backend == types.BackendSQLite {
				res.DataDir = a.config.DataDir
			}
			return a.print(cmd, res)
		},
	}
}

type initResult struct {
	Backend  string   `json:"backend"`
	DataDir  string   `json:"data_dir,omitempty"`
	Entities []string `json:"entities"`
}

func (r initResult) text() string {
	s := fmt.Sprintf("stowage initialized (backend %s", r.Backend)
	if r.DataDir != "" {
		s += ", data dir " + r.DataDir
	}
	return s + ")\n"
}
