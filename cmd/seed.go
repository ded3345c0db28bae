package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/techday-registration/internal/service"
)

var seedCmd = &cobra.Command{
	Use:   "seed <catalog.yaml>",
	Short: "Import tracks, rooms, timeslots and sessions from a YAML file",
	Long: `Import an event catalog in one transaction. Entries reference each other
by key; if any entry is invalid nothing is written.

Example:
  techday seed examples/catalog.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()

		catalog, err := service.ParseCatalog(f)
		if err != nil {
			return err
		}

		store, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		statusCache, closeCache := statusCache()
		defer closeCache()
		svcs, err := newServices(store, statusCache)
		if err != nil {
			return err
		}

		sum, err := svcs.catalog.Import(cmd.Context(), catalog)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	},
}
