package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/aquasecurity/table"
	"github.com/spf13/cobra"

	"slug/internal/config"
)

func newPsCmd(opts *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List persisted subclusters, their vats, and the run queue depth.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listEndpoints(opts)
		},
	}
	return cmd
}

func listEndpoints(opts *globalOpts) error {
	s, err := openStore(opts)
	if err != nil {
		return fmt.Errorf("kernel ps: opening store: %w", err)
	}

	t := table.New(os.Stdout)
	t.SetHeaders("SUBCLUSTER", "VAT", "BUNDLE", "ALIVE")

	for _, scID := range s.ListSubclusters() {
		sc, ok := s.GetSubcluster(scID)
		if !ok {
			continue
		}
		if len(sc.Vats) == 0 {
			t.AddRow(string(scID), "-", "-", "-")
			continue
		}
		for _, vat := range sc.Vats {
			rec, ok := s.GetVatConfig(vat)
			bundle, alive := "?", "?"
			if ok {
				var vcfg config.VatConfig
				if json.Unmarshal([]byte(rec.Body), &vcfg) == nil {
					bundle = vcfg.BundleName
					if bundle == "" {
						bundle = vcfg.BundleSpec
					}
				}
				alive = strconv.FormatBool(rec.Alive)
			}
			t.AddRow(string(scID), string(vat), bundle, alive)
		}
	}
	t.Render()

	fmt.Printf("run queue length: %d\n", s.RunQueueLength())
	return nil
}
