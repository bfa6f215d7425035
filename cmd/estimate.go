package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/alttext-cli/internal/classify"
	"github.com/sells-group/alttext-cli/internal/cost"
	"github.com/sells-group/alttext-cli/internal/dedup"
	"github.com/sells-group/alttext-cli/internal/manifest"
)

// Assumed encoded size for images whose manifest row carries no byte count.
const assumedImageBytes = 500 * 1024

var estimateCSV string

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate the inference cost of a manifest without calling the API",
	Long:  "Classifies every manifest row from declared metadata, dedupes size variants, and prices the unique images that would be submitted. Rows without declared sizes are assumed to be 500KB.",
	RunE: func(cmd *cobra.Command, args []string) error {
		man, err := manifest.Load(estimateCSV)
		if err != nil {
			return err
		}

		calc := cost.NewCalculator(cost.Rates{
			InputPerMTok:  cfg.Pricing.InputPerMTok,
			OutputPerMTok: cfg.Pricing.OutputPerMTok,
			BytesPerToken: cfg.Pricing.BytesPerToken,
		})
		index := dedup.NewIndex()

		var skipped, rejected, assumed int
		sizeByKey := make(map[string]int64)
		for row := 0; row < man.Len(); row++ {
			imageURL := man.Get(row, manifest.ColDestination)
			if manifest.IsValidAltText(man.Get(row, manifest.ColAltText)) {
				skipped++
				continue
			}
			if classify.SkipReason(imageURL) != "" {
				skipped++
				continue
			}

			bytes, width, height := man.DeclaredSize(row)
			if res := classify.Declared(bytes, width, height); res.Bucket == classify.Rejected {
				rejected++
				continue
			}

			key, isRep := index.Register(row, imageURL)
			if !isRep {
				continue
			}
			if bytes <= 0 {
				bytes = assumedImageBytes
				assumed++
			}
			sizeByKey[key] = bytes
		}

		var total float64
		for _, size := range sizeByKey {
			total += calc.EstimateImage(size)
		}

		fmt.Printf("Manifest: %s\n", estimateCSV)
		fmt.Printf("Rows: %d (skipped %d, rejected %d)\n", man.Len(), skipped, rejected)
		fmt.Printf("Unique images to submit: %d", len(sizeByKey))
		if assumed > 0 {
			fmt.Printf(" (%d without declared size, assumed 500KB)", assumed)
		}
		fmt.Println()
		fmt.Printf("Estimated cost: $%.4f\n", total)
		return nil
	},
}

func init() {
	estimateCmd.Flags().StringVar(&estimateCSV, "csv", "", "path to manifest CSV (required)")
	_ = estimateCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(estimateCmd)
}
