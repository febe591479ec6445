package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lorekeeper/recall/pkg/core"
)

var importUser string

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Load memories and entities from a JSON or YAML file",
	Long: `Import memories into the configured store. The file holds a list of
memories:

  - user_id: u1
    content: Went hiking with Ana at Mount Tam
    created_at: 2024-08-30T10:00:00Z
    entities:
      - {name: Ana, type: person, confidence: 0.9}

Examples:
  recall import memories.yaml
  recall import --user u1 memories.json`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVarP(&importUser, "user", "u", "", "user id for items that have none")
}

func runImport(cmd *cobra.Command, args []string) error {
	items, err := core.LoadImportFile(args[0])
	if err != nil {
		return err
	}
	if importUser != "" {
		for i := range items {
			if items[i].UserID == "" {
				items[i].UserID = importUser
			}
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	result, err := client.Import(context.Background(), items)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("Imported %d/%d memories\n", result.Imported, result.Total)
	for _, f := range result.Failed {
		if f.StoredID != "" {
			fmt.Printf("  item %d: %s (stored as %s)\n", f.Index, f.Error, f.StoredID)
			continue
		}
		fmt.Printf("  item %d: %s\n", f.Index, f.Error)
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d memories failed to import", len(result.Failed))
	}
	return nil
}
