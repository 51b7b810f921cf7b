package main

import (
	"fmt"
	"os"

	"github.com/nimbusdata/indexctl/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bootstrap the row and KV database files, optionally seeding cc-pairs",
	Long: `migrate opens (and so creates, if absent) the BoltDB-backed row
and KV stores under --data-dir, bringing their bucket schema up to date.
Passing --seed loads a YAML file of cc-pairs and search settings; it
creates each cc-pair whose ID does not already exist, and creates every
listed search settings row on each run (existing search settings are
not checked, so re-running adds them again), for standing up a
development or demo database without an operator UI in front of it.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().String("seed", "", "Path to a YAML seed-data file")
}

// seedFile is the shape of a --seed YAML document. Search settings are
// global (every current or background-reindex-enabled row applies to
// every cc-pair), matching store.BoltStore's ListSearchSettingsForCCPair.
type seedFile struct {
	SearchSettings []seedSearchSettings `yaml:"search_settings"`
	CCPairs        []seedCCPair         `yaml:"cc_pairs"`
}

type seedSearchSettings struct {
	IsCurrent          bool   `yaml:"is_current"`
	BackgroundReindex  bool   `yaml:"background_reindex"`
	EmbeddingModelName string `yaml:"embedding_model_name"`
}

type seedCCPair struct {
	ID           int64 `yaml:"id"`
	ConnectorID  int64 `yaml:"connector_id"`
	CredentialID int64 `yaml:"credential_id"`
}

func runMigrate(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	tenant, _ := cmd.Flags().GetString("tenant")
	seedPath, _ := cmd.Flags().GetString("seed")

	dbs, err := openDatabases(dataDir, tenant)
	if err != nil {
		return fmt.Errorf("open databases: %w", err)
	}
	defer dbs.Close()
	fmt.Printf("✓ Database schema ready under %s (tenant=%s)\n", dataDir, tenant)

	if seedPath == "" {
		return nil
	}

	data, err := os.ReadFile(seedPath)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	settingsCreated := 0
	for _, ssSeed := range seed.SearchSettings {
		if _, err := dbs.Store.CreateSearchSettings(&types.SearchSettings{
			IsCurrent:          ssSeed.IsCurrent,
			BackgroundReindex:  ssSeed.BackgroundReindex,
			EmbeddingModelName: ssSeed.EmbeddingModelName,
			ProviderConfigured: true,
		}); err != nil {
			return fmt.Errorf("seed search settings: %w", err)
		}
		settingsCreated++
	}

	ccPairsCreated := 0
	for _, ccSeed := range seed.CCPairs {
		if _, err := dbs.Store.GetCCPair(ccSeed.ID); err == nil {
			continue
		}
		if err := dbs.Store.CreateCCPair(&types.CCPair{
			ID:           ccSeed.ID,
			ConnectorID:  ccSeed.ConnectorID,
			CredentialID: ccSeed.CredentialID,
			Status:       types.CCPairStatusScheduled,
		}); err != nil {
			return fmt.Errorf("seed cc-pair %d: %w", ccSeed.ID, err)
		}
		ccPairsCreated++
	}

	fmt.Printf("✓ Seeded %d search settings row(s) and %d cc-pair(s) from %s\n", settingsCreated, ccPairsCreated, seedPath)
	return nil
}
