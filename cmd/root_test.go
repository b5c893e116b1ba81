package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"scrape", "status", "records", "runs", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "da-ingest", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestScrapeCommand_Flags(t *testing.T) {
	for _, name := range []string{"from", "to", "range", "fresh"} {
		require.NotNil(t, scrapeCmd.Flags().Lookup(name), "scrape should have --%s", name)
	}
	assert.Equal(t, "false", scrapeCmd.Flags().Lookup("fresh").DefValue)
	assert.Equal(t, "stringArray", scrapeCmd.Flags().Lookup("range").Value.Type())
}

func TestRecordsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range recordsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "export", "import"} {
		assert.True(t, names[name], "expected records subcommand %q not found", name)
	}
}

func TestRecordsListCommand_Flags(t *testing.T) {
	flag := recordsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)

	for _, name := range []string{"category", "decision", "search"} {
		assert.NotNil(t, recordsListCmd.Flags().Lookup(name), "records list should have --%s", name)
	}
}

func TestRunsListCommand_Flags(t *testing.T) {
	flag := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}
