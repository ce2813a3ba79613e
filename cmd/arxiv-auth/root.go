package main

import (
	"encoding/json"
	"io"

	arxivauth "github.com/arxiv/arxiv-auth"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "arxiv-auth",
		Short:         "arXiv session authentication service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file consulted after the environment")

	root.AddCommand(
		newServeCmd(g),
		newCookieCmd(g),
		newTokenCmd(g),
		newLegacyCmd(g),
		newLoadtestCmd(),
	)
	return root
}

// read returns the unvalidated configuration; subcommands check what they use.
func (g *globalFlags) read() (arxivauth.Config, error) {
	return arxivauth.ReadConfig(g.configPath, g.envFile)
}

func (g *globalFlags) load() (arxivauth.Config, error) {
	return arxivauth.LoadConfig(g.configPath, g.envFile)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
