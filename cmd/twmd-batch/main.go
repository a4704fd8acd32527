package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	workDir    string
	rootCmd    = &cobra.Command{
		Use:   "twmd-batch",
		Short: "twmd-batch - batch supervisor for the twmd media downloader",
		Long: `twmd-batch runs twmd once per user directory of a work dir.
Marker files inside each directory record which users are done for the day,
which need a login and which no longer exist, so repeated passes only
download what is still missing.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&workDir, "dir", "", "work dir holding one directory per user")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
