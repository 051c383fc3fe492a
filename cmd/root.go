package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "torrent-streamer",
	Short: "HTTP range streaming server for torrent media",
	Long: `torrent-streamer serves partial-content HTTP responses for media files
whose bytes arrive incrementally from a torrent swarm, holding pieces in a
memory-bounded cache instead of on disk.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}
