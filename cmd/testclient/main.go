package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	serverAddr  string
	providerKey string
	verbose     bool

	logger = logrus.New()
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "testclient",
		Short: "Exercise a fukidashi server over its HTTP API",
		Long: `testclient sends translation, recognition and job requests to a running
fukidashi server and prints the results.

Commands:
  translate   Translate texts given on the command line or in a file
  recognize   Recognize (and optionally translate) the text in an image
  job         Submit, inspect, follow and export asynchronous jobs
  providers   List the server's providers and recognition languages`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logger.SetLevel(logrus.DebugLevel)
			}
		},
	}

	root.PersistentFlags().StringVar(&serverAddr, "addr", "http://localhost:8080", "Server base URL")
	root.PersistentFlags().StringVar(&providerKey, "provider-key", os.Getenv("FUKIDASHI_PROVIDER_KEY"), "Provider API key sent with each request")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	root.AddCommand(
		newTranslateCmd(),
		newRecognizeCmd(),
		newJobCmd(),
		newProvidersCmd(),
	)

	return root
}

func main() {
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := newRootCmd().Execute(); err != nil {
		logger.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}
