package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"samasika-node/core"
	"samasika-node/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "samasika", Short: "Samasika blockchain node"}
	rootCmd.AddCommand(nodeCmd())
	rootCmd.AddCommand(replayCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) *logrus.Logger {
	lg := logrus.New()
	if lvl, err := logrus.ParseLevel(level); err == nil {
		lg.SetLevel(lvl)
	}
	return lg
}

func nodeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "node"}
	var env string
	var recordDir string
	start := &cobra.Command{
		Use:   "start",
		Short: "start the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := config.Load(env)
			if err != nil {
				return err
			}
			lg := newLogger(file.Logging.Level)
			cfg, err := file.Lower()
			if err != nil {
				return err
			}
			if recordDir != "" {
				cfg.RecordDir = recordDir
			}
			node, err := core.NewNode(cfg, lg)
			if err != nil {
				return err
			}
			defer node.Close()

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigs
				lg.Info("shutting down")
				node.Close()
				os.Exit(0)
			}()
			lg.WithField("node", node.String()).Info("node starting")
			return node.Run()
		},
	}
	start.Flags().StringVar(&env, "env", "", "config overlay name")
	start.Flags().StringVar(&recordDir, "record-dir", "", "record the action log into this directory")
	cmd.AddCommand(start)
	return cmd
}

func replayCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "replay"}
	var dir string
	var verbosity string
	var force bool
	stateWithInput := &cobra.Command{
		Use:   "state-with-input-actions",
		Short: "replay a recording, asserting every effect",
		RunE: func(cmd *cobra.Command, args []string) error {
			lg := newLogger(verbosity)
			rp := core.NewReplayer(dir, lg)
			rp.ForceBuildEnv = force
			report, err := rp.Run(core.CurrentBuildEnv())
			if err != nil {
				lg.WithError(err).Error("replay diverged")
				os.Exit(1)
			}
			lg.WithField("actions", report.TotalActions).
				WithField("hash", report.FinalStateHash.String()).
				Info("replay ok")
			return nil
		},
	}
	stateWithInput.Flags().StringVar(&dir, "dir", "", "recording directory")
	stateWithInput.Flags().StringVar(&verbosity, "verbosity", "info", "log level")
	stateWithInput.Flags().BoolVar(&force, "force-build-env", false, "proceed past a build descriptor mismatch")
	stateWithInput.MarkFlagRequired("dir")
	cmd.AddCommand(stateWithInput)
	return cmd
}
