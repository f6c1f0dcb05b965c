// Command guidekit serves the prompt library, PRD and rules generators and
// the documentation guide pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"guidekit/pkg/config"
	"guidekit/pkg/logx"
	"guidekit/pkg/version"
)

// passwordEnv holds the secrets file password for unattended startup.
const passwordEnv = "GUIDEKIT_PASSWORD"

type rootOptions struct {
	configPath string
	projectDir string
	verbose    bool
	cfg        *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "guidekit",
		Short:         "AI developer toolkit: prompts, PRDs, rules files and documentation guides",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: guidekit.yaml in the working directory)")
	root.PersistentFlags().StringVar(&opts.projectDir, "project-dir", ".", "directory holding "+config.ConfigDir+"/")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newIngestCmd(opts),
		newSecretsCmd(opts),
		newUsageCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print build information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "guidekit %s\n", version.String())
			},
		},
	)
	return root
}

// load prepares logging, secrets and configuration for commands that need them.
func (o *rootOptions) load() error {
	if o.verbose {
		logx.SetDebug(true)
	}
	config.LoadDotEnv()

	if config.SecretsFileExists(o.projectDir) {
		password, err := readPassword("Secrets file password: ", false)
		if err != nil {
			return err
		}
		secrets, err := config.DecryptSecretsFile(o.projectDir, password)
		if err != nil {
			return fmt.Errorf("failed to decrypt secrets: %w", err)
		}
		config.SetDecryptedSecrets(secrets)
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	o.cfg = cfg
	return nil
}
