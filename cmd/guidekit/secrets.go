package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"guidekit/pkg/config"
)

func newSecretsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the encrypted secrets file",
	}

	var value string
	set := &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret such as OPENAI_API_KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := unlockSecrets(opts.projectDir)
			if err != nil {
				return err
			}
			if value == "" {
				if value, err = readSecretValue(args[0]); err != nil {
					return err
				}
			}
			config.SetSecret(args[0], value)
			if err := config.SaveSecretsToFile(opts.projectDir, password); err != nil {
				return fmt.Errorf("failed to save secrets: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s to %s\n", args[0], config.SecretsFilePath(opts.projectDir))
			return nil
		},
	}
	set.Flags().StringVar(&value, "value", "", "secret value (prompted when omitted)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored secret names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !config.SecretsFileExists(opts.projectDir) {
				fmt.Fprintln(cmd.OutOrStdout(), "no secrets file")
				return nil
			}
			if _, err := unlockSecrets(opts.projectDir); err != nil {
				return err
			}
			for _, name := range config.SecretNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !config.SecretsFileExists(opts.projectDir) {
				return errors.New("no secrets file")
			}
			password, err := unlockSecrets(opts.projectDir)
			if err != nil {
				return err
			}
			config.DeleteSecret(args[0])
			if err := config.SaveSecretsToFile(opts.projectDir, password); err != nil {
				return fmt.Errorf("failed to save secrets: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(set, list, del)
	return cmd
}

// unlockSecrets loads an existing secrets file into memory, or asks for a new
// password when there is none yet.
func unlockSecrets(projectDir string) (string, error) {
	if !config.SecretsFileExists(projectDir) {
		return readPassword("New secrets file password: ", true)
	}
	password, err := readPassword("Secrets file password: ", false)
	if err != nil {
		return "", err
	}
	secrets, err := config.DecryptSecretsFile(projectDir, password)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secrets: %w", err)
	}
	config.SetDecryptedSecrets(secrets)
	return password, nil
}

// readPassword returns GUIDEKIT_PASSWORD when set, otherwise prompts on the terminal.
func readPassword(prompt string, confirm bool) (string, error) {
	if p := os.Getenv(passwordEnv); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("secrets file is locked: set %s or run interactively", passwordEnv)
	}

	fmt.Fprint(os.Stderr, prompt)
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if len(first) == 0 {
		return "", errors.New("password must not be empty")
	}
	if confirm {
		fmt.Fprint(os.Stderr, "Confirm password: ")
		second, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		if string(first) != string(second) {
			return "", errors.New("passwords do not match")
		}
	}
	return string(first), nil
}

func readSecretValue(name string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprintf(os.Stderr, "%s: ", name)
		v, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", name, err)
		}
		return strings.TrimSpace(string(v)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read %s from stdin: %w", name, err)
	}
	return strings.TrimSpace(line), nil
}
