package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var rootCmd = &cobra.Command{
	Use:   "burnbox",
	Short: "Burnbox CLI",
	Long:  "A CLI for sharing one-time secrets through a burnbox server.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(revealCmd())
	rootCmd.AddCommand(confirmCmd())
	rootCmd.AddCommand(burnCmd())
	rootCmd.AddCommand(statusCmd())
}

// --- create ---

func createCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create [content]",
		Short: "Create a one-time secret",
		Long:  "Create a one-time secret from an argument, a file, or stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			ttl, _ := cmd.Flags().GetInt64("ttl")
			passphrase, _ := cmd.Flags().GetString("passphrase")
			askPass, _ := cmd.Flags().GetBool("ask-passphrase")

			content, err := readContent(args, file)
			if err != nil {
				printError(err.Error())
				return nil
			}
			if askPass {
				passphrase, err = promptPassphrase("Passphrase: ")
				if err != nil {
					printError(err.Error())
					return nil
				}
			}

			client := newClient()
			result, err := client.post("/v1/secrets", map[string]any{
				"content":     content,
				"passphrase":  passphrase,
				"ttl_seconds": ttl,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if id, ok := result["share_id"]; ok {
				result["share_link"] = shareLink(client.addr, id)
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().String("file", "", "Read content from a file ('-' for stdin)")
	cmd.Flags().Int64("ttl", 0, "Lifetime in seconds (0 = server default)")
	cmd.Flags().String("passphrase", "", "Protect the secret with a passphrase")
	cmd.Flags().Bool("ask-passphrase", false, "Prompt for the passphrase without echo")
	return cmd
}

// --- reveal ---

func revealCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reveal <share-id>",
		Short: "Reveal a secret (consumes it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase, _ := cmd.Flags().GetString("passphrase")
			askPass, _ := cmd.Flags().GetBool("ask-passphrase")
			confirm, _ := cmd.Flags().GetBool("confirm")

			if askPass {
				var err error
				passphrase, err = promptPassphrase("Passphrase: ")
				if err != nil {
					printError(err.Error())
					return nil
				}
			}

			client := newClient()
			body := map[string]any{}
			if passphrase != "" {
				body["passphrase"] = passphrase
			}
			result, err := client.post("/v1/secrets/"+args[0]+"/reveal", body)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)

			if confirm {
				if _, err := client.post("/v1/secrets/"+args[0]+"/confirm", nil); err != nil {
					printError("confirm failed: " + err.Error())
					return nil
				}
				fmt.Fprintln(os.Stderr, "Receipt confirmed; the secret is gone.")
			}
			return nil
		},
	}
	cmd.Flags().String("passphrase", "", "Passphrase, if the secret is protected")
	cmd.Flags().Bool("ask-passphrase", false, "Prompt for the passphrase without echo")
	cmd.Flags().Bool("confirm", true, "Confirm receipt immediately after display")
	return cmd
}

// --- confirm ---

func confirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <share-id>",
		Short: "Confirm receipt of a revealed secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.post("/v1/secrets/"+args[0]+"/confirm", nil); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Receipt confirmed.")
			return nil
		},
	}
}

// --- burn ---

func burnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "burn <admin-id>",
		Short: "Destroy a secret before it is viewed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if err := client.delete("/v1/private/" + args[0]); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Secret burned.")
			return nil
		},
	}
}

// --- status ---

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <admin-id>",
		Short: "Show the lifecycle state of a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/private/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

// helpers

func readContent(args []string, file string) (string, error) {
	switch {
	case file == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case len(args) > 0:
		return args[0], nil
	}
	return "", fmt.Errorf("no content: pass an argument or --file")
}

func promptPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		data, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return strings.TrimSpace(scanner.Text()), nil
}
