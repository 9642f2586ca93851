package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/agentrep/siwa-core/pkg/siwa"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var messageFile string

var messageCmd = &cobra.Command{
	Use:   "message",
	Short: "Work with sign-in messages",
}

var messageSignCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a sign-in message with the agent key",
	Long: `Sign a sign-in message (EIP-191 personal_sign) and print the signature.

The message is read from --file, or from stdin when --file is "-" or empty.
It is signed exactly as read, so pass the "message" field of the /nonce
response without adding a trailing newline.`,
	Example: `  jq -j .message nonce.json | siwa message sign --key agent.key`,
	RunE: func(_ *cobra.Command, _ []string) error {
		key, err := loadAgentKey()
		if err != nil {
			return err
		}

		message, err := readMessage(messageFile)
		if err != nil {
			return err
		}

		sig, err := siwa.SignMessage(key, message)
		if err != nil {
			return err
		}
		fmt.Println(sig)
		return nil
	},
}

var messageRecoverCmd = &cobra.Command{
	Use:   "recover <signature>",
	Short: "Recover the signer address of a signed message",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		message, err := readMessage(messageFile)
		if err != nil {
			return err
		}
		addr, err := siwa.RecoverAddress(message, args[0])
		if err != nil {
			return err
		}
		fmt.Println(addr)
		return nil
	},
}

var messageParseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Parse a sign-in message and print its fields",
	RunE: func(_ *cobra.Command, _ []string) error {
		message, err := readMessage(messageFile)
		if err != nil {
			return err
		}
		m, err := siwa.ParseMessage(message)
		if err != nil {
			return err
		}
		return printJSON(m)
	},
}

func readMessage(path string) (string, error) {
	var r io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("failed to open message: %w", err)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read message: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("message is empty")
	}
	return string(data), nil
}

func agentAddress() (string, error) {
	key, err := loadAgentKey()
	if err != nil {
		return "", err
	}
	return strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()), nil
}

func init() {
	rootCmd.AddCommand(messageCmd)
	messageCmd.AddCommand(messageSignCmd, messageRecoverCmd, messageParseCmd)

	messageCmd.PersistentFlags().StringVar(&messageFile, "file", "", "Message file (default: stdin)")
	messageSignCmd.Flags().StringVar(&agentKeyHex, "key", "", "Agent private key, hex or path to a file (env SIWA_AGENT_KEY)")
}
