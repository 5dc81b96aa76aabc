package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/suteetoe/lavadero/pkg/password"
)

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Prints the bcrypt hash of a password, read from stdin when not given",
		Long: "Prints the bcrypt hash of a password. Use it to fill SUPER_ADMIN_PASSWORD_HASH.\n" +
			"The password is read from the first line of stdin when no argument is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plain, err := passwordArg(cmd, args)
			if err != nil {
				return err
			}
			hash, err := password.Hash(plain)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newVerifyPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-password <hash> [password]",
		Short: "Checks a password against a bcrypt hash",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			plain, err := passwordArg(cmd, args[1:])
			if err != nil {
				return err
			}
			if !password.Check(plain, args[0]) {
				return errors.New("password does not match")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "password matches")
			return nil
		},
	}
}

func passwordArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return "", errors.New("empty password")
	}
	return line, nil
}
