package main

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/convograph/pkg/convo/auth"
	"github.com/randalmurphal/convograph/pkg/convo/settings"
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a bearer token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || userID <= 0 {
			return fmt.Errorf("user id must be a positive integer, got %q", args[0])
		}
		cfg, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		jwt, err := auth.NewJWT(cfg.Auth.JWTSecret, auth.WithTTL(cfg.Auth.TokenTTL))
		if err != nil {
			return err
		}
		token, err := jwt.Issue(userID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash a password read from stdin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cost, _ := cmd.Flags().GetInt("cost")
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		password := strings.TrimRight(line, "\r\n")
		if password == "" {
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			return errors.New("password is empty")
		}
		hash, err := auth.BcryptHasher{Cost: cost}.Hash(password)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd, hashPasswordCmd)
	hashPasswordCmd.Flags().Int("cost", settings.Default().Auth.BcryptCost, "bcrypt cost")
}
