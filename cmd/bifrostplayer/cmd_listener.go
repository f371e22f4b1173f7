/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/friendsincode/bifrost_player/internal/auth"
	"github.com/friendsincode/bifrost_player/internal/db"
	"github.com/friendsincode/bifrost_player/internal/models"
)

var (
	listenerEmail    string
	listenerName     string
	listenerPassword string
)

var listenerCmd = &cobra.Command{
	Use:   "listener",
	Short: "Manage listener accounts",
}

var listenerAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a listener account",
	Long: `Create a listener account that can log in to the API.

There is no self-service signup; the first account on a fresh install
is created here.

Examples:
  # Prompt for the password on stdin
  bifrostplayer listener add --email you@example.com --name "Living Room"

  # Non-interactive (password on the command line is visible in ps)
  bifrostplayer listener add --email you@example.com --password hunter2
`,
	RunE: runListenerAdd,
}

func init() {
	listenerAddCmd.Flags().StringVar(&listenerEmail, "email", "", "Login email (required)")
	listenerAddCmd.Flags().StringVar(&listenerName, "name", "", "Display name shown to other sessions")
	listenerAddCmd.Flags().StringVar(&listenerPassword, "password", "", "Password (prompted when omitted)")
	_ = listenerAddCmd.MarkFlagRequired("email")
	listenerCmd.AddCommand(listenerAddCmd)
	rootCmd.AddCommand(listenerCmd)
}

func runListenerAdd(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	password := listenerPassword
	if password == "" {
		fmt.Print("Password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return fmt.Errorf("password must not be empty")
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = db.Close(database) }()
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	name := listenerName
	if name == "" {
		name = strings.SplitN(listenerEmail, "@", 2)[0]
	}

	listener := models.Listener{
		ID:          uuid.NewString(),
		Email:       listenerEmail,
		Password:    hashed,
		DisplayName: name,
	}
	if err := database.Create(&listener).Error; err != nil {
		return fmt.Errorf("create listener: %w", err)
	}

	fmt.Printf("Created listener %s (%s)\n", listener.Email, listener.ID)
	return nil
}
