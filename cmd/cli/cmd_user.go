package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/BathrobeBat/noise-sensor/pkg/database"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "User management commands",
	Long:  `Commands for managing the admin users of the Noise Sensor API.`,
}

var createUserCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new admin user",
	Long:  `Create a new admin user.`,
	RunE:  runCreateUser,
}

var verifyUserCmd = &cobra.Command{
	Use:   "verify <username>",
	Short: "Check the password of a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerifyUser,
}

var createUsername string

func init() {
	createUserCmd.Flags().StringVar(&createUsername, "username", "", "Username (prompted when empty)")

	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(createUserCmd, verifyUserCmd)
}

func runCreateUser(cmd *cobra.Command, args []string) error {
	dbManager, err := getEnvironment(cmd).database()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := dbManager.Init(cmd.Context()); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	username := createUsername
	if username == "" {
		fmt.Print("Enter username: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read username: %w", err)
		}
		username = strings.TrimSpace(line)
	}

	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	// Get password
	fmt.Print("Enter password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println() // New line after password input

	password := string(passwordBytes)
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	// Confirm password
	fmt.Print("Confirm password: ")
	confirmBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("failed to read password confirmation: %w", err)
	}
	fmt.Println() // New line after password input

	if password != string(confirmBytes) {
		return fmt.Errorf("passwords do not match")
	}

	// Create user
	user, err := dbManager.CreateUser(cmd.Context(), username, password)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("User created successfully!\n")
	fmt.Printf("ID: %s\n", user.ID)
	fmt.Printf("Username: %s\n", user.Username)
	fmt.Printf("Created: %s\n", user.CreatedAt.Format("2006-01-02 15:04:05"))

	return nil
}

func runVerifyUser(cmd *cobra.Command, args []string) error {
	dbManager, err := getEnvironment(cmd).database()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	fmt.Print("Enter password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	user, err := dbManager.ValidateUser(cmd.Context(), args[0], string(passwordBytes))
	if errors.Is(err, database.ErrInvalidCredentials) {
		return errors.New("invalid username or password")
	}
	if err != nil {
		return fmt.Errorf("failed to validate user: %w", err)
	}

	fmt.Printf("✓ Credentials valid for %s (%s)\n", user.Username, user.ID)
	return nil
}
